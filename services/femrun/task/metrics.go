// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("femrun.task")
	meter  = otel.Meter("femrun.task")
)

var (
	metricsOnce  sync.Once
	taskDuration metric.Float64Histogram
	taskFailures metric.Int64Counter
	taskAborts   metric.Int64Counter
	activeTasks  metric.Int64UpDownCounter
)

// initMetrics creates the task instruments once per process. Creation
// errors degrade observability but never stop a task.
func initMetrics(logger *slog.Logger) {
	metricsOnce.Do(func() {
		var initErrors []string
		var err error

		taskDuration, err = meter.Float64Histogram("femrun_task_duration_seconds",
			metric.WithDescription("Wall time of each task run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_duration: "+err.Error())
		}

		taskFailures, err = meter.Int64Counter("femrun_task_failures_total",
			metric.WithDescription("Task runs that ended failed"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_failures: "+err.Error())
		}

		taskAborts, err = meter.Int64Counter("femrun_task_aborts_total",
			metric.WithDescription("Task runs that ended aborted"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_aborts: "+err.Error())
		}

		activeTasks, err = meter.Int64UpDownCounter("femrun_tasks_active",
			metric.WithDescription("Tasks currently running"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_tasks: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some task metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
