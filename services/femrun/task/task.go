// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package task runs a unit of work asynchronously with lifecycle events,
// cooperative cancellation and a diagnostics report.
//
// # Lifecycle
//
//	Start ─▶ starting ─▶ started ─▶ body (own goroutine) ─▶ completion ─▶ stopping ─▶ stopped
//
// The completion continuation runs once per Start on the same goroutine as
// the body. It records the stop time, clears the running flag, removes the
// task from its Registry and then emits stopping and stopped. Join returns
// after the continuation has finished.
//
// # Failure
//
// A body that panics or returns an error marks the task failed and the
// fault is recorded in the report. A body that returns a context
// cancellation after Abort counts as aborted, not failed. A body that
// leaves an error in the report also marks the task failed.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/femrun/services/femrun/cancel"
	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/report"
)

// Runner is the body of a task.
//
// Run must honour ctx or a handler registered with Task.OnCancel so that
// Abort can stop it.
type Runner interface {
	Run(ctx context.Context, t *Task) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t *Task) error

// Run calls f(ctx, t).
func (f RunnerFunc) Run(ctx context.Context, t *Task) error {
	return f(ctx, t)
}

// Option configures a Task.
type Option func(*Task)

// WithRegistry sets the registry used for duplicate-name detection.
// Default: DefaultRegistry().
func WithRegistry(r *Registry) Option {
	return func(t *Task) {
		if r != nil {
			t.registry = r
		}
	}
}

// WithLogger sets the task logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithKind labels the task in logs, spans and metrics (e.g. "solve").
func WithKind(kind string) Option {
	return func(t *Task) {
		t.kind = kind
	}
}

// WithOutput gives the task an Output buffer, reset on every Start.
func WithOutput() Option {
	return func(t *Task) {
		t.withOutput = true
	}
}

// Task is an asynchronously executed unit of work.
//
// Thread Safety: All methods are safe for concurrent use.
type Task struct {
	name       string
	kind       string
	runner     Runner
	registry   *Registry
	logger     *slog.Logger
	events     *events.Emitter
	output     *Output
	withOutput bool

	mu      sync.Mutex
	running bool
	aborted bool
	failed  bool
	started time.Time
	stopped time.Time
	report  *report.Report
	fault   error
	token   *cancel.Token
	done    chan struct{}
}

// New creates a task.
//
// # Inputs
//
//   - name: Registry identity. Empty means the task is never registered
//     and may run concurrently with other unnamed tasks.
//   - runner: The body. Must not be nil.
//   - opts: Optional configuration.
func New(name string, runner Runner, opts ...Option) *Task {
	t := &Task{
		name:     name,
		kind:     "task",
		runner:   runner,
		registry: DefaultRegistry(),
		logger:   slog.Default(),
		report:   report.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	source := name
	if source == "" {
		source = t.kind
	}
	t.events = events.NewEmitter(events.WithSource(source), events.WithLogger(t.logger))
	if t.withOutput {
		t.output = newOutput(t.events)
	}
	return t
}

// Name returns the registry identity, possibly empty.
func (t *Task) Name() string { return t.name }

// Kind returns the task label.
func (t *Task) Kind() string { return t.kind }

// Events returns the task's notification bus.
func (t *Task) Events() *events.Emitter { return t.events }

// Output returns the solve output buffer, nil for tasks without one.
func (t *Task) Output() *Output { return t.output }

// Subscribe is shorthand for Events().Subscribe.
func (t *Task) Subscribe(handler events.Handler, types ...events.Type) string {
	return t.events.Subscribe(handler, types...)
}

// Start launches the body on its own goroutine.
//
// # Description
//
// Start resets the report, flags, timestamps and output, registers the
// task, emits starting and started synchronously, and then launches the
// body. The body's context derives from ctx; cancelling ctx cancels the
// body's context but does not mark the task aborted.
//
// # Outputs
//
//   - error: *DuplicateTaskError if a task with the same name is running,
//     ErrAlreadyRunning if this task has not finished its previous run.
func (t *Task) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	initMetrics(t.logger)

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("start %s: %w", t.label(), ErrAlreadyRunning)
	}
	if err := t.registry.add(t); err != nil {
		t.mu.Unlock()
		return err
	}
	t.running = true
	t.aborted = false
	t.failed = false
	t.fault = nil
	t.started = time.Now()
	t.stopped = time.Time{}
	t.report = report.New()
	t.token = cancel.NewToken(ctx)
	t.done = make(chan struct{})
	if t.output != nil {
		t.output.reset()
	}
	token, done := t.token, t.done
	t.mu.Unlock()

	if activeTasks != nil {
		activeTasks.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", t.kind)))
	}
	t.events.Emit(events.TypeStarting, nil)
	t.events.Emit(events.TypeStarted, nil)

	go t.execute(token.Context(), token, done)
	return nil
}

// Run starts the task and waits for it.
func (t *Task) Run(ctx context.Context) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	t.Join()
	return nil
}

// Join blocks until the body and the completion continuation of the most
// recent Start have finished. It returns immediately for a task that was
// never started. Do not call Join from a stopping or stopped handler of
// the same task.
func (t *Task) Join() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Wait is Join bounded by ctx.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort requests cooperative cancellation.
//
// # Description
//
// Sets the aborted flag and emits abort. While the task is running the
// cancellation token is cancelled: the body's context is cancelled and
// every OnCancel handler runs, exactly once per Start no matter how many
// times Abort is called.
func (t *Task) Abort() {
	t.mu.Lock()
	t.aborted = true
	token := t.token
	running := t.running
	t.mu.Unlock()

	t.events.Emit(events.TypeAbort, nil)
	if token != nil && running {
		token.Cancel("abort requested")
	}
}

// Fail marks the task failed.
func (t *Task) Fail() {
	t.mu.Lock()
	t.failed = true
	t.mu.Unlock()
}

// OnCancel registers fn to run when the current run is aborted. Returns a
// handle for RemoveOnCancel, or zero when the task has never started or
// fn already ran.
func (t *Task) OnCancel(fn func()) uint64 {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()
	if token == nil {
		return 0
	}
	return token.Register(fn)
}

// RemoveOnCancel removes a handler registered with OnCancel.
func (t *Task) RemoveOnCancel(id uint64) bool {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()
	if token == nil || id == 0 {
		return false
	}
	return token.Deregister(id)
}

// Running reports whether the task is between Start and completion.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Aborted reports whether Abort was called during the current or last run.
func (t *Task) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Failed reports whether the current or last run failed.
func (t *Task) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Report returns the report of the current or last run.
func (t *Task) Report() *report.Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}

// Fault returns the error or panic that failed the last run, if any.
func (t *Task) Fault() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fault
}

// StartTime returns when the current or last run started.
func (t *Task) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// StopTime returns when the last run finished, zero while running.
func (t *Task) StopTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Elapsed returns the duration of the last run, or the time since start
// while running.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.started.IsZero():
		return 0
	case t.running:
		return time.Since(t.started)
	default:
		return t.stopped.Sub(t.started)
	}
}

func (t *Task) label() string {
	if t.name != "" {
		return t.name
	}
	return t.kind
}

func (t *Task) execute(ctx context.Context, token *cancel.Token, done chan struct{}) {
	ctx, span := tracer.Start(ctx, "femrun.task."+t.kind,
		trace.WithAttributes(
			attribute.String("task.name", t.name),
			attribute.String("task.kind", t.kind),
		),
	)
	defer t.complete(ctx, span, token, done)

	err := t.invoke(ctx)
	if err != nil {
		if t.Aborted() && errors.Is(err, context.Canceled) {
			t.logger.Debug("task body returned after abort", "task", t.label(), "error", err)
		} else {
			t.recordFault(err)
		}
	}
	if !t.Report().IsValid() {
		t.Fail()
	}
}

func (t *Task) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Task: t.label(), Value: r, Stack: debug.Stack()}
		}
	}()
	return t.runner.Run(ctx, t)
}

func (t *Task) recordFault(err error) {
	t.mu.Lock()
	t.fault = err
	t.failed = true
	rep := t.report
	t.mu.Unlock()

	rep.Error(report.KeyTaskFault, t.label(), err)
	attrs := []any{"task", t.label(), "error", err}
	var fe *FaultError
	if errors.As(err, &fe) {
		attrs = append(attrs, "stack", string(fe.Stack))
	}
	t.logger.Error("task fault", attrs...)
}

// complete is the completion continuation. It runs exactly once per Start.
func (t *Task) complete(ctx context.Context, span trace.Span, token *cancel.Token, done chan struct{}) {
	t.mu.Lock()
	t.stopped = time.Now()
	t.running = false
	elapsed := t.stopped.Sub(t.started)
	failed, aborted, fault := t.failed, t.aborted, t.fault
	t.mu.Unlock()

	t.registry.remove(t)
	token.Release()

	kindAttr := metric.WithAttributes(attribute.String("kind", t.kind))
	if taskDuration != nil {
		taskDuration.Record(ctx, elapsed.Seconds(), kindAttr)
	}
	if activeTasks != nil {
		activeTasks.Add(ctx, -1, kindAttr)
	}
	switch {
	case failed:
		if taskFailures != nil {
			taskFailures.Add(ctx, 1, kindAttr)
		}
		if fault != nil {
			span.RecordError(fault)
		}
		span.SetStatus(codes.Error, "task failed")
	case aborted:
		if taskAborts != nil {
			taskAborts.Add(ctx, 1, kindAttr)
		}
		span.SetStatus(codes.Error, "task aborted")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Bool("task.failed", failed),
		attribute.Bool("task.aborted", aborted),
	)
	span.End()

	t.logger.Debug("task finished",
		slog.String("task", t.label()),
		slog.Duration("elapsed", elapsed),
		slog.Bool("failed", failed),
		slog.Bool("aborted", aborted),
	)

	t.events.Emit(events.TypeStopping, nil)
	t.events.Emit(events.TypeStopped, nil)
	close(done)
}
