// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/femrun/pkg/ux"
	"github.com/AleutianAI/femrun/services/femrun"
	"github.com/AleutianAI/femrun/services/femrun/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	var port int
	var watch, debug bool
	cmd := &cobra.Command{
		Use:   "serve [document...]",
		Short: "Serve the HTTP control API",
		Long: `Starts the HTTP API under /v1/femrun and, when Prometheus metrics are
enabled, /metrics. Documents given as arguments are opened at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = c.cfg.Server.Port
			}
			return c.serve(cmd, args, port, watch, debug)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload opened documents when they change on disk")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode and request logging")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, docs []string, port int, watch, debug bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = femrun.ServiceVersion
	tcfg.TraceExporter = c.cfg.Telemetry.Traces
	tcfg.MetricExporter = c.cfg.Telemetry.Metrics
	if c.cfg.Telemetry.Endpoint != "" {
		tcfg.OTLPEndpoint = c.cfg.Telemetry.Endpoint
	}
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			c.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := c.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, path := range docs {
		if _, err := a.svc.OpenDocument(path, watch); err != nil {
			return err
		}
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	var metrics http.Handler
	if tcfg.MetricExporter == "prometheus" {
		metrics = telemetry.MetricsHandler()
	}
	var middleware []gin.HandlerFunc
	if debug {
		middleware = append(middleware, gin.Logger())
	}
	router := femrun.NewRouter(a.svc, metrics, middleware...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	auth := "off"
	if c.cfg.Server.Token != "" {
		auth = "bearer token"
	}
	_ = ux.NewPrinter(cmd.ErrOrStderr(), c.styled(cmd)).Box("femrun serve", fmt.Sprintf(
		"api       http://localhost%s/v1/femrun\nmetrics   %t\nauth      %s\ndocuments %d",
		srv.Addr, metrics != nil, auth, len(docs)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Info("starting femrun server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutting down femrun server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
