// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package femrun

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/femrun/pkg/validation"
)

var registerTags sync.Once

// registerBindingTags adds the custom request tags to gin's validator.
func registerBindingTags() {
	registerTags.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := validation.RegisterEntityName(v); err != nil {
			slog.Error("register binding tag", "tag", validation.EntityNameTag, "error", err)
		}
	})
}

// RegisterRoutes registers all /v1/femrun/* endpoints.
//
// Endpoints:
//
//	GET  /v1/femrun/health            - Health check
//	GET  /v1/femrun/documents         - List open documents
//	POST /v1/femrun/documents         - Open a saved document
//	GET  /v1/femrun/machines          - Machine statuses
//	POST /v1/femrun/machines/run      - Run a machine to a target stage
//	POST /v1/femrun/machines/abort    - Abort a running machine
//	POST /v1/femrun/machines/reset    - Move a machine back to a stage
//	GET  /v1/femrun/machines/output   - Console output of the last solve
//	GET  /v1/femrun/machines/stream   - Live output and stage changes (websocket)
//	GET  /v1/femrun/history           - Recorded runs
//
// Example:
//
//	svc := femrun.NewService(femrun.ServiceConfig{Settings: cfg})
//	v1 := router.Group("/v1")
//	femrun.RegisterRoutes(v1, femrun.NewHandlers(svc))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	registerBindingTags()

	fr := rg.Group("/femrun")
	{
		fr.GET("/health", handlers.HandleHealth)

		fr.Use(handlers.authenticate)
		fr.GET("/documents", handlers.HandleListDocuments)
		fr.POST("/documents", handlers.HandleOpenDocument)

		machines := fr.Group("/machines")
		{
			machines.GET("", handlers.HandleListMachines)
			machines.POST("/run", handlers.HandleRun)
			machines.POST("/abort", handlers.HandleAbort)
			machines.POST("/reset", handlers.HandleReset)
			machines.GET("/output", handlers.HandleOutput)
			machines.GET("/stream", handlers.HandleStream)
		}

		fr.GET("/history", handlers.HandleHistory)
	}
}

// NewRouter builds the engine used by `femrun serve`: recovery, tracing
// middleware, extra middleware, the API routes and an optional metrics
// endpoint.
func NewRouter(svc *Service, metrics http.Handler, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("femrun"))
	router.Use(middleware...)

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
