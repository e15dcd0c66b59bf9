// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package argmend

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all argmend routes with the router.
//
// Description:
//
//	Registers all /v1/argmend/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Normalization Endpoints:
//
//	POST /v1/argmend/normalize - Normalize one tool call
//	POST /v1/argmend/normalize/batch - Normalize independent calls concurrently
//
// Registry Endpoints:
//
//	GET  /v1/argmend/tools - List registered tools
//	GET  /v1/argmend/tools/:name - Describe one tool
//
// Health Endpoints:
//
//	GET  /v1/argmend/health - Health check
//
// Example:
//
//	engine := argmend.NewEngine(rules.MustDefault())
//	handlers := argmend.NewHandlers(engine, argmend.DefaultServiceConfig())
//
//	v1 := router.Group("/v1")
//	argmend.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	am := rg.Group("/argmend")
	{
		am.POST("/normalize", handlers.HandleNormalize)
		am.POST("/normalize/batch", handlers.HandleNormalizeBatch)

		am.GET("/tools", handlers.HandleGetTools)
		am.GET("/tools/:name", handlers.HandleGetTool)

		am.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the full service router: recovery, tracing middleware,
// the /v1/argmend routes and GET /metrics.
func NewRouter(handlers *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
