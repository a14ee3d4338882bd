// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/ReportForge/services/rtg/compiler"
	"github.com/AleutianAI/ReportForge/services/rtg/handlers"
	"github.com/AleutianAI/ReportForge/services/rtg/middleware"
	"github.com/AleutianAI/ReportForge/services/rtg/resilience"
	"github.com/AleutianAI/ReportForge/services/rtg/scheduler"
	"github.com/AleutianAI/ReportForge/services/rtg/store"
	"github.com/AleutianAI/ReportForge/services/rtg/submitter"
)

// Deps bundles everything the route table needs.
type Deps struct {
	Templates *store.TemplateStore
	Reports   *store.ReportStore
	Compiler  *compiler.Compiler
	Submitter *submitter.Submitter
	Scheduler *scheduler.Scheduler
	Breakers  *resilience.Registry
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(middleware.CORS())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/rtg")
	{
		templates := api.Group("/templates")
		{
			templates.POST("", handlers.CreateTemplate(deps.Templates))
			templates.GET("", handlers.ListTemplates(deps.Templates))
			templates.GET("/:id", handlers.GetTemplate(deps.Templates))
			templates.PUT("/:id", handlers.UpdateTemplate(deps.Templates))
			templates.DELETE("/:id", handlers.DeleteTemplate(deps.Templates))
			templates.GET("/:id/versions", handlers.ListTemplateVersions(deps.Templates))
			templates.GET("/:id/versions/:version", handlers.GetTemplateVersion(deps.Templates))
			templates.GET("/:id/reports", handlers.ListTemplateReports(deps.Templates, deps.Reports))
		}

		api.POST("/compile", handlers.CompileTemplate(deps.Compiler))
		api.POST("/submit", handlers.SubmitReport(deps.Submitter))

		schedules := api.Group("/schedules")
		{
			schedules.POST("", handlers.CreateSchedule(deps.Scheduler))
			schedules.GET("", handlers.ListSchedules(deps.Scheduler))
			schedules.GET("/:id", handlers.GetSchedule(deps.Scheduler))
			schedules.PUT("/:id", handlers.UpdateSchedule(deps.Scheduler))
			schedules.DELETE("/:id", handlers.DeleteSchedule(deps.Scheduler))
			schedules.POST("/:id/trigger", handlers.TriggerSchedule(deps.Scheduler))
		}

		// Operator visibility into provider circuit breakers.
		api.GET("/breakers", handlers.BreakerStates(deps.Breakers))
	}
}
