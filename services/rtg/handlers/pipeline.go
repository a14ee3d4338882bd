// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReportForge/services/rtg/compiler"
	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/observability"
	"github.com/AleutianAI/ReportForge/services/rtg/submitter"
)

// CompileTemplate resolves a template body against the scoped dataset
// without touching any provider. Always 200 on a bound request: data
// problems degrade to warnings, never errors.
func CompileTemplate(comp *compiler.Compiler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CompileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result := comp.Compile(c.Request.Context(), req)

		if m := observability.DefaultMetrics; m != nil {
			m.CompilesTotal.WithLabelValues("success").Inc()
			for _, w := range result.Warnings {
				m.CompileWarningsTotal.WithLabelValues(w.Code).Inc()
			}
		}
		c.JSON(http.StatusOK, result)
	}
}

// SubmitReport runs the full pipeline: compile, prompt extraction,
// provider call, persistence.
func SubmitReport(sub *submitter.Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		result, err := sub.Submit(c.Request.Context(), req)

		provider := req.Provider
		if provider == "" {
			provider = "default"
		}
		if m := observability.DefaultMetrics; m != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.SubmitsTotal.WithLabelValues(provider, status).Inc()
			m.SubmitDurationSeconds.WithLabelValues(provider).Observe(time.Since(start).Seconds())
			if err == nil && result.Persisted {
				m.ReportsPersistedTotal.Inc()
			}
		}

		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
