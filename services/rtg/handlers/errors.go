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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
	"github.com/AleutianAI/ReportForge/services/rtg/scheduler"
)

// respondError maps the pipeline error taxonomy onto HTTP status codes.
// Anything outside the taxonomy is a plain 500 with the detail kept in
// the logs, not the response.
func respondError(c *gin.Context, err error) {
	var validation *rtgerr.ValidationError
	var open *rtgerr.CircuitOpenError
	var exhausted *rtgerr.RetryExhaustedError
	var timeout *rtgerr.TimeoutError

	switch {
	case errors.Is(err, rtgerr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, rtgerr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &open):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": open.Error()})
	case errors.As(err, &exhausted):
		c.JSON(http.StatusBadGateway, gin.H{"error": exhausted.Error()})
	case errors.As(err, &timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": timeout.Error()})
	case errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrConcurrencyLimit):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
