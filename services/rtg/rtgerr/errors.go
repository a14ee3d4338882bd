// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rtgerr defines the error taxonomy shared across the RTG
// pipeline. The HTTP layer maps these onto status codes; everything that
// is not one of these surfaces as a plain 500.
package rtgerr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for store and pipeline lookups.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Warning codes carried inline on compiled documents.
const (
	CodeUnknownTokens = "UNKNOWN_TOKENS"
	CodePartialData   = "PARTIAL_DATA"
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// CircuitOpenError is returned immediately when a provider's breaker is
// open and the recovery timeout has not yet elapsed. It is distinct from
// the wrapped call's own failures so callers can fail fast.
type CircuitOpenError struct {
	Provider    string
	NextAttempt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is OPEN for %s; next retry at %s",
		e.Provider, e.NextAttempt.UTC().Format(time.RFC3339))
}

// RetryExhaustedError aggregates a retry loop that ran out of attempts.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap exposes the last underlying cause.
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// TimeoutError marks a call that hit its hard wall-clock deadline. The
// remote side may still be processing; callers must treat this as a
// failure, never as success-in-flight.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}
