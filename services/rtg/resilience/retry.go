// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

// RetryConfig controls the bounded exponential backoff applied around a
// provider call. Delay for attempt n is min(BaseDelay*Factor^(n-1),
// MaxDelay) plus up to JitterFraction of random spread.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Factor         float64
	MaxDelay       time.Duration
	JitterFraction float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means DefaultShouldRetry.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns the standard provider-call retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		Factor:         2,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
	}
}

// retryableStatusRe matches the transient HTTP status codes provider
// errors carry in their message text.
var retryableStatusRe = regexp.MustCompile(`\b(429|502|503|504)\b`)

// DefaultShouldRetry retries only errors that look transient: network,
// timeout and connection failures, throttling and server-side HTTP
// statuses, and rate-limit or server-error provider messages. Anything
// else, including authentication and validation failures, fails on the
// first attempt.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var open *rtgerr.CircuitOpenError
	switch {
	case errors.As(err, &open):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "network"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"):
		return true
	case retryableStatusRe.MatchString(msg):
		return true
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "internal error"):
		return true
	case strings.Contains(msg, "ollama") && strings.Contains(msg, "unavailable"):
		return true
	}
	return false
}

// WithRetry runs fn up to config.MaxAttempts times with exponential
// backoff between attempts. Non-retryable errors return as-is
// immediately; exhausting the attempts returns a
// rtgerr.RetryExhaustedError wrapping the last failure. The backoff
// sleep respects ctx.
func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.Factor <= 1 {
		config.Factor = 2
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	shouldRetry := config.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var lastErr error
	delay := config.BaseDelay
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts {
			break
		}

		sleep := delay
		if config.JitterFraction > 0 {
			sleep += time.Duration(rand.Float64() * config.JitterFraction * float64(delay))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return &rtgerr.RetryExhaustedError{Attempts: config.MaxAttempts, LastErr: lastErr}
}
