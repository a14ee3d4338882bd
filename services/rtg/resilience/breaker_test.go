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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

var errBackend = errors.New("connection refused")

// fakeClock drives a breaker deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func fail() error { return errBackend }

func ok() error { return nil }

func newTestBreaker(config BreakerConfig) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker("openai", config)
	clock := newClock()
	cb.now = clock.now
	return cb, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(fail), errBackend)
		assert.Equal(t, CircuitClosed, cb.State())
	}

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestBreaker_OpenRejectsWithNextAttempt(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	require.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ok)
	var open *rtgerr.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "openai", open.Provider)
	assert.Equal(t, clock.t.Add(30*time.Second), open.NextAttempt)
}

func TestBreaker_HalfOpenTrialClosesOnSuccess(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	require.Error(t, cb.Execute(fail))
	clock.advance(31 * time.Second)

	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, CircuitClosed, cb.State())

	// History is cleared: one new failure does not accumulate with the
	// pre-open ones beyond the fresh count.
	cb2, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 30 * time.Second})
	require.Error(t, cb2.Execute(fail))
	require.NoError(t, cb2.Execute(ok))
	require.Error(t, cb2.Execute(fail))
	assert.Equal(t, CircuitClosed, cb2.State(), "success cleared the earlier failure")
}

func TestBreaker_HalfOpenTrialReopensOnFailure(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	require.Error(t, cb.Execute(fail))
	clock.advance(31 * time.Second)

	require.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, CircuitOpen, cb.State())

	// A fresh recovery timeout applies from the failed trial.
	var open *rtgerr.CircuitOpenError
	require.ErrorAs(t, cb.Execute(ok), &open)
	assert.Equal(t, clock.t.Add(30*time.Second), open.NextAttempt)
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	require.Error(t, cb.Execute(fail))
	clock.advance(31 * time.Second)

	// Hold the trial call open and race a second caller against it.
	started := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var open *rtgerr.CircuitOpenError
	err := cb.Execute(ok)
	require.ErrorAs(t, err, &open, "second caller is rejected while the trial is pending")

	close(release)
	require.NoError(t, <-trialDone)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Execute(ok), "admission resumes once the trial closes the circuit")
}

func TestBreaker_WindowPrunesOldFailures(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		MonitoringPeriod: 60 * time.Second,
	})

	require.Error(t, cb.Execute(fail))
	require.Error(t, cb.Execute(fail))

	// The first two age out of the window before the third arrives.
	clock.advance(61 * time.Second)
	require.Error(t, cb.Execute(fail))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})

	require.Error(t, cb.Execute(fail))
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Execute(ok))
}

func TestRegistry_PerProviderDefaults(t *testing.T) {
	r := NewRegistry()

	openai := r.Get("openai")
	ollama := r.Get("ollama")

	assert.Same(t, openai, r.Get("openai"), "one breaker per provider")
	assert.NotSame(t, openai, ollama)

	assert.Equal(t, 3, openai.config.FailureThreshold)
	assert.Equal(t, 30*time.Second, openai.config.RecoveryTimeout)
	assert.Equal(t, 2, ollama.config.FailureThreshold)
	assert.Equal(t, 60*time.Second, ollama.config.RecoveryTimeout)

	states := r.States()
	assert.Equal(t, CircuitClosed, states["openai"])
	assert.Equal(t, CircuitClosed, states["ollama"])
}
