// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps outbound provider calls in a circuit breaker
// and bounded retry so one flapping backend cannot stall the whole
// report pipeline.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

// CircuitState represents the state of a circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failures in window]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[success]◄── HALF_OPEN ◄──┘
//	                    [recovery timeout]
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the circuit has tripped and requests are rejected.
	CircuitOpen

	// CircuitHalfOpen means a single trial request is probing recovery.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BreakerConfig configures circuit breaker behavior. Failures are
// counted over a sliding window rather than consecutively: a slow drip
// of failures inside MonitoringPeriod trips the breaker the same as a
// burst.
type BreakerConfig struct {
	// FailureThreshold is the number of failures inside MonitoringPeriod
	// that opens the circuit. Default: 3
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a
	// half-open trial is allowed. Default: 30 seconds
	RecoveryTimeout time.Duration

	// MonitoringPeriod is the sliding window failures are counted over.
	// Default: 60 seconds
	MonitoringPeriod time.Duration

	// OnStateChange is called on transitions, asynchronously so a slow
	// listener cannot block the caller.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns the defaults used for unknown providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: 60 * time.Second,
	}
}

// ProviderBreakerConfig returns the tuned config for a known provider.
// Local providers trip faster but also recover slower, since a local
// runtime that just fell over tends to stay down for a while.
func ProviderBreakerConfig(provider string) BreakerConfig {
	switch provider {
	case "openai":
		return BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, MonitoringPeriod: 60 * time.Second}
	case "ollama":
		return BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 60 * time.Second, MonitoringPeriod: 30 * time.Second}
	default:
		return DefaultBreakerConfig()
	}
}

// CircuitBreaker implements the circuit breaker pattern with a sliding
// failure window. Safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    []time.Time
	nextAttempt time.Time
	// halfOpenInFlight marks the single admitted trial call; further
	// callers are rejected until its result lands.
	halfOpenInFlight bool
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state. Zero config
// fields take defaults.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = 60 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// While open it rejects immediately with rtgerr.CircuitOpenError; the
// wrapped call's own error passes through otherwise.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}
	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitHalfOpen:
		// One trial at a time; concurrent callers wait out the pending
		// probe.
		if cb.halfOpenInFlight {
			return &rtgerr.CircuitOpenError{Provider: cb.name, NextAttempt: cb.nextAttempt}
		}
		cb.halfOpenInFlight = true
		return nil
	case CircuitOpen:
		if cb.now().Before(cb.nextAttempt) {
			return &rtgerr.CircuitOpenError{Provider: cb.name, NextAttempt: cb.nextAttempt}
		}
		cb.transitionTo(CircuitHalfOpen)
		cb.halfOpenInFlight = true
		return nil
	default:
		return &rtgerr.CircuitOpenError{Provider: cb.name, NextAttempt: cb.nextAttempt}
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.halfOpenInFlight = false

	if err == nil {
		// Success clears the failure history entirely; in half-open it
		// also closes the circuit.
		cb.failures = cb.failures[:0]
		if cb.state != CircuitClosed {
			cb.transitionTo(CircuitClosed)
		}
		return
	}

	now := cb.now()
	cb.failures = append(cb.failures, now)
	cb.pruneLocked(now)

	switch cb.state {
	case CircuitClosed:
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.trip(now)
		}
	case CircuitHalfOpen:
		// A failed trial reopens immediately with a fresh timeout.
		cb.trip(now)
	}
}

// pruneLocked drops failures older than the monitoring window. Caller
// holds cb.mu.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.MonitoringPeriod)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.nextAttempt = now.Add(cb.config.RecoveryTimeout)
	cb.transitionTo(CircuitOpen)
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, old, state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit closed and clears the failure history. Use
// when the backend has been fixed externally.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.halfOpenInFlight = false
	cb.transitionTo(CircuitClosed)
}

// Registry manages one circuit breaker per provider, creating them on
// demand with per-provider tuned configs. Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	breakers      map[string]*CircuitBreaker
	onStateChange func(name string, from, to CircuitState)
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// OnStateChange installs a transition hook applied to every breaker the
// registry creates afterwards. Call before the first Get.
func (r *Registry) OnStateChange(fn func(name string, from, to CircuitState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
}

// Get returns the breaker for a provider, creating it if needed.
func (r *Registry) Get(provider string) *CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[provider]
	r.mu.RUnlock()
	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = r.breakers[provider]; exists {
		return cb
	}
	config := ProviderBreakerConfig(provider)
	config.OnStateChange = r.onStateChange
	cb = NewCircuitBreaker(provider, config)
	r.breakers[provider] = cb
	return cb
}

// GetWithConfig returns the breaker for a provider, creating it with a
// custom config if it does not exist yet.
func (r *Registry) GetWithConfig(provider string, config BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, exists := r.breakers[provider]; exists {
		return cb
	}
	cb := NewCircuitBreaker(provider, config)
	r.breakers[provider] = cb
	return cb
}

// States returns the current state of every registered breaker.
func (r *Registry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]CircuitState, len(r.breakers))
	for name, cb := range r.breakers {
		result[name] = cb.State()
	}
	return result
}

// ResetAll resets every registered breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
