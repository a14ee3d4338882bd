// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

// fakeRunner counts submissions and can block until released.
type fakeRunner struct {
	mu       sync.Mutex
	calls    int32
	err      error
	errFor   map[string]error
	release  chan struct{}
	last     datatypes.SubmitRequest
	requests []datatypes.SubmitRequest
}

func (r *fakeRunner) Submit(_ context.Context, req datatypes.SubmitRequest) (*datatypes.SubmitResult, error) {
	atomic.AddInt32(&r.calls, 1)
	r.mu.Lock()
	r.last = req
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	if err := r.errFor[req.Filters.ResolveProjectID()]; err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return &datatypes.SubmitResult{Output: "report output"}, nil
}

func newTestScheduler(runner ReportRunner, config Config) *Scheduler {
	logger := slog.New(slog.DiscardHandler)
	return NewScheduler(runner, NewDeliverer(logger), config, logger)
}

func TestAdd_RejectsBadCron(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, DefaultSchedulerConfig())

	_, err := s.Add(Schedule{CronExpression: "not a cron", Content: "x"})

	var validation *rtgerr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "cron_expression", validation.Field)
}

func TestAdd_ComputesNextRunAndDefaults(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, DefaultSchedulerConfig())
	s.now = func() time.Time { return time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC) }

	sched, err := s.Add(Schedule{CronExpression: "0 9 * * 1", Content: "x", Enabled: true})

	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.NotEmpty(t, sched.Name)
	// Monday 2025-06-02 08:30 -> same day 09:00.
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), sched.NextRun)
}

func TestCRUDRoundTrip(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, DefaultSchedulerConfig())

	sched, err := s.Add(Schedule{Name: "weekly", CronExpression: "0 9 * * 1", Content: "x"})
	require.NoError(t, err)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "weekly", got.Name)
	assert.False(t, got.IsRunning)

	name := "weekly v2"
	enabled := true
	updated, err := s.Update(sched.ID, ScheduleUpdate{Name: &name, Enabled: &enabled})
	require.NoError(t, err)
	assert.Equal(t, "weekly v2", updated.Name)
	assert.True(t, updated.Enabled)

	assert.Len(t, s.List(), 1)

	require.NoError(t, s.Remove(sched.ID))
	_, err = s.Get(sched.ID)
	assert.ErrorIs(t, err, rtgerr.ErrNotFound)
	assert.ErrorIs(t, s.Remove(sched.ID), rtgerr.ErrNotFound)
}

func TestTrigger_RunsAndRecordsOutcome(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(runner, DefaultSchedulerConfig())

	sched, err := s.Add(Schedule{
		CronExpression: "0 9 * * 1",
		Content:        "PROMPT go",
		TemplateID:     "tpl-1",
		Filters:        &datatypes.Filters{ProjectUUID: "p1"},
	})
	require.NoError(t, err)

	run, err := s.Trigger(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, "report output", run.Output)

	runner.mu.Lock()
	assert.Equal(t, "tpl-1", runner.last.TemplateID)
	assert.Equal(t, "p1", runner.last.Filters.ProjectUUID)
	runner.mu.Unlock()

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.NotNil(t, got.LastRun)
	assert.Empty(t, got.LastError)
}

func TestTrigger_FailureRecorded(t *testing.T) {
	runner := &fakeRunner{err: errors.New("provider down")}
	s := newTestScheduler(runner, DefaultSchedulerConfig())

	sched, err := s.Add(Schedule{CronExpression: "0 9 * * 1", Content: "x"})
	require.NoError(t, err)

	_, err = s.Trigger(context.Background(), sched.ID)
	require.Error(t, err)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, "provider down", got.LastError)
}

func TestTrigger_BatchRunsPerProject(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(runner, DefaultSchedulerConfig())

	sched, err := s.Add(Schedule{
		CronExpression: "0 9 * * 1",
		Content:        "PROMPT go",
		TemplateID:     "tpl-1",
		ProjectIDs:     []string{"p1", "p2", "p3"},
		Filters:        &datatypes.Filters{Author: "alice"},
	})
	require.NoError(t, err)

	run, err := s.Trigger(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 3, run.Reports)

	runner.mu.Lock()
	require.Len(t, runner.requests, 3)
	var projects []string
	for _, req := range runner.requests {
		projects = append(projects, req.Filters.ProjectUUID)
		assert.Equal(t, "alice", req.Filters.Author, "schedule filters carry into each submission")
		assert.Equal(t, "tpl-1", req.TemplateID)
	}
	runner.mu.Unlock()
	assert.Equal(t, []string{"p1", "p2", "p3"}, projects)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RunCount, "a batch counts as one run")
	assert.Equal(t, 1, got.SuccessCount)
}

func TestTrigger_BatchPartialFailureStillSucceeds(t *testing.T) {
	runner := &fakeRunner{errFor: map[string]error{"p2": errors.New("provider down")}}
	s := newTestScheduler(runner, DefaultSchedulerConfig())

	sched, err := s.Add(Schedule{
		CronExpression: "0 9 * * 1",
		Content:        "x",
		ProjectIDs:     []string{"p1", "p2", "p3"},
	})
	require.NoError(t, err)

	run, err := s.Trigger(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Reports, "failing project is skipped, not fatal")

	// Only when every project fails does the run fail.
	runner.errFor["p1"] = errors.New("provider down")
	runner.errFor["p3"] = errors.New("provider down")
	_, err = s.Trigger(context.Background(), sched.ID)
	require.Error(t, err)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RunCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
}

func TestTrigger_UnknownSchedule(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, DefaultSchedulerConfig())
	_, err := s.Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, rtgerr.ErrNotFound)
}

func TestTrigger_AlreadyRunningRejected(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := newTestScheduler(runner, DefaultSchedulerConfig())

	sched, err := s.Add(Schedule{CronExpression: "0 9 * * 1", Content: "x"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Trigger(context.Background(), sched.ID)
	}()

	// Wait for the first run to be marked in flight.
	require.Eventually(t, func() bool {
		got, err := s.Get(sched.ID)
		return err == nil && got.IsRunning
	}, time.Second, time.Millisecond)

	_, err = s.Trigger(context.Background(), sched.ID)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(runner.release)
	<-done
}

func TestExecute_ConcurrencyCapFailsFast(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	config := DefaultSchedulerConfig()
	config.MaxConcurrentJobs = 1
	s := newTestScheduler(runner, config)

	first, err := s.Add(Schedule{CronExpression: "* * * * *", Content: "a"})
	require.NoError(t, err)
	second, err := s.Add(Schedule{CronExpression: "* * * * *", Content: "b"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Trigger(context.Background(), first.ID)
	}()
	require.Eventually(t, func() bool {
		got, err := s.Get(first.ID)
		return err == nil && got.IsRunning
	}, time.Second, time.Millisecond)

	_, err = s.Trigger(context.Background(), second.ID)
	assert.ErrorIs(t, err, ErrConcurrencyLimit)

	close(runner.release)
	<-done
}

func TestTickLoop_RunsDueSchedules(t *testing.T) {
	runner := &fakeRunner{}
	config := Config{MaxConcurrentJobs: 2, CheckInterval: 10 * time.Millisecond}
	s := newTestScheduler(runner, config)

	// Every-minute schedule with NextRun already in the past.
	sched, err := s.Add(Schedule{CronExpression: "* * * * *", Content: "x", Enabled: true})
	require.NoError(t, err)
	s.mu.Lock()
	s.schedules[sched.ID].NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.calls) >= 1
	}, time.Second, 5*time.Millisecond)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRun.After(time.Now()), "next run rolled forward")
}

func TestTickLoop_SkipsDisabled(t *testing.T) {
	runner := &fakeRunner{}
	config := Config{MaxConcurrentJobs: 2, CheckInterval: 10 * time.Millisecond}
	s := newTestScheduler(runner, config)

	sched, err := s.Add(Schedule{CronExpression: "* * * * *", Content: "x", Enabled: false})
	require.NoError(t, err)
	s.mu.Lock()
	s.schedules[sched.ID].NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, atomic.LoadInt32(&runner.calls))
}

func TestConditions(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, DefaultSchedulerConfig())

	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	mondayNight := time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC)

	weekdays := &Schedule{Conditions: Conditions{WeekdaysOnly: true}}
	assert.False(t, s.conditionsMet(weekdays, saturday))
	assert.True(t, s.conditionsMet(weekdays, monday))

	business := &Schedule{Conditions: Conditions{BusinessHoursOnly: true}}
	assert.True(t, s.conditionsMet(business, monday))
	assert.False(t, s.conditionsMet(business, mondayNight))
}

func TestDelivery_Webhook(t *testing.T) {
	var received webhookPayload
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	runner := &fakeRunner{}
	s := newTestScheduler(runner, DefaultSchedulerConfig())
	sched, err := s.Add(Schedule{
		Name:           "hook",
		CronExpression: "0 9 * * 1",
		Content:        "x",
		Delivery: Delivery{Webhook: &WebhookDelivery{
			Enabled: true,
			URL:     srv.URL,
			Headers: map[string]string{"X-Token": "secret"},
		}},
	})
	require.NoError(t, err)

	run, err := s.Trigger(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.True(t, run.Delivered)
	assert.Equal(t, sched.ID, received.ScheduleID)
	assert.Equal(t, "hook", received.ScheduleName)
	assert.Equal(t, "secret", gotHeader)
}

func TestDelivery_Filesystem(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	s := newTestScheduler(runner, DefaultSchedulerConfig())
	sched, err := s.Add(Schedule{
		CronExpression: "0 9 * * 1",
		Content:        "x",
		Delivery: Delivery{Filesystem: &FilesystemDelivery{
			Enabled:   true,
			Directory: dir,
		}},
	})
	require.NoError(t, err)

	_, err = s.Trigger(context.Background(), sched.ID)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var record filesystemRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, sched.ID, record.Schedule.ID)
	assert.Equal(t, "report output", record.Result.Output)
}
