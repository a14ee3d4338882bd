// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs report submissions on cron expressions. Due
// schedules are detected by a minute tick; executions run concurrently
// under a hard cap and fail fast rather than queue when the cap is hit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/observability"
	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

var (
	// ErrAlreadyRunning is returned when a schedule is triggered while a
	// previous execution is still in flight.
	ErrAlreadyRunning = errors.New("schedule already running")

	// ErrConcurrencyLimit is returned when the concurrent-job cap is
	// exhausted. The execution is skipped, not queued.
	ErrConcurrencyLimit = errors.New("concurrent job limit reached")
)

// Conditions gate execution beyond the cron expression itself.
type Conditions struct {
	// BusinessHoursOnly limits execution to 09:00-17:59 local time.
	BusinessHoursOnly bool `json:"business_hours_only,omitempty" yaml:"business_hours_only"`
	// WeekdaysOnly skips Saturday and Sunday.
	WeekdaysOnly bool `json:"weekdays_only,omitempty" yaml:"weekdays_only"`
}

type WebhookDelivery struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type FilesystemDelivery struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory"`
}

type EmailDelivery struct {
	Enabled    bool     `json:"enabled"`
	Recipients []string `json:"recipients"`
}

// Delivery configures where completed reports go. All enabled channels
// are attempted; delivery failure never fails the run itself.
type Delivery struct {
	Webhook    *WebhookDelivery    `json:"webhook,omitempty"`
	Filesystem *FilesystemDelivery `json:"filesystem,omitempty"`
	Email      *EmailDelivery      `json:"email,omitempty"`
}

// Schedule is one recurring report job plus its run bookkeeping. A
// schedule with ProjectIDs runs one submission per listed project
// (batch); otherwise its filters drive a single submission.
type Schedule struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	CronExpression string             `json:"cron_expression"`
	TemplateID     string             `json:"template_id,omitempty"`
	Content        string             `json:"content"`
	Filters        *datatypes.Filters `json:"filters,omitempty"`
	ProjectIDs     []string           `json:"project_ids,omitempty"`
	Provider       string             `json:"provider,omitempty"`
	Model          string             `json:"model,omitempty"`
	Delivery       Delivery           `json:"delivery"`
	Enabled        bool               `json:"enabled"`
	Conditions     Conditions         `json:"conditions"`

	CreatedAt    time.Time  `json:"created_at"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      time.Time  `json:"next_run"`
	RunCount     int        `json:"run_count"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastError    string     `json:"last_error,omitempty"`
	IsRunning    bool       `json:"is_running"`
}

// submitRequests expands the schedule into its submissions: one per
// configured project, or a single one driven by the schedule's own
// filters.
func (sched *Schedule) submitRequests() []datatypes.SubmitRequest {
	base := datatypes.SubmitRequest{
		Content:    sched.Content,
		Filters:    sched.Filters,
		Provider:   sched.Provider,
		Model:      sched.Model,
		TemplateID: sched.TemplateID,
	}
	if len(sched.ProjectIDs) == 0 {
		return []datatypes.SubmitRequest{base}
	}
	reqs := make([]datatypes.SubmitRequest, 0, len(sched.ProjectIDs))
	for _, pid := range sched.ProjectIDs {
		var filters datatypes.Filters
		if sched.Filters != nil {
			filters = *sched.Filters
		}
		filters.ProjectUUID = pid
		filters.ProjectID = ""
		filters.ProjectIDAlt = ""
		req := base
		req.Filters = &filters
		reqs = append(reqs, req)
	}
	return reqs
}

// ReportRunner is the execution surface a due schedule invokes. The
// submitter satisfies it.
type ReportRunner interface {
	Submit(ctx context.Context, req datatypes.SubmitRequest) (*datatypes.SubmitResult, error)
}

// RunResult summarizes one schedule execution. Reports counts the
// submissions that produced output; a batch run over several projects
// reports more than one.
type RunResult struct {
	ScheduleID    string        `json:"schedule_id"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	Output        string        `json:"output,omitempty"`
	Reports       int           `json:"reports"`
	Delivered     bool          `json:"delivered"`
}

// Scheduler owns the schedule table and the tick loop. Safe for
// concurrent use.
type Scheduler struct {
	runner    ReportRunner
	deliverer *Deliverer
	logger    *slog.Logger
	parser    cron.Parser
	sem       *semaphore.Weighted
	interval  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	schedules map[string]*Schedule
	running   map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config tunes the scheduler loop.
type Config struct {
	// MaxConcurrentJobs caps simultaneously executing schedules.
	// Default: 5
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	// CheckInterval is how often due schedules are looked for.
	// Default: 1 minute
	CheckInterval time.Duration `yaml:"check_interval"`
}

func DefaultSchedulerConfig() Config {
	return Config{MaxConcurrentJobs: 5, CheckInterval: time.Minute}
}

func NewScheduler(runner ReportRunner, deliverer *Deliverer, config Config, logger *slog.Logger) *Scheduler {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = 5
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deliverer == nil {
		deliverer = NewDeliverer(logger)
	}
	return &Scheduler{
		runner:    runner,
		deliverer: deliverer,
		logger:    logger,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		sem:       semaphore.NewWeighted(int64(config.MaxConcurrentJobs)),
		interval:  config.CheckInterval,
		now:       time.Now,
		schedules: make(map[string]*Schedule),
		running:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}
}

// Add registers a schedule and computes its first due time. The cron
// expression is five-field standard syntax.
func (s *Scheduler) Add(sched Schedule) (*Schedule, error) {
	cronSched, err := s.parser.Parse(sched.CronExpression)
	if err != nil {
		return nil, &rtgerr.ValidationError{Field: "cron_expression", Reason: err.Error()}
	}

	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.Name == "" {
		sched.Name = fmt.Sprintf("Scheduled Report %s", sched.ID)
	}
	now := s.now()
	sched.CreatedAt = now.UTC()
	sched.NextRun = cronSched.Next(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sched.ID]; exists {
		return nil, rtgerr.ErrConflict
	}
	stored := sched
	s.schedules[sched.ID] = &stored
	s.logger.Info("schedule registered", "schedule_id", sched.ID, "name", sched.Name,
		"cron", sched.CronExpression, "next_run", sched.NextRun)
	snapshot := stored
	return &snapshot, nil
}

// ScheduleUpdate is a partial update; nil fields are left untouched.
type ScheduleUpdate struct {
	Name           *string
	CronExpression *string
	Enabled        *bool
	Delivery       *Delivery
	Conditions     *Conditions
	Filters        *datatypes.Filters
	ProjectIDs     *[]string
	Content        *string
}

// Update applies a partial update. Changing the cron expression
// recomputes the next due time.
func (s *Scheduler) Update(id string, upd ScheduleUpdate) (*Schedule, error) {
	var cronSched cron.Schedule
	if upd.CronExpression != nil {
		var err error
		cronSched, err = s.parser.Parse(*upd.CronExpression)
		if err != nil {
			return nil, &rtgerr.ValidationError{Field: "cron_expression", Reason: err.Error()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, rtgerr.ErrNotFound
	}
	if upd.Name != nil {
		sched.Name = *upd.Name
	}
	if upd.CronExpression != nil {
		sched.CronExpression = *upd.CronExpression
		sched.NextRun = cronSched.Next(s.now())
	}
	if upd.Enabled != nil {
		sched.Enabled = *upd.Enabled
	}
	if upd.Delivery != nil {
		sched.Delivery = *upd.Delivery
	}
	if upd.Conditions != nil {
		sched.Conditions = *upd.Conditions
	}
	if upd.Filters != nil {
		sched.Filters = upd.Filters
	}
	if upd.ProjectIDs != nil {
		sched.ProjectIDs = *upd.ProjectIDs
	}
	if upd.Content != nil {
		sched.Content = *upd.Content
	}
	snapshot := *sched
	snapshot.IsRunning = s.isRunningLocked(id)
	return &snapshot, nil
}

// Remove deletes a schedule. A running execution is not interrupted.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return rtgerr.ErrNotFound
	}
	delete(s.schedules, id)
	s.logger.Info("schedule removed", "schedule_id", id)
	return nil
}

// Get returns a snapshot of one schedule.
func (s *Scheduler) Get(id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, rtgerr.ErrNotFound
	}
	snapshot := *sched
	snapshot.IsRunning = s.isRunningLocked(id)
	return &snapshot, nil
}

// List returns snapshots of all schedules.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for id, sched := range s.schedules {
		snapshot := *sched
		snapshot.IsRunning = s.isRunningLocked(id)
		out = append(out, snapshot)
	}
	return out
}

// Trigger runs a schedule immediately, regardless of its cron timing.
// Conditions are not checked on manual triggers.
func (s *Scheduler) Trigger(ctx context.Context, id string) (*RunResult, error) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return nil, rtgerr.ErrNotFound
	}
	if s.isRunningLocked(id) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	snapshot := *sched
	s.mu.Unlock()

	return s.execute(ctx, &snapshot)
}

// Start launches the tick loop. An immediate check runs first so
// schedules due at startup are not delayed a full interval.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("scheduler loop started", "check_interval", s.interval)
		s.checkSchedules()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.checkSchedules()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit. In-flight
// executions finish on their own.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// checkSchedules launches every enabled, due, condition-passing
// schedule. Executions run in their own goroutines so one slow report
// does not starve the rest of the tick.
func (s *Scheduler) checkSchedules() {
	now := s.now()

	s.mu.Lock()
	var due []*Schedule
	for id, sched := range s.schedules {
		if !sched.Enabled || s.isRunningLocked(id) {
			continue
		}
		if sched.NextRun.IsZero() || sched.NextRun.After(now) {
			continue
		}
		if !s.conditionsMet(sched, now) {
			continue
		}
		snapshot := *sched
		due = append(due, &snapshot)
	}
	s.mu.Unlock()

	for _, sched := range due {
		sched := sched
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.execute(context.Background(), sched); err != nil {
				s.logger.Error("scheduled execution failed",
					"schedule_id", sched.ID, "name", sched.Name, "error", err)
			}
		}()
	}
}

func (s *Scheduler) conditionsMet(sched *Schedule, now time.Time) bool {
	if sched.Conditions.BusinessHoursOnly {
		hour := now.Hour()
		if hour < 9 || hour > 17 {
			return false
		}
	}
	if sched.Conditions.WeekdaysOnly {
		day := now.Weekday()
		if day == time.Saturday || day == time.Sunday {
			return false
		}
	}
	return true
}

// execute runs one schedule under the concurrency cap and records the
// outcome on the stored schedule.
func (s *Scheduler) execute(ctx context.Context, sched *Schedule) (*RunResult, error) {
	if !s.sem.TryAcquire(1) {
		s.logger.Warn("skipping schedule, concurrency limit reached", "schedule_id", sched.ID)
		if m := observability.DefaultMetrics; m != nil {
			m.ScheduledRunsTotal.WithLabelValues("skipped").Inc()
		}
		return nil, ErrConcurrencyLimit
	}
	defer s.sem.Release(1)

	start := s.now()
	s.mu.Lock()
	if s.isRunningLocked(sched.ID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, sched.ID)
	}
	s.running[sched.ID] = start
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, sched.ID)
		s.mu.Unlock()
	}()

	s.logger.Info("executing schedule", "schedule_id", sched.ID, "name", sched.Name,
		"projects", len(sched.ProjectIDs))

	// A batch schedule degrades per project: one failing project is
	// logged and the rest still generate. The run fails only when no
	// submission produced output.
	var (
		outputs []string
		lastErr error
	)
	for _, req := range sched.submitRequests() {
		result, err := s.runner.Submit(ctx, req)
		if err != nil {
			lastErr = err
			s.logger.Warn("schedule submission failed", "schedule_id", sched.ID,
				"project_id", req.Filters.ResolveProjectID(), "error", err)
			continue
		}
		outputs = append(outputs, result.Output)
	}
	var err error
	if len(outputs) == 0 {
		err = lastErr
	}

	s.recordOutcome(sched.ID, start, err)
	if m := observability.DefaultMetrics; m != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.ScheduledRunsTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		return nil, err
	}

	run := &RunResult{
		ScheduleID:    sched.ID,
		Success:       true,
		ExecutionTime: s.now().Sub(start),
		Output:        strings.Join(outputs, "\n\n"),
		Reports:       len(outputs),
	}
	if sched.Delivery.Webhook != nil || sched.Delivery.Filesystem != nil || sched.Delivery.Email != nil {
		s.deliverer.Deliver(ctx, sched, run)
		run.Delivered = true
	}

	s.logger.Info("schedule completed", "schedule_id", sched.ID,
		"duration", run.ExecutionTime)
	return run, nil
}

// recordOutcome updates run bookkeeping and rolls the next due time
// forward. Both success and failure advance NextRun so a broken
// schedule does not hot-loop.
func (s *Scheduler) recordOutcome(id string, start time.Time, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		// Removed mid-flight; nothing to record.
		return
	}
	last := start.UTC()
	sched.LastRun = &last
	sched.RunCount++
	if cronSched, err := s.parser.Parse(sched.CronExpression); err == nil {
		sched.NextRun = cronSched.Next(s.now())
	}
	if runErr != nil {
		sched.FailureCount++
		sched.LastError = runErr.Error()
	} else {
		sched.SuccessCount++
		sched.LastError = ""
	}
}

func (s *Scheduler) isRunningLocked(id string) bool {
	_, running := s.running[id]
	return running
}
