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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Deliverer fans a completed run out to the configured channels. Every
// enabled channel is attempted independently; failures are logged and
// never fail the run.
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewDeliverer(logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// webhookPayload is the body POSTed to webhook targets.
type webhookPayload struct {
	ScheduleID   string     `json:"scheduleId"`
	ScheduleName string     `json:"scheduleName"`
	Timestamp    string     `json:"timestamp"`
	Result       *RunResult `json:"result"`
}

// Deliver attempts every enabled channel for this schedule.
func (d *Deliverer) Deliver(ctx context.Context, sched *Schedule, run *RunResult) {
	if wh := sched.Delivery.Webhook; wh != nil && wh.Enabled {
		if err := d.deliverWebhook(ctx, sched, run, wh); err != nil {
			d.logger.Error("webhook delivery failed", "schedule_id", sched.ID,
				"url", wh.URL, "error", err)
		}
	}
	if fsd := sched.Delivery.Filesystem; fsd != nil && fsd.Enabled {
		if err := d.deliverFilesystem(sched, run, fsd); err != nil {
			d.logger.Error("filesystem delivery failed", "schedule_id", sched.ID,
				"directory", fsd.Directory, "error", err)
		}
	}
	if em := sched.Delivery.Email; em != nil && em.Enabled {
		// Email integration is not wired up yet; record the intent so
		// operators can see deliveries that would have gone out.
		d.logger.Info("email delivery not configured, skipping",
			"schedule_id", sched.ID, "recipients", strings.Join(em.Recipients, ", "))
	}
}

func (d *Deliverer) deliverWebhook(ctx context.Context, sched *Schedule, run *RunResult, config *WebhookDelivery) error {
	payload, err := json.Marshal(webhookPayload{
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		Timestamp:    d.now().UTC().Format(time.RFC3339),
		Result:       run,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook delivery failed: %d %s", resp.StatusCode, resp.Status)
	}
	d.logger.Info("webhook delivered", "schedule_id", sched.ID, "url", config.URL)
	return nil
}

// filesystemRecord is the JSON document written per delivered run.
type filesystemRecord struct {
	Schedule struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"schedule"`
	Timestamp string     `json:"timestamp"`
	Result    *RunResult `json:"result"`
}

func (d *Deliverer) deliverFilesystem(sched *Schedule, run *RunResult, config *FilesystemDelivery) error {
	dir := config.Directory
	if dir == "" {
		dir = "./reports"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create delivery directory: %w", err)
	}

	var record filesystemRecord
	record.Schedule.ID = sched.ID
	record.Schedule.Name = sched.Name
	record.Timestamp = d.now().UTC().Format(time.RFC3339)
	record.Result = run

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal delivery record: %w", err)
	}

	// Colons are not valid in filenames everywhere.
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(d.now().UTC().Format(time.RFC3339))
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", sched.ID, stamp))
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write delivery file: %w", err)
	}
	d.logger.Info("report saved to filesystem", "schedule_id", sched.ID, "path", path)
	return nil
}
