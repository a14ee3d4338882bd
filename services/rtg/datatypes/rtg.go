// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Filters narrows a compile or submit to a project scope and carries the
// pass-through values echoed into the replacement table. ProjectUUID,
// ProjectID and ProjectIDAlt are aliases accepted for compatibility with
// older callers; ResolveProjectID picks the first non-empty one.
type Filters struct {
	Author        string         `json:"author,omitempty"`
	CIExample     string         `json:"ci_example,omitempty"`
	ProjectUUID   string         `json:"projectUuid,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	ProjectIDAlt  string         `json:"projectId,omitempty"`
	PipelineSteps []any          `json:"pipeline_steps,omitempty"`
	Tags          map[string]any `json:"tags,omitempty"`
	AWSAccounts   []any          `json:"aws_accounts,omitempty"`
}

// ResolveProjectID returns the effective project scope, or "" when the
// request is unscoped.
func (f *Filters) ResolveProjectID() string {
	if f == nil {
		return ""
	}
	switch {
	case f.ProjectUUID != "":
		return f.ProjectUUID
	case f.ProjectID != "":
		return f.ProjectID
	default:
		return f.ProjectIDAlt
	}
}

type CompileRequest struct {
	Content string   `json:"content" binding:"required"`
	Filters *Filters `json:"filters"`
}

// Warning is a non-fatal compile notice carried inline so callers can
// render it without a second round trip.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CompileMeta struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Author      string    `json:"author"`
	Env         string    `json:"env"`
}

// CompileResult is the compiled document. It is stateless and never
// persisted directly.
type CompileResult struct {
	Content  string      `json:"content"`
	Warnings []Warning   `json:"warnings"`
	Meta     CompileMeta `json:"meta"`
}

type SubmitRequest struct {
	Content         string   `json:"content" binding:"required"`
	Filters         *Filters `json:"filters"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	TemplateID      string   `json:"templateId,omitempty"`
	TemplateVersion int      `json:"templateVersion,omitempty"`
}

type SubmitMeta struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

type SubmitResult struct {
	Output    string     `json:"output"`
	Warnings  []Warning  `json:"warnings"`
	Persisted bool       `json:"persisted"`
	Meta      SubmitMeta `json:"meta"`
}
