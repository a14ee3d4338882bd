// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package submitter runs the full report pipeline: compile the template,
// extract the prompt section, call the model behind the circuit breaker
// and retry loop, and persist the output when the request is traceable
// to a template and project.
package submitter

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/ReportForge/services/llm"
	"github.com/AleutianAI/ReportForge/services/rtg/compiler"
	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/resilience"
	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
	"github.com/AleutianAI/ReportForge/services/rtg/store"
)

// ReportPersister is the persistence surface the submitter writes
// through. *store.ReportStore satisfies it.
type ReportPersister interface {
	Create(rpt store.GeneratedReport) (*store.GeneratedReport, error)
}

// ClientResolver maps a provider name onto an LLM client. Unknown
// providers return a ValidationError.
type ClientResolver func(provider string) (llm.LLMClient, error)

// Config tunes the submitter's provider selection and deadlines.
type Config struct {
	DefaultProvider string
	DefaultModel    string
	// SubmitTimeout is the hard wall-clock cap on one generation call,
	// retries included. Default: 60 seconds.
	SubmitTimeout time.Duration
	Retry         resilience.RetryConfig
}

func DefaultConfig() Config {
	return Config{
		DefaultProvider: "ollama",
		SubmitTimeout:   60 * time.Second,
		Retry:           resilience.DefaultRetryConfig(),
	}
}

// ProviderTimeout returns the per-provider generation deadline, capped
// by the configured submit timeout.
func (c Config) ProviderTimeout(provider string) time.Duration {
	cap := c.SubmitTimeout
	if cap <= 0 {
		cap = 60 * time.Second
	}
	var t time.Duration
	switch provider {
	case "openai":
		t = 45 * time.Second
	case "ollama":
		t = 60 * time.Second
	default:
		t = cap
	}
	if t > cap {
		t = cap
	}
	return t
}

type Submitter struct {
	compiler *compiler.Compiler
	resolver ClientResolver
	breakers *resilience.Registry
	reports  ReportPersister
	config   Config
	logger   *slog.Logger
}

func NewSubmitter(
	c *compiler.Compiler,
	resolver ClientResolver,
	breakers *resilience.Registry,
	reports ReportPersister,
	config Config,
	logger *slog.Logger,
) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultProvider == "" {
		config.DefaultProvider = "ollama"
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 60 * time.Second
	}
	return &Submitter{
		compiler: c,
		resolver: resolver,
		breakers: breakers,
		reports:  reports,
		config:   config,
		logger:   logger,
	}
}

// Submit compiles the template, sends the extracted prompt to the model
// and persists the result when it is attributable. Provider failures
// surface as the resilience taxonomy: CircuitOpenError,
// RetryExhaustedError or TimeoutError.
func (s *Submitter) Submit(ctx context.Context, req datatypes.SubmitRequest) (*datatypes.SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "rtg.submit")
	defer span.End()

	provider := req.Provider
	if provider == "" {
		provider = s.config.DefaultProvider
	}
	model := req.Model
	if model == "" {
		model = s.config.DefaultModel
	}
	span.SetAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)

	client, err := s.resolver(provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	compiled := s.compiler.Compile(ctx, datatypes.CompileRequest{
		Content: req.Content,
		Filters: req.Filters,
	})

	prompt := ExtractPrompt(compiled.Content)

	timeout := s.config.ProviderTimeout(provider)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	breaker := s.breakers.Get(provider)
	var output string
	err = resilience.WithRetry(callCtx, s.config.Retry, func() error {
		return breaker.Execute(func() error {
			out, genErr := client.Generate(callCtx, prompt, llm.GenerationParams{Model: model})
			if genErr != nil {
				return genErr
			}
			output = out
			return nil
		})
	})
	if err != nil {
		// The deadline hitting means the remote side may still be
		// working; report it as a timeout, not a generic failure.
		if callCtx.Err() != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &rtgerr.TimeoutError{Op: "llm generate", Timeout: timeout}
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &datatypes.SubmitResult{
		Output:   output,
		Warnings: compiled.Warnings,
		Meta: datatypes.SubmitMeta{
			Provider:  provider,
			Model:     model,
			CreatedAt: time.Now().UTC(),
		},
	}

	projectID := req.Filters.ResolveProjectID()
	if req.TemplateID != "" && projectID != "" {
		version := req.TemplateVersion
		if version <= 0 {
			version = 1
		}
		_, persistErr := s.reports.Create(store.GeneratedReport{
			TemplateID:      req.TemplateID,
			TemplateVersion: version,
			ProjectID:       projectID,
			OutputMD:        output,
			CreatedBy:       compiled.Meta.Author,
		})
		if persistErr != nil {
			// Generation succeeded; losing the audit record must not
			// lose the output.
			s.logger.Warn("failed to persist generated report",
				"template_id", req.TemplateID, "project_id", projectID, "error", persistErr)
		} else {
			result.Persisted = true
		}
	}

	return result, nil
}

var tracer = otel.Tracer("aleutian.rtg.submitter")

var promptLineRe = regexp.MustCompile(`(?i)^PROMPT\s+`)

// ExtractPrompt pulls the prompt section out of a compiled document:
// every line starting with the PROMPT marker, marker stripped, joined in
// order. A document with no marked lines is its own prompt.
func ExtractPrompt(compiled string) string {
	var prompts []string
	for _, line := range strings.Split(strings.ReplaceAll(compiled, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if promptLineRe.MatchString(trimmed) {
			prompts = append(prompts, strings.TrimSpace(promptLineRe.ReplaceAllString(trimmed, "")))
		}
	}
	if len(prompts) == 0 {
		return compiled
	}
	return strings.Join(prompts, "\n")
}
