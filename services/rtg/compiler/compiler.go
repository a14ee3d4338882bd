// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compiler turns a markdown template plus a scoped domain
// snapshot into a compiled document: deterministic sorting, budgeted
// JSON serialization, derived tokens, and whitespace-tolerant token
// substitution with inline warnings.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
)

// KnownTokens is the recognized placeholder vocabulary. Any other
// {{...}} span left after substitution yields an UNKNOWN_TOKENS warning.
// The <ISO-timestamp> and <username> entries are legacy aliases kept for
// templates seeded by the first importer.
var KnownTokens = []string{
	"{{GENERATED_AT}}",
	"{{AUTHOR}}",
	"{{ENV}}",
	"{{CI_EXAMPLE}}",
	"<ISO-timestamp>",
	"<username>",
	"{{PROJECT_KEY}}",
	"{{RESILIENCY_TARGET}}",
	"{{PROJECTS_JSON}}",
	"{{PROJECT_JSON}}",
	"{{PROJECTS_COUNT}}",
	"{{PROJECT_NAMES_CSV}}",
	"{{COMPONENTS_JSON}}",
	"{{COMPONENTS_COUNT}}",
	"{{COMPONENT_TABLE}}",
	"{{THREATS_JSON}}",
	"{{THREAT_MODEL_TABLE}}",
	"{{VULNERABILITIES_JSON}}",
	"{{VULNERABILITY_TABLE}}",
	"{{THREAT_SAFEGUARDS_JSON}}",
	"{{STATISTICS_JSON}}",
	"{{PIPELINE_STEPS_JSON}}",
	"{{TERRAFORM_TAGS_JSON}}",
	"{{AWS_ACCOUNTS_JSON}}",
}

// severityRank orders severities for sorting; unknown severities rank 0.
var severityRank = map[string]int{
	"Critical": 4,
	"High":     3,
	"Medium":   2,
	"Low":      1,
}

// ScopeFetcher assembles the domain snapshot a compile runs against.
// Implementations degrade per-source on failure and never return an
// error.
type ScopeFetcher interface {
	Fetch(ctx context.Context, filters *datatypes.Filters) datatypes.ScopedDataset
}

// Compiler orchestrates fetch, sort, budgeted serialization, derived
// tokens and resolution. Safe for concurrent use: per-compile state is
// local, the fetcher and budgets are read-only.
type Compiler struct {
	fetcher ScopeFetcher
	env     string
	budgets Budgets
	now     func() time.Time
}

func NewCompiler(fetcher ScopeFetcher, env string, budgets Budgets) *Compiler {
	if env == "" {
		env = "development"
	}
	return &Compiler{
		fetcher: fetcher,
		env:     env,
		budgets: budgets,
		now:     time.Now,
	}
}

// Compile resolves a template against the scoped dataset. It does not
// fail: data problems degrade to empty sections and unresolved tokens
// downgrade to warnings carried on the result.
func (c *Compiler) Compile(ctx context.Context, req datatypes.CompileRequest) datatypes.CompileResult {
	now := c.now().UTC()
	nowISO := now.Format(time.RFC3339)

	author := "system"
	ci := "GitHub Actions"
	if req.Filters != nil {
		if req.Filters.Author != "" {
			author = req.Filters.Author
		}
		if req.Filters.CIExample != "" {
			ci = req.Filters.CIExample
		}
	}

	scoped := c.fetcher.Fetch(ctx, req.Filters)
	selected := scoped.SelectedProject
	if selected == nil && len(scoped.ProjectsAll) > 0 {
		selected = &scoped.ProjectsAll[0]
	}

	components := sortComponents(scoped.ComponentsAll)
	threats := sortThreats(scoped.ThreatsAll)
	vulns := sortVulnerabilities(scoped.VulnerabilitiesAll)

	componentTable := markdownTable(
		[]string{"Name", "Type"},
		mapRows(components, func(cp datatypes.Component) []string {
			return []string{cp.Name, cp.Type}
		}))
	threatTable := markdownTable(
		[]string{"Title", "Severity"},
		mapRows(threats, func(t datatypes.Threat) []string {
			return []string{t.Title, t.Severity}
		}))
	vulnTable := markdownTable(
		[]string{"Title", "Severity"},
		mapRows(vulns, func(v datatypes.Vulnerability) []string {
			return []string{v.Title, v.Severity}
		}))

	projectsJSON := StringifyWithBudget(scoped.ProjectsAll, c.budgets.Project, "project")
	componentsJSON := StringifyWithBudget(components, c.budgets.Components, "components")
	threatsJSON := StringifyWithBudget(threats, c.budgets.Threats, "threats")
	vulnsJSON := StringifyWithBudget(vulns, c.budgets.Vulnerabilities, "vulnerabilities")
	safeguardsJSON := StringifyWithBudget(scoped.SafeguardsMap, c.budgets.Safeguards, "safeguards")

	stats := buildStatistics(components, threats, vulns,
		projectsJSON, componentsJSON, threatsJSON, vulnsJSON, safeguardsJSON)

	replacements := []Replacement{
		{"{{GENERATED_AT}}", nowISO},
		{"{{AUTHOR}}", author},
		{"{{ENV}}", c.env},
		{"{{CI_EXAMPLE}}", ci},
		{"<ISO-timestamp>", nowISO},
		{"<username>", author},
		{"{{PROJECT_KEY}}", deriveProjectKey(selected)},
		{"{{RESILIENCY_TARGET}}", deriveResiliencyTarget(selected)},
		{"{{PROJECTS_JSON}}", projectsJSON.Text},
		{"{{PROJECT_JSON}}", marshalOr(selected, "{}")},
		{"{{PROJECTS_COUNT}}", fmt.Sprintf("%d", len(scoped.ProjectsAll))},
		{"{{PROJECT_NAMES_CSV}}", projectNamesCSV(scoped.ProjectsAll)},
		{"{{COMPONENTS_JSON}}", componentsJSON.Text},
		{"{{COMPONENTS_COUNT}}", fmt.Sprintf("%d", len(scoped.ComponentsAll))},
		{"{{COMPONENT_TABLE}}", componentTable},
		{"{{THREATS_JSON}}", threatsJSON.Text},
		{"{{THREAT_MODEL_TABLE}}", threatTable},
		{"{{VULNERABILITIES_JSON}}", vulnsJSON.Text},
		{"{{VULNERABILITY_TABLE}}", vulnTable},
		{"{{THREAT_SAFEGUARDS_JSON}}", safeguardsJSON.Text},
		{"{{STATISTICS_JSON}}", marshalOr(stats, "{}")},
		{"{{PIPELINE_STEPS_JSON}}", filterEcho(req.Filters, func(f *datatypes.Filters) any { return f.PipelineSteps }, "[]")},
		{"{{TERRAFORM_TAGS_JSON}}", filterEcho(req.Filters, func(f *datatypes.Filters) any { return f.Tags }, "{}")},
		{"{{AWS_ACCOUNTS_JSON}}", filterEcho(req.Filters, func(f *datatypes.Filters) any { return f.AWSAccounts }, "[]")},
	}

	content, warnings := ResolveTokens(req.Content, replacements, KnownTokens)

	return datatypes.CompileResult{
		Content:  content,
		Warnings: warnings,
		Meta: datatypes.CompileMeta{
			GeneratedAt: now,
			Author:      author,
			Env:         c.env,
		},
	}
}

func sortComponents(in []datatypes.Component) []datatypes.Component {
	out := append([]datatypes.Component(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortThreats(in []datatypes.Threat) []datatypes.Threat {
	out := append([]datatypes.Threat(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := severityRank[out[i].Severity], severityRank[out[j].Severity]
		if si != sj {
			return si > sj
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func sortVulnerabilities(in []datatypes.Vulnerability) []datatypes.Vulnerability {
	out := append([]datatypes.Vulnerability(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := severityRank[out[i].Severity], severityRank[out[j].Severity]
		if si != sj {
			return si > sj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// markdownTable renders a two-dimensional table. Empty input renders to
// an empty string, not a header-only table.
func markdownTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |")
	for _, row := range rows {
		b.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	return b.String()
}

func mapRows[T any](in []T, fn func(T) []string) [][]string {
	rows := make([][]string, 0, len(in))
	for _, v := range in {
		rows = append(rows, fn(v))
	}
	return rows
}

type statsCounts struct {
	Components      int `json:"components"`
	Threats         int `json:"threats"`
	Vulnerabilities int `json:"vulnerabilities"`
}

type statsTruncation struct {
	ProjectTruncated         bool `json:"project_truncated"`
	ComponentsTruncated      bool `json:"components_truncated"`
	ThreatsTruncated         bool `json:"threats_truncated"`
	VulnerabilitiesTruncated bool `json:"vulnerabilities_truncated"`
	SafeguardsTruncated      bool `json:"safeguards_truncated"`
}

type statsLengths struct {
	ProjectLen         int `json:"project_len"`
	ComponentsLen      int `json:"components_len"`
	ThreatsLen         int `json:"threats_len"`
	VulnerabilitiesLen int `json:"vulnerabilities_len"`
	SafeguardsLen      int `json:"safeguards_len"`
}

// statistics is the {{STATISTICS_JSON}} payload. The incidents bucket is
// part of the published token contract but nothing fills it yet.
type statistics struct {
	Counts                    statsCounts     `json:"counts"`
	Truncation                statsTruncation `json:"truncation"`
	Lengths                   statsLengths    `json:"lengths"`
	VulnerabilitiesBySeverity map[string]int  `json:"vulnerabilities_by_severity"`
	Incidents                 map[string]int  `json:"incidents"`
}

func buildStatistics(
	components []datatypes.Component,
	threats []datatypes.Threat,
	vulns []datatypes.Vulnerability,
	projectsJSON, componentsJSON, threatsJSON, vulnsJSON, safeguardsJSON BudgetedJSON,
) statistics {
	bySeverity := map[string]int{"Critical": 0, "High": 0, "Medium": 0, "Low": 0}
	for _, v := range vulns {
		if _, ok := bySeverity[v.Severity]; ok {
			bySeverity[v.Severity]++
		}
	}
	return statistics{
		Counts: statsCounts{
			Components:      len(components),
			Threats:         len(threats),
			Vulnerabilities: len(vulns),
		},
		Truncation: statsTruncation{
			ProjectTruncated:         projectsJSON.Truncated,
			ComponentsTruncated:      componentsJSON.Truncated,
			ThreatsTruncated:         threatsJSON.Truncated,
			VulnerabilitiesTruncated: vulnsJSON.Truncated,
			SafeguardsTruncated:      safeguardsJSON.Truncated,
		},
		Lengths: statsLengths{
			ProjectLen:         projectsJSON.Length,
			ComponentsLen:      componentsJSON.Length,
			ThreatsLen:         threatsJSON.Length,
			VulnerabilitiesLen: vulnsJSON.Length,
			SafeguardsLen:      safeguardsJSON.Length,
		},
		VulnerabilitiesBySeverity: bySeverity,
		Incidents:                 map[string]int{"High": 0, "Medium": 0, "Low": 0},
	}
}

var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases, hyphenates non-alphanumeric runs, trims hyphens
// and caps the result at 64 characters.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugCleanRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// deriveProjectKey prefers the project's own key field and falls back to
// a slug of its name. Must never fail; no project means empty key.
func deriveProjectKey(p *datatypes.Project) string {
	if p == nil {
		return ""
	}
	if p.Key != "" {
		return p.Key
	}
	return slugify(p.Name)
}

// deriveResiliencyTarget extracts the SLO target from the project. The
// sla_slo field may be a JSON-encoded object from older importers; parse
// errors fall through to the flat field and finally to the default.
func deriveResiliencyTarget(p *datatypes.Project) string {
	const fallback = "99.9"
	if p == nil {
		return fallback
	}
	if p.SLASLO != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(p.SLASLO), &obj); err == nil {
			if target, ok := obj["slo_target"]; ok && target != nil {
				return fmt.Sprint(target)
			}
		}
	}
	if p.SLOTarget != "" {
		return p.SLOTarget
	}
	return fallback
}

func projectNamesCSV(projects []datatypes.Project) string {
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}

// marshalOr serializes v, or returns the fallback when v is nil or
// unserializable.
func marshalOr(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

// filterEcho pass-through-serializes one filter field; absent filters or
// fields echo the given empty JSON literal.
func filterEcho(f *datatypes.Filters, pick func(*datatypes.Filters) any, empty string) string {
	if f == nil {
		return empty
	}
	v := pick(f)
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return empty
	}
	return string(data)
}
