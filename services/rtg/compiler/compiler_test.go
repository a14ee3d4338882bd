// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

// staticFetcher returns a fixed dataset regardless of filters.
type staticFetcher struct {
	dataset datatypes.ScopedDataset
}

func (f *staticFetcher) Fetch(_ context.Context, _ *datatypes.Filters) datatypes.ScopedDataset {
	return f.dataset
}

func newTestCompiler(ds datatypes.ScopedDataset) *Compiler {
	c := NewCompiler(&staticFetcher{dataset: ds}, "test", DefaultBudgets())
	c.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func TestCompile_SimpleSubstitution(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "Hello {{AUTHOR}}, env={{ENV}}",
		Filters: &datatypes.Filters{Author: "alice"},
	})

	assert.Equal(t, "Hello alice, env=test", res.Content)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "alice", res.Meta.Author)
	assert.Equal(t, "test", res.Meta.Env)
}

func TestCompile_DefaultsWithoutFilters(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{AUTHOR}} via {{CI_EXAMPLE}} at {{GENERATED_AT}}",
	})

	assert.Equal(t, "system via GitHub Actions at 2025-06-01T12:00:00Z", res.Content)
	assert.Empty(t, res.Warnings)
}

func TestCompile_WhitespaceTolerantTokens(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{ AUTHOR }} and {{  ENV  }}",
		Filters: &datatypes.Filters{Author: "bob"},
	})

	assert.Equal(t, "bob and test", res.Content)
	assert.Empty(t, res.Warnings)
}

func TestCompile_NormalizesBraceEntities(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "&#123;&#123;AUTHOR&#125;&#125;",
		Filters: &datatypes.Filters{Author: "carol"},
	})

	assert.Equal(t, "carol", res.Content)
}

func TestCompile_UnknownTokensSingleDedupedWarning(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{NOPE}} {{NOPE}} {{ALSO_NOPE}} {{AUTHOR}}",
	})

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, rtgerr.CodeUnknownTokens, res.Warnings[0].Code)
	assert.Contains(t, res.Warnings[0].Message, "{{NOPE}}")
	assert.Contains(t, res.Warnings[0].Message, "{{ALSO_NOPE}}")
	assert.Equal(t, 1, strings.Count(res.Warnings[0].Message, "{{NOPE}}"),
		"duplicates collapse to one mention")
}

func TestCompile_SeverityBadgeMacro(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{SEVERITY_BADGE:Critical}} {{SEVERITY_BADGE: High }}",
	})

	assert.Equal(t, "[Critical] [High]", res.Content)
	assert.Empty(t, res.Warnings)
}

func TestCompile_Idempotent(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{
		ComponentsAll: []datatypes.Component{{ID: "c1", Name: "api", Type: "service"}},
	})
	req := datatypes.CompileRequest{
		Content: "{{COMPONENT_TABLE}}\n{{AUTHOR}}",
		Filters: &datatypes.Filters{Author: "alice"},
	}

	first := c.Compile(context.Background(), req)
	second := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: first.Content,
		Filters: req.Filters,
	})

	assert.Equal(t, first.Content, second.Content)
	assert.Empty(t, second.Warnings)
}

func TestCompile_ThreatSortIsTotal(t *testing.T) {
	ds := datatypes.ScopedDataset{
		ThreatsAll: []datatypes.Threat{
			{ID: "1", Title: "B", Severity: "Low"},
			{ID: "2", Title: "A", Severity: "Critical"},
			{ID: "3", Title: "A", Severity: "Low"},
		},
	}
	c := newTestCompiler(ds)

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{THREAT_MODEL_TABLE}}",
	})

	lines := strings.Split(res.Content, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "| A | Critical |", lines[2])
	assert.Equal(t, "| A | Low |", lines[3])
	assert.Equal(t, "| B | Low |", lines[4])
}

func TestCompile_EmptyTablesRenderEmpty(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "[{{COMPONENT_TABLE}}][{{VULNERABILITY_TABLE}}]",
	})

	assert.Equal(t, "[][]", res.Content)
}

func TestCompile_FilterEchoesDefaultToEmptyJSON(t *testing.T) {
	c := newTestCompiler(datatypes.ScopedDataset{})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{PIPELINE_STEPS_JSON}}|{{TERRAFORM_TAGS_JSON}}|{{AWS_ACCOUNTS_JSON}}",
	})
	assert.Equal(t, "[]|{}|[]", res.Content)

	res = c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{PIPELINE_STEPS_JSON}}",
		Filters: &datatypes.Filters{PipelineSteps: []any{"build", "scan"}},
	})
	assert.Equal(t, `["build","scan"]`, res.Content)
}

func TestCompile_DerivedTokens(t *testing.T) {
	proj := datatypes.Project{
		ID:     "p1",
		Name:   "Payments Platform (EU)",
		SLASLO: `{"slo_target":"99.95"}`,
	}
	c := newTestCompiler(datatypes.ScopedDataset{
		SelectedProject: &proj,
		ProjectsAll:     []datatypes.Project{proj},
	})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{PROJECT_KEY}} {{RESILIENCY_TARGET}}",
	})

	assert.Equal(t, "payments-platform-eu 99.95", res.Content)
}

func TestCompile_ResiliencyTargetFallsBackToDefault(t *testing.T) {
	proj := datatypes.Project{ID: "p1", Name: "X", SLASLO: "not json"}
	c := newTestCompiler(datatypes.ScopedDataset{SelectedProject: &proj})

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{RESILIENCY_TARGET}}",
	})

	assert.Equal(t, "99.9", res.Content)
}

func TestCompile_StatisticsJSON(t *testing.T) {
	ds := datatypes.ScopedDataset{
		ComponentsAll: []datatypes.Component{{ID: "c1", Name: "api"}},
		VulnerabilitiesAll: []datatypes.Vulnerability{
			{ID: "v1", Severity: "Critical"},
			{ID: "v2", Severity: "Critical"},
			{ID: "v3", Severity: "Low"},
		},
	}
	c := newTestCompiler(ds)

	res := c.Compile(context.Background(), datatypes.CompileRequest{
		Content: "{{STATISTICS_JSON}}",
	})

	var stats struct {
		Counts struct {
			Components      int `json:"components"`
			Vulnerabilities int `json:"vulnerabilities"`
		} `json:"counts"`
		BySeverity map[string]int `json:"vulnerabilities_by_severity"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content), &stats))
	assert.Equal(t, 1, stats.Counts.Components)
	assert.Equal(t, 3, stats.Counts.Vulnerabilities)
	assert.Equal(t, 2, stats.BySeverity["Critical"])
	assert.Equal(t, 1, stats.BySeverity["Low"])
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "payments-platform-eu", slugify("Payments Platform (EU)"))
	assert.Equal(t, "a-b", slugify("  A--B  "))
	long := strings.Repeat("x", 100)
	assert.Len(t, slugify(long), 64)
}

func TestStringifyWithBudget(t *testing.T) {
	small := []string{"a", "b"}
	out := StringifyWithBudget(small, 1000, "things")
	assert.False(t, out.Truncated)
	assert.Equal(t, `["a","b"]`, out.Text)
	require.NotNil(t, out.Count)
	assert.Equal(t, 2, *out.Count)

	big := []string{strings.Repeat("x", 500)}
	out = StringifyWithBudget(big, 100, "things")
	assert.True(t, out.Truncated)
	assert.Less(t, len(out.Text), 100, "summary must fit well under the budget")
	assert.Greater(t, out.Length, 100, "original length is preserved")

	var summary struct {
		Truncated bool   `json:"truncated"`
		Count     *int   `json:"count"`
		Note      string `json:"note"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Text), &summary))
	assert.True(t, summary.Truncated)
	require.NotNil(t, summary.Count)
	assert.Equal(t, 1, *summary.Count)
	assert.Contains(t, summary.Note, "things exceeded budget")
}
