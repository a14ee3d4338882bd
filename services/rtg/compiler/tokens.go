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
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

// Replacement is one substitution table entry. The table is an ordered
// slice rather than a map: substitutions are applied in insertion order.
type Replacement struct {
	Token string
	Value string
}

// braceNormalizer maps HTML entities and fullwidth lookalike characters
// onto ASCII curly braces before any matching runs. Templates pasted out
// of rendered HTML or CJK editors carry these variants.
var braceNormalizer = strings.NewReplacer(
	"&#123;", "{",
	"&#125;", "}",
	"&lbrace;", "{",
	"&rbrace;", "}",
	"｛", "{", // ｛
	"｝", "}", // ｝
	"［", "{", // ［
	"］", "}", // ］
)

var (
	severityBadgeRe = regexp.MustCompile(`\{\{\s*SEVERITY_BADGE\s*:\s*([^}]+)\}\}`)
	anyTokenRe      = regexp.MustCompile(`\{\{[^}]+\}\}`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// tokenPattern builds a whitespace-tolerant matcher for one table key,
// e.g. "{{PROJECT_JSON}}" also matches "{{ PROJECT  _JSON }}" only where
// the key itself contains the spaces; internal whitespace runs in the
// key become \s* in the pattern.
func tokenPattern(token string) *regexp.Regexp {
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(token, "{{"), "}}"))
	parts := strings.Fields(inner)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	spaced := strings.Join(parts, `\s*`)
	return regexp.MustCompile(`\{\{\s*` + spaced + `\s*\}\}`)
}

// ResolveTokens substitutes the replacement table into input and reports
// any leftover {{...}} spans that are not part of the known vocabulary.
// It never fails: input without tokens comes back unchanged with no
// warnings, and unknown tokens downgrade to a single deduplicated
// warning instead of an error.
func ResolveTokens(input string, replacements []Replacement, knownTokens []string) (string, []datatypes.Warning) {
	content := braceNormalizer.Replace(input)
	var warnings []datatypes.Warning

	for _, r := range replacements {
		content = tokenPattern(r.Token).ReplaceAllLiteralString(content, r.Value)
	}

	// Macro: {{SEVERITY_BADGE:Level}} -> [Level]
	content = severityBadgeRe.ReplaceAllStringFunc(content, func(m string) string {
		level := severityBadgeRe.FindStringSubmatch(m)[1]
		return "[" + strings.TrimSpace(level) + "]"
	})

	known := make(map[string]bool, len(knownTokens))
	for _, t := range knownTokens {
		known[whitespaceRe.ReplaceAllString(t, "")] = true
	}

	seen := make(map[string]bool)
	var unknown []string
	for _, span := range anyTokenRe.FindAllString(content, -1) {
		stripped := whitespaceRe.ReplaceAllString(span, "")
		if known[stripped] || seen[stripped] {
			continue
		}
		seen[stripped] = true
		unknown = append(unknown, stripped)
	}
	if len(unknown) > 0 {
		warnings = append(warnings, datatypes.Warning{
			Code:    rtgerr.CodeUnknownTokens,
			Message: fmt.Sprintf("Found unknown/unresolved tokens: %s", strings.Join(unknown, ", ")),
		})
	}

	return content, warnings
}
