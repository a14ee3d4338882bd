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
	"encoding/json"
	"fmt"
	"reflect"
)

// Budgets are the per-blob byte ceilings for serialized JSON embedded in
// a compiled document. Each blob is budgeted independently.
type Budgets struct {
	Project         int `yaml:"project"`
	Components      int `yaml:"components"`
	Threats         int `yaml:"threats"`
	Vulnerabilities int `yaml:"vulnerabilities"`
	Safeguards      int `yaml:"safeguards"`
}

// DefaultBudgets returns the standard ceilings.
func DefaultBudgets() Budgets {
	return Budgets{
		Project:         50_000,
		Components:      150_000,
		Threats:         120_000,
		Vulnerabilities: 120_000,
		Safeguards:      120_000,
	}
}

// BudgetedJSON is a serialization outcome: either the full text fit, or
// Text holds a strictly smaller truncation summary. Length is always the
// pre-truncation serialized length so statistics can report what was
// dropped.
type BudgetedJSON struct {
	Text      string
	Truncated bool
	Length    int
	Count     *int
}

type truncationSummary struct {
	Truncated bool   `json:"truncated"`
	Count     *int   `json:"count"`
	Note      string `json:"note"`
}

// StringifyWithBudget serializes v, substituting a truncation summary
// when the full serialization exceeds budget. Serialization failure
// degrades to "null" rather than propagating: a single oversized or odd
// blob must never sink a whole compile.
func StringifyWithBudget(v any, budget int, label string) BudgetedJSON {
	text, err := json.Marshal(v)
	if err != nil {
		return BudgetedJSON{Text: "null"}
	}

	var count *int
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		n := rv.Len()
		count = &n
	}

	if len(text) <= budget {
		return BudgetedJSON{Text: string(text), Length: len(text), Count: count}
	}

	summary, err := json.Marshal(truncationSummary{
		Truncated: true,
		Count:     count,
		Note:      fmt.Sprintf("%s exceeded budget (%d > %d)", label, len(text), budget),
	})
	if err != nil {
		return BudgetedJSON{Text: "null"}
	}
	return BudgetedJSON{Text: string(summary), Truncated: true, Length: len(text), Count: count}
}
