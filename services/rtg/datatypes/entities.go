// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared request, response and domain shapes
// for the RTG (Report Template Generation) service.
package datatypes

import "time"

// Project is the unit of scope for a compile. SLASLO may arrive as a raw
// JSON string from older importers, so it is kept opaque here and parsed
// lazily by the compiler.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Key         string    `json:"key,omitempty"`
	SLASLO      string    `json:"sla_slo,omitempty"`
	SLOTarget   string    `json:"slo_target,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Component struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThreatModel links a group of threats to a project.
type ThreatModel struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Threat struct {
	ID            string    `json:"id"`
	ThreatModelID string    `json:"threat_model_id"`
	Title         string    `json:"title"`
	Severity      string    `json:"severity,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Vulnerability struct {
	ID          string    `json:"id"`
	ComponentID string    `json:"component_id"`
	Title       string    `json:"title"`
	Severity    string    `json:"severity,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Safeguard is a mitigating control attached to a single threat.
type Safeguard struct {
	ID       string `json:"id"`
	ThreatID string `json:"threat_id"`
	Name     string `json:"name"`
	Status   string `json:"status,omitempty"`
}

// ScopedDataset is the request-scoped, read-only snapshot a compile runs
// against. Empty slices mean "unknown or none", not a guarantee of zero:
// each sub-fetch degrades independently on failure.
//
// Invariant: VulnerabilitiesAll only contains vulnerabilities whose
// component is present in ComponentsAll for the same scope.
type ScopedDataset struct {
	SelectedProject    *Project               `json:"selected_project"`
	ProjectsAll        []Project              `json:"projects_all"`
	ComponentsAll      []Component            `json:"components_all"`
	ThreatsAll         []Threat               `json:"threats_all"`
	VulnerabilitiesAll []Vulnerability        `json:"vulnerabilities_all"`
	SafeguardsMap      map[string][]Safeguard `json:"safeguards_map"`
}
