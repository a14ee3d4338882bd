// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetcher assembles the scoped domain snapshot a compile runs
// against. Every sub-fetch is isolated: a failing source degrades to an
// empty slice and a warning log, never a failed compile.
package fetcher

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
)

// InventorySource is the read surface the fetcher walks. The Badger
// inventory store satisfies it; tests inject failing fakes.
type InventorySource interface {
	GetProject(ctx context.Context, id string) (*datatypes.Project, error)
	ListProjects(ctx context.Context) ([]datatypes.Project, error)
	ListComponents(ctx context.Context, projectID string) ([]datatypes.Component, error)
	ListAllComponents(ctx context.Context) ([]datatypes.Component, error)
	ListThreatModels(ctx context.Context, projectID string) ([]datatypes.ThreatModel, error)
	ListThreats(ctx context.Context, threatModelID string) ([]datatypes.Threat, error)
	ListAllThreats(ctx context.Context) ([]datatypes.Threat, error)
	ListVulnerabilities(ctx context.Context, componentID string) ([]datatypes.Vulnerability, error)
	ListAllVulnerabilities(ctx context.Context) ([]datatypes.Vulnerability, error)
	ListSafeguards(ctx context.Context, threatID string) ([]datatypes.Safeguard, error)
}

// DataScopeFetcher narrows the inventory to one project's scope when the
// filters name a project, and optionally falls back to an unscoped broad
// fetch for legacy templates that predate project scoping.
type DataScopeFetcher struct {
	source InventorySource
	logger *slog.Logger

	// AllowUnscoped enables the legacy everything-fetch when no project
	// filter is present. Off by default: an unscoped request then yields
	// an empty dataset instead of a full inventory dump.
	AllowUnscoped bool
}

func NewDataScopeFetcher(source InventorySource, logger *slog.Logger) *DataScopeFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataScopeFetcher{source: source, logger: logger}
}

// Fetch builds the snapshot for the given filters. It never returns an
// error; each failing sub-fetch is logged and contributes an empty
// section so the rest of the snapshot stays usable.
func (f *DataScopeFetcher) Fetch(ctx context.Context, filters *datatypes.Filters) datatypes.ScopedDataset {
	projectID := filters.ResolveProjectID()
	if projectID == "" {
		if f.AllowUnscoped {
			return f.fetchUnscoped(ctx)
		}
		f.logger.Warn("compile requested without project scope; returning empty dataset")
		return emptyDataset()
	}
	return f.fetchScoped(ctx, projectID)
}

func (f *DataScopeFetcher) fetchScoped(ctx context.Context, projectID string) datatypes.ScopedDataset {
	ds := emptyDataset()

	project, err := f.source.GetProject(ctx, projectID)
	if err != nil {
		f.logger.Warn("project fetch failed", "project_id", projectID, "error", err)
	} else {
		ds.SelectedProject = project
		ds.ProjectsAll = []datatypes.Project{*project}
	}

	components, err := f.source.ListComponents(ctx, projectID)
	if err != nil {
		f.logger.Warn("component fetch failed", "project_id", projectID, "error", err)
	} else {
		ds.ComponentsAll = components
	}

	// Threats come through the project's threat models. A failing model
	// drops only its own threats.
	models, err := f.source.ListThreatModels(ctx, projectID)
	if err != nil {
		f.logger.Warn("threat model fetch failed", "project_id", projectID, "error", err)
		models = nil
	}
	for _, tm := range models {
		threats, err := f.source.ListThreats(ctx, tm.ID)
		if err != nil {
			f.logger.Warn("threat fetch failed", "threat_model_id", tm.ID, "error", err)
			continue
		}
		ds.ThreatsAll = append(ds.ThreatsAll, threats...)
	}

	// Vulnerabilities are keyed per component, which also enforces the
	// scope invariant: only in-scope components contribute.
	for _, cp := range ds.ComponentsAll {
		vulns, err := f.source.ListVulnerabilities(ctx, cp.ID)
		if err != nil {
			f.logger.Warn("vulnerability fetch failed", "component_id", cp.ID, "error", err)
			continue
		}
		ds.VulnerabilitiesAll = append(ds.VulnerabilitiesAll, vulns...)
	}

	// Every in-scope threat gets a map entry, even with zero safeguards,
	// so "threat known, nothing mitigating it" stays distinguishable from
	// "threat out of scope".
	for _, th := range ds.ThreatsAll {
		sgs, err := f.source.ListSafeguards(ctx, th.ID)
		if err != nil {
			f.logger.Warn("safeguard fetch failed", "threat_id", th.ID, "error", err)
			sgs = nil
		}
		if sgs == nil {
			sgs = []datatypes.Safeguard{}
		}
		ds.SafeguardsMap[th.ID] = sgs
	}

	return ds
}

// fetchUnscoped is the legacy broad path: everything in the inventory,
// no project selection beyond "first listed". Safeguards are a scoped
// concept; the broad path leaves the map empty.
func (f *DataScopeFetcher) fetchUnscoped(ctx context.Context) datatypes.ScopedDataset {
	ds := emptyDataset()

	projects, err := f.source.ListProjects(ctx)
	if err != nil {
		f.logger.Warn("project list fetch failed", "error", err)
	} else {
		ds.ProjectsAll = projects
		if len(projects) > 0 {
			ds.SelectedProject = &projects[0]
		}
	}

	if components, err := f.source.ListAllComponents(ctx); err != nil {
		f.logger.Warn("component fetch failed", "error", err)
	} else {
		ds.ComponentsAll = components
	}

	if threats, err := f.source.ListAllThreats(ctx); err != nil {
		f.logger.Warn("threat fetch failed", "error", err)
	} else {
		ds.ThreatsAll = threats
	}

	if vulns, err := f.source.ListAllVulnerabilities(ctx); err != nil {
		f.logger.Warn("vulnerability fetch failed", "error", err)
	} else {
		ds.VulnerabilitiesAll = vulns
	}

	return ds
}

func emptyDataset() datatypes.ScopedDataset {
	return datatypes.ScopedDataset{
		ProjectsAll:        []datatypes.Project{},
		ComponentsAll:      []datatypes.Component{},
		ThreatsAll:         []datatypes.Threat{},
		VulnerabilitiesAll: []datatypes.Vulnerability{},
		SafeguardsMap:      map[string][]datatypes.Safeguard{},
	}
}
