// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
)

// Inventory key layout. Child entities are keyed under their parent so a
// scoped listing is a single prefix scan.
//
//	prj:<id>                  -> Project
//	cmp:<projectID>:<id>      -> Component
//	tm:<projectID>:<id>       -> ThreatModel
//	thr:<threatModelID>:<id>  -> Threat
//	vul:<componentID>:<id>    -> Vulnerability
//	sg:<threatID>:<id>        -> Safeguard
const (
	projectPrefix     = "prj:"
	componentPrefix   = "cmp:"
	threatModelPrefix = "tm:"
	threatPrefix      = "thr:"
	vulnPrefix        = "vul:"
	safeguardPrefix   = "sg:"
)

// InventoryStore is the Badger-backed source of the domain snapshot the
// scoped data fetcher assembles. Writes exist for seeding and for the
// surrounding CRUD screens, which sit outside this service.
type InventoryStore struct {
	db *badger.DB
}

func NewInventoryStore(db *badger.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

// GetProject returns one project by id, or rtgerr.ErrNotFound.
func (s *InventoryStore) GetProject(ctx context.Context, id string) (*datatypes.Project, error) {
	var p datatypes.Project
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(projectPrefix+id), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects.
func (s *InventoryStore) ListProjects(ctx context.Context) ([]datatypes.Project, error) {
	return scanAll[datatypes.Project](s.db, projectPrefix)
}

// ListComponents returns the components of one project.
func (s *InventoryStore) ListComponents(ctx context.Context, projectID string) ([]datatypes.Component, error) {
	return scanAll[datatypes.Component](s.db, componentPrefix+projectID+":")
}

// ListAllComponents returns every component regardless of project. Only
// the legacy unscoped path uses this.
func (s *InventoryStore) ListAllComponents(ctx context.Context) ([]datatypes.Component, error) {
	return scanAll[datatypes.Component](s.db, componentPrefix)
}

// ListThreatModels returns the threat models directly linked to a
// project.
func (s *InventoryStore) ListThreatModels(ctx context.Context, projectID string) ([]datatypes.ThreatModel, error) {
	return scanAll[datatypes.ThreatModel](s.db, threatModelPrefix+projectID+":")
}

// ListThreats returns the threats of one threat model.
func (s *InventoryStore) ListThreats(ctx context.Context, threatModelID string) ([]datatypes.Threat, error) {
	return scanAll[datatypes.Threat](s.db, threatPrefix+threatModelID+":")
}

// ListAllThreats returns every threat. Legacy unscoped path only.
func (s *InventoryStore) ListAllThreats(ctx context.Context) ([]datatypes.Threat, error) {
	return scanAll[datatypes.Threat](s.db, threatPrefix)
}

// ListVulnerabilities returns the vulnerabilities of one component.
func (s *InventoryStore) ListVulnerabilities(ctx context.Context, componentID string) ([]datatypes.Vulnerability, error) {
	return scanAll[datatypes.Vulnerability](s.db, vulnPrefix+componentID+":")
}

// ListAllVulnerabilities returns every vulnerability. Legacy unscoped
// path only.
func (s *InventoryStore) ListAllVulnerabilities(ctx context.Context) ([]datatypes.Vulnerability, error) {
	return scanAll[datatypes.Vulnerability](s.db, vulnPrefix)
}

// ListSafeguards returns the safeguards mitigating one threat.
func (s *InventoryStore) ListSafeguards(ctx context.Context, threatID string) ([]datatypes.Safeguard, error) {
	return scanAll[datatypes.Safeguard](s.db, safeguardPrefix+threatID+":")
}

// PutProject upserts a project.
func (s *InventoryStore) PutProject(p datatypes.Project) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(projectPrefix+p.ID), p)
	})
}

// PutComponent upserts a component under its project.
func (s *InventoryStore) PutComponent(c datatypes.Component) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(componentPrefix+c.ProjectID+":"+c.ID), c)
	})
}

// PutThreatModel upserts a threat model under its project.
func (s *InventoryStore) PutThreatModel(tm datatypes.ThreatModel) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(threatModelPrefix+tm.ProjectID+":"+tm.ID), tm)
	})
}

// PutThreat upserts a threat under its threat model.
func (s *InventoryStore) PutThreat(t datatypes.Threat) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(threatPrefix+t.ThreatModelID+":"+t.ID), t)
	})
}

// PutVulnerability upserts a vulnerability under its component.
func (s *InventoryStore) PutVulnerability(v datatypes.Vulnerability) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(vulnPrefix+v.ComponentID+":"+v.ID), v)
	})
}

// PutSafeguard upserts a safeguard under its threat.
func (s *InventoryStore) PutSafeguard(sg datatypes.Safeguard) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(safeguardPrefix+sg.ThreatID+":"+sg.ID), sg)
	})
}

// scanAll decodes every value under a key prefix.
func scanAll[T any](db *badger.DB, prefix string) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
