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
	"encoding/json"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const reportPrefix = "rpt:"

// GeneratedReport is a persisted pipeline output, recorded against the
// template version and project it was generated for.
type GeneratedReport struct {
	ID              string    `json:"id"`
	TemplateID      string    `json:"template_id"`
	TemplateVersion int       `json:"template_version"`
	ProjectID       string    `json:"project_id"`
	OutputMD        string    `json:"output_md"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReportStore persists generated report outputs.
type ReportStore struct {
	db *badger.DB
}

func NewReportStore(db *badger.DB) *ReportStore {
	return &ReportStore{db: db}
}

// Create persists a generated report and returns it with id and
// timestamp filled in.
func (s *ReportStore) Create(rpt GeneratedReport) (*GeneratedReport, error) {
	rpt.ID = uuid.NewString()
	rpt.CreatedAt = time.Now().UTC()
	err := s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(reportPrefix+rpt.ID), rpt)
	})
	if err != nil {
		return nil, err
	}
	return &rpt, nil
}

// ListByTemplate returns all reports generated from a template, newest
// first.
func (s *ReportStore) ListByTemplate(templateID string) ([]GeneratedReport, error) {
	var out []GeneratedReport
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(reportPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rpt GeneratedReport
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rpt)
			}); err != nil {
				return err
			}
			if rpt.TemplateID == templateID {
				out = append(out, rpt)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
