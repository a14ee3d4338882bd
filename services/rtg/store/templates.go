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
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

// Key layout:
//
//	tpl:<id>              -> Template JSON
//	tplname:<lower name>  -> template id (uniqueness guard)
//	ver:<id>:<%06d>       -> TemplateVersion JSON (zero-padded, so the
//	                         lexicographic key order is the version order)
const (
	templatePrefix     = "tpl:"
	templateNamePrefix = "tplname:"
	versionPrefix      = "ver:"
)

// Template is a named report template. Content updates never mutate
// history: each one appends a TemplateVersion.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ContentMD   string    `json:"content_md"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateVersion is one immutable snapshot in a template's append-only
// history. Version numbers start at 1 and are never reused.
type TemplateVersion struct {
	TemplateID string    `json:"template_id"`
	Version    int       `json:"version"`
	ContentMD  string    `json:"content_md"`
	Changelog  string    `json:"changelog,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TemplateUpdate carries the fields of a partial update. Nil pointers
// mean "leave unchanged".
type TemplateUpdate struct {
	Name        *string
	Description *string
	ContentMD   *string
	Changelog   *string
}

// TemplateStore is versioned CRUD over templates. All mutating
// operations run inside a single Badger transaction, so a content update
// and its version append either both commit or both roll back.
type TemplateStore struct {
	db *badger.DB
}

func NewTemplateStore(db *badger.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

func templateKey(id string) []byte { return []byte(templatePrefix + id) }

func nameKey(name string) []byte {
	return []byte(templateNamePrefix + strings.ToLower(strings.TrimSpace(name)))
}

func versionKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s:%06d", versionPrefix, id, version))
}

// Create inserts a new template and its initial version (version 1).
// Returns rtgerr.ErrConflict when the display name is already taken
// (case-insensitive).
func (s *TemplateStore) Create(name, description, contentMD, createdBy string) (*Template, error) {
	now := time.Now().UTC()
	tpl := &Template{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ContentMD:   contentMD,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nameKey(name)); err == nil {
			return fmt.Errorf("template name %q: %w", name, rtgerr.ErrConflict)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putJSON(txn, templateKey(tpl.ID), tpl); err != nil {
			return err
		}
		if err := txn.Set(nameKey(name), []byte(tpl.ID)); err != nil {
			return err
		}
		v1 := TemplateVersion{
			TemplateID: tpl.ID,
			Version:    1,
			ContentMD:  contentMD,
			CreatedBy:  createdBy,
			CreatedAt:  now,
		}
		return putJSON(txn, versionKey(tpl.ID, 1), v1)
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// Get returns a template by id, or rtgerr.ErrNotFound.
func (s *TemplateStore) Get(id string) (*Template, error) {
	var tpl Template
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, templateKey(id), &tpl)
	})
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// List returns a page of templates ordered by most-recently-updated,
// filtered by a case-insensitive substring match on the name, plus the
// total count after filtering.
func (s *TemplateStore) List(query string, limit, offset int) ([]Template, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := strings.ToLower(query)

	var all []Template
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(templatePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var tpl Template
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tpl)
			}); err != nil {
				return err
			}
			if q == "" || strings.Contains(strings.ToLower(tpl.Name), q) {
				all = append(all, tpl)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	total := len(all)
	if offset >= total {
		return []Template{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Update applies the supplied fields and bumps UpdatedAt. When ContentMD
// is supplied, exactly one new version numbered max+1 is appended in the
// same transaction, annotated with the changelog if one was given. A
// changelog without a content change is ignored, matching the legacy
// behavior.
func (s *TemplateStore) Update(id string, upd TemplateUpdate) (*Template, error) {
	var tpl Template
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, templateKey(id), &tpl); err != nil {
			return err
		}

		if upd.Name != nil && !strings.EqualFold(*upd.Name, tpl.Name) {
			if _, err := txn.Get(nameKey(*upd.Name)); err == nil {
				return fmt.Errorf("template name %q: %w", *upd.Name, rtgerr.ErrConflict)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete(nameKey(tpl.Name)); err != nil {
				return err
			}
			tpl.Name = *upd.Name
			if err := txn.Set(nameKey(tpl.Name), []byte(tpl.ID)); err != nil {
				return err
			}
		} else if upd.Name != nil {
			tpl.Name = *upd.Name
		}
		if upd.Description != nil {
			tpl.Description = *upd.Description
		}

		now := time.Now().UTC()
		if upd.ContentMD != nil {
			tpl.ContentMD = *upd.ContentMD
			next, err := s.maxVersion(txn, id)
			if err != nil {
				return err
			}
			ver := TemplateVersion{
				TemplateID: id,
				Version:    next + 1,
				ContentMD:  *upd.ContentMD,
				CreatedBy:  tpl.CreatedBy,
				CreatedAt:  now,
			}
			if upd.Changelog != nil {
				ver.Changelog = *upd.Changelog
			}
			if err := putJSON(txn, versionKey(id, ver.Version), ver); err != nil {
				return err
			}
		}

		tpl.UpdatedAt = now
		return putJSON(txn, templateKey(id), &tpl)
	})
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Delete removes a template and cascades to all of its versions.
func (s *TemplateStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var tpl Template
		if err := getJSON(txn, templateKey(id), &tpl); err != nil {
			return err
		}
		if err := txn.Delete(templateKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(nameKey(tpl.Name)); err != nil {
			return err
		}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(versionPrefix + id + ":")})
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListVersions returns a page of a template's history, newest first,
// plus the total version count. Returns rtgerr.ErrNotFound when the
// template does not exist.
func (s *TemplateStore) ListVersions(id string, limit, offset int) ([]TemplateVersion, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var all []TemplateVersion
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(templateKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("template %s: %w", id, rtgerr.ErrNotFound)
			}
			return err
		}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(versionPrefix + id + ":")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ver TemplateVersion
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ver)
			}); err != nil {
				return err
			}
			all = append(all, ver)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Iterator yields ascending version order; history reads newest first.
	sort.Slice(all, func(i, j int) bool { return all[i].Version > all[j].Version })

	total := len(all)
	if offset >= total {
		return []TemplateVersion{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// GetVersion returns one version snapshot, or rtgerr.ErrNotFound.
func (s *TemplateStore) GetVersion(id string, version int) (*TemplateVersion, error) {
	var ver TemplateVersion
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, versionKey(id, version), &ver)
	})
	if err != nil {
		return nil, err
	}
	return &ver, nil
}

// maxVersion returns the highest existing version number for a template,
// read inside the caller's transaction so concurrent writers cannot
// produce gaps or duplicates.
func (s *TemplateStore) maxVersion(txn *badger.Txn, id string) (int, error) {
	opts := badger.IteratorOptions{Prefix: []byte(versionPrefix + id + ":"), Reverse: true}
	it := txn.NewIterator(opts)
	defer it.Close()
	// Reverse iteration needs a seek past the last possible key.
	it.Seek([]byte(versionPrefix + id + ";"))
	if !it.Valid() {
		return 0, nil
	}
	var ver TemplateVersion
	if err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &ver)
	}); err != nil {
		return 0, err
	}
	return ver.Version, nil
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", key, rtgerr.ErrNotFound)
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
