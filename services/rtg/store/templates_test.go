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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportForge/services/rtg/rtgerr"
)

func newTestStore(t *testing.T) *TemplateStore {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTemplateStore(db)
}

func TestTemplateStore_CreateSeedsVersionOne(t *testing.T) {
	s := newTestStore(t)

	tpl, err := s.Create("Security Report", "quarterly", "# Report\n{{AUTHOR}}", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, tpl.ID)

	versions, total, err := s.ListVersions(tpl.ID, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, "# Report\n{{AUTHOR}}", versions[0].ContentMD)
}

func TestTemplateStore_DuplicateNameConflicts(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("Weekly", "", "a", "alice")
	require.NoError(t, err)

	_, err = s.Create("weekly", "", "b", "bob")
	assert.ErrorIs(t, err, rtgerr.ErrConflict)
}

func TestTemplateStore_DescriptionUpdateCreatesNoVersion(t *testing.T) {
	s := newTestStore(t)

	tpl, err := s.Create("Weekly", "", "content", "alice")
	require.NoError(t, err)

	desc := "new description"
	updated, err := s.Update(tpl.ID, TemplateUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "new description", updated.Description)
	assert.True(t, updated.UpdatedAt.After(tpl.UpdatedAt) || updated.UpdatedAt.Equal(tpl.UpdatedAt))

	_, total, err := s.ListVersions(tpl.ID, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "description-only update must not append a version")
}

func TestTemplateStore_ContentUpdateAppendsExactlyOneVersion(t *testing.T) {
	s := newTestStore(t)

	tpl, err := s.Create("Weekly", "", "v1 content", "alice")
	require.NoError(t, err)

	content := "v2 content"
	changelog := "tightened the threat table"
	_, err = s.Update(tpl.ID, TemplateUpdate{ContentMD: &content, Changelog: &changelog})
	require.NoError(t, err)

	versions, total, err := s.ListVersions(tpl.ID, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, versions[0].Version, "newest first")
	assert.Equal(t, "v2 content", versions[0].ContentMD)
	assert.Equal(t, "tightened the threat table", versions[0].Changelog)
	assert.Equal(t, 1, versions[1].Version)
	assert.Empty(t, versions[1].Changelog)

	// Numbers stay gap-free and monotonic across further updates.
	for i := 0; i < 3; i++ {
		c := content + "x"
		_, err = s.Update(tpl.ID, TemplateUpdate{ContentMD: &c})
		require.NoError(t, err)
	}
	versions, total, err = s.ListVersions(tpl.ID, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	for i, v := range versions {
		assert.Equal(t, 5-i, v.Version)
	}
}

func TestTemplateStore_GetVersion(t *testing.T) {
	s := newTestStore(t)

	tpl, err := s.Create("Weekly", "", "first", "alice")
	require.NoError(t, err)
	second := "second"
	_, err = s.Update(tpl.ID, TemplateUpdate{ContentMD: &second})
	require.NoError(t, err)

	v1, err := s.GetVersion(tpl.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", v1.ContentMD)

	_, err = s.GetVersion(tpl.ID, 99)
	assert.ErrorIs(t, err, rtgerr.ErrNotFound)
}

func TestTemplateStore_DeleteCascadesVersions(t *testing.T) {
	s := newTestStore(t)

	tpl, err := s.Create("Weekly", "", "first", "alice")
	require.NoError(t, err)
	second := "second"
	_, err = s.Update(tpl.ID, TemplateUpdate{ContentMD: &second})
	require.NoError(t, err)

	require.NoError(t, s.Delete(tpl.ID))

	_, err = s.Get(tpl.ID)
	assert.ErrorIs(t, err, rtgerr.ErrNotFound)
	_, _, err = s.ListVersions(tpl.ID, 50, 0)
	assert.ErrorIs(t, err, rtgerr.ErrNotFound)

	// The name is free for reuse after the cascade.
	_, err = s.Create("Weekly", "", "fresh", "bob")
	assert.NoError(t, err)
}

func TestTemplateStore_ListOrdersByUpdatedAtAndFilters(t *testing.T) {
	s := newTestStore(t)

	older, err := s.Create("Alpha Report", "", "a", "alice")
	require.NoError(t, err)
	_, err = s.Create("Beta Report", "", "b", "alice")
	require.NoError(t, err)
	_, err = s.Create("Gamma Notes", "", "c", "alice")
	require.NoError(t, err)

	// Touch the oldest so it becomes most recently updated.
	time.Sleep(5 * time.Millisecond)
	content := "a2"
	_, err = s.Update(older.ID, TemplateUpdate{ContentMD: &content})
	require.NoError(t, err)

	items, total, err := s.List("", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, "Alpha Report", items[0].Name)

	items, total, err = s.List("report", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, it := range items {
		assert.Contains(t, it.Name, "Report")
	}

	items, total, err = s.List("", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)
}
