// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin endpoints of the report service.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReportForge/services/rtg/store"
)

type CreateTemplateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ContentMD   string `json:"content_md" binding:"required"`
	CreatedBy   string `json:"created_by"`
}

type UpdateTemplateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ContentMD   *string `json:"content_md"`
	Changelog   *string `json:"changelog"`
}

// listResponse is the standard paged envelope.
type listResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// pagination parses limit/offset query params with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 {
		limit = v
	}
	if limit > 200 {
		limit = 200
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// requireTemplateID rejects the numeric ids of the pre-UUID era with a
// 400 instead of a misleading 404.
func requireTemplateID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := strconv.Atoi(id); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "numeric template ids are no longer supported; use the template uuid",
		})
		return "", false
	}
	return id, true
}

func CreateTemplate(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateTemplateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tpl, err := templates.Create(req.Name, req.Description, req.ContentMD, req.CreatedBy)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, tpl)
	}
}

func ListTemplates(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		items, total, err := templates.List(c.Query("q"), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listResponse{Items: items, Total: total, Limit: limit, Offset: offset})
	}
}

func GetTemplate(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireTemplateID(c)
		if !ok {
			return
		}
		tpl, err := templates.Get(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
	}
}

func UpdateTemplate(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireTemplateID(c)
		if !ok {
			return
		}
		var req UpdateTemplateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tpl, err := templates.Update(id, store.TemplateUpdate{
			Name:        req.Name,
			Description: req.Description,
			ContentMD:   req.ContentMD,
			Changelog:   req.Changelog,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, tpl)
	}
}

func DeleteTemplate(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireTemplateID(c)
		if !ok {
			return
		}
		if err := templates.Delete(id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func ListTemplateVersions(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireTemplateID(c)
		if !ok {
			return
		}
		limit, offset := pagination(c)
		versions, total, err := templates.ListVersions(id, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listResponse{Items: versions, Total: total, Limit: limit, Offset: offset})
	}
}

func GetTemplateVersion(templates *store.TemplateStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireTemplateID(c)
		if !ok {
			return
		}
		version, err := strconv.Atoi(c.Param("version"))
		if err != nil || version < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
			return
		}
		v, err := templates.GetVersion(id, version)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// ListTemplateReports returns the generated reports recorded against a
// template, newest first.
func ListTemplateReports(templates *store.TemplateStore, reports *store.ReportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requireTemplateID(c)
		if !ok {
			return
		}
		if _, err := templates.Get(id); err != nil {
			respondError(c, err)
			return
		}
		items, err := reports.ListByTemplate(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, listResponse{Items: items, Total: len(items), Limit: len(items), Offset: 0})
	}
}
