// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ReportForge/services/rtg/datatypes"
	"github.com/AleutianAI/ReportForge/services/rtg/scheduler"
)

type CreateScheduleRequest struct {
	Name           string               `json:"name"`
	CronExpression string               `json:"cron_expression" binding:"required"`
	Content        string               `json:"content" binding:"required"`
	TemplateID     string               `json:"template_id"`
	Filters        *datatypes.Filters   `json:"filters"`
	ProjectIDs     []string             `json:"project_ids"`
	Provider       string               `json:"provider"`
	Model          string               `json:"model"`
	Delivery       scheduler.Delivery   `json:"delivery"`
	Enabled        *bool                `json:"enabled"`
	Conditions     scheduler.Conditions `json:"conditions"`
}

type UpdateScheduleRequest struct {
	Name           *string               `json:"name"`
	CronExpression *string               `json:"cron_expression"`
	Enabled        *bool                 `json:"enabled"`
	Delivery       *scheduler.Delivery   `json:"delivery"`
	Conditions     *scheduler.Conditions `json:"conditions"`
	Filters        *datatypes.Filters    `json:"filters"`
	ProjectIDs     *[]string             `json:"project_ids"`
	Content        *string               `json:"content"`
}

func CreateSchedule(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		created, err := sched.Add(scheduler.Schedule{
			Name:           req.Name,
			CronExpression: req.CronExpression,
			Content:        req.Content,
			TemplateID:     req.TemplateID,
			Filters:        req.Filters,
			ProjectIDs:     req.ProjectIDs,
			Provider:       req.Provider,
			Model:          req.Model,
			Delivery:       req.Delivery,
			Enabled:        enabled,
			Conditions:     req.Conditions,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func ListSchedules(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		items := sched.List()
		c.JSON(http.StatusOK, listResponse{Items: items, Total: len(items), Limit: len(items), Offset: 0})
	}
}

func GetSchedule(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := sched.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func UpdateSchedule(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := sched.Update(c.Param("id"), scheduler.ScheduleUpdate{
			Name:           req.Name,
			CronExpression: req.CronExpression,
			Enabled:        req.Enabled,
			Delivery:       req.Delivery,
			Conditions:     req.Conditions,
			Filters:        req.Filters,
			ProjectIDs:     req.ProjectIDs,
			Content:        req.Content,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func DeleteSchedule(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sched.Remove(c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// TriggerSchedule runs a schedule immediately, bypassing cron timing
// and conditions. Run metrics are recorded by the scheduler itself so
// cron-driven and manual executions count the same way.
func TriggerSchedule(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := sched.Trigger(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}
