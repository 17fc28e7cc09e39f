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

	"github.com/jinterlante1206/LiveTally/services/tally/counter"
	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
	"github.com/jinterlante1206/LiveTally/services/tally/service"
)

// CreateCounter handles POST /counters.
func CreateCounter(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateCounterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "name must be alphanumeric and up to 32 characters long",
			})
			return
		}

		ident, ok := requireIdentity(c)
		if !ok {
			return
		}

		visibility := counter.Visibility(req.Visibility)
		if visibility == "" {
			visibility = counter.Public
		}

		created, err := svc.CreateCounter(c.Request.Context(), ident, req.Name, visibility)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":         created.ID,
			"name":       created.Name,
			"value":      created.Value,
			"visibility": created.Visibility,
			"created_at": created.View().CreatedAt,
		})
	}
}

// ListCounters handles GET /counters: the public board.
//
// ?orderBy=value|name selects a direct field ordering; anything else gets the
// default trending order (value decayed by age).
func ListCounters(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		order := counter.ParseOrder(c.Query("orderBy"))
		views, err := svc.ListPublic(c.Request.Context(), order)
		if err != nil {
			writeError(c, err)
			return
		}
		if views == nil {
			views = []datatypes.CounterView{}
		}
		c.JSON(http.StatusOK, views)
	}
}

// ListPrivateCounters handles GET /counters/private: the caller's granted
// private counters.
func ListPrivateCounters(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		views, err := svc.PrivateSnapshot(c.Request.Context(), ident.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, views)
	}
}

// IncrementCounter handles POST /counters/:id/increment.
func IncrementCounter(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}

		updated, err := svc.IncrementCounter(c.Request.Context(), ident, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":    updated.ID,
			"name":  updated.Name,
			"value": updated.Value,
		})
	}
}

// ShareCounter handles POST /counters/:id/share.
func ShareCounter(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}

		token, err := svc.ShareCounter(c.Request.Context(), ident, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// JoinCounter handles POST /counters/join/:token.
func JoinCounter(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}

		joined, err := svc.JoinCounter(c.Request.Context(), ident, c.Param("token"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, joined.View())
	}
}
