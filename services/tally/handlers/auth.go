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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LiveTally/services/tally/datatypes"
	"github.com/jinterlante1206/LiveTally/services/tally/identity"
	"github.com/jinterlante1206/LiveTally/services/tally/middleware"
)

// Register handles POST /auth/register.
//
// # Description
//
// Escalates the caller's current anonymous identity in place: the chosen
// display name and password are bound to the identity the session already
// resolves to, preserving its id. Counters created before registering stay
// owned by the caller. The session credential does not change.
func Register(ids *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "display name must be 3-20 word characters and password at least 6 characters",
			})
			return
		}

		ident, ok := requireIdentity(c)
		if !ok {
			return
		}

		named, err := ids.Escalate(c.Request.Context(), ident, req.DisplayName, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		middleware.SetIdentity(c, named)

		slog.Info("identity escalated", "identity", named.ID, "displayName", named.DisplayName)
		c.JSON(http.StatusOK, gin.H{
			"authenticated": true,
			"displayName":   named.DisplayName,
		})
	}
}

// Login handles POST /auth/login.
//
// On success the caller adopts the matched identity's existing credential,
// replacing whatever anonymous credential it held. Counters owned by the
// prior anonymous identity are NOT migrated — only escalation preserves them.
func Login(ids *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "display name and password are required"})
			return
		}

		ident, err := ids.Login(c.Request.Context(), req.DisplayName, req.Password)
		if err != nil {
			// Unknown name and wrong password answer identically.
			writeError(c, err)
			return
		}

		middleware.SetSessionCredential(c, ident.Credential)
		middleware.SetIdentity(c, ident)
		slog.Info("login", "identity", ident.ID)
		c.JSON(http.StatusOK, gin.H{
			"authenticated": true,
			"displayName":   ident.DisplayName,
		})
	}
}

// Logout handles POST /auth/logout.
//
// Logout never deletes anything: the old identity stays intact (it may still
// be logged in elsewhere), and the caller's session is pointed at a freshly
// provisioned anonymous identity.
func Logout(ids *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := ids.Provision(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		middleware.SetSessionCredential(c, ident.Credential)
		middleware.SetIdentity(c, ident)
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
	}
}

// Status handles GET /auth/status.
func Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := middleware.GetIdentity(c)
		if !ok || !ident.IsNamed() {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"authenticated": true,
			"displayName":   ident.DisplayName,
		})
	}
}
