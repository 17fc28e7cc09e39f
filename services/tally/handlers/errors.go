// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and WebSocket handlers of the tally
// service. Handlers are thin adapters: bind, validate, resolve identity, call
// the service layer, map errors onto the response taxonomy.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LiveTally/services/tally/counter"
	"github.com/jinterlante1206/LiveTally/services/tally/identity"
	"github.com/jinterlante1206/LiveTally/services/tally/jointoken"
	"github.com/jinterlante1206/LiveTally/services/tally/middleware"
	"github.com/jinterlante1206/LiveTally/services/tally/service"
)

// writeError maps a service-layer error onto the HTTP error taxonomy.
//
// Every error response is {"error": <message>}. Unrecognized errors are
// treated as store failures: logged with detail, answered with a generic 500
// so internals never leak to the caller.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, identity.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, counter.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "counter not found"})
	case errors.Is(err, jointoken.ErrInvalidToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid or expired join token"})
	case errors.Is(err, identity.ErrNameTaken),
		errors.Is(err, identity.ErrAlreadyNamed):
		c.JSON(http.StatusConflict, gin.H{"error": "display name unavailable"})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// requireIdentity fetches the resolved identity or answers 401.
// The session resolver provisions an identity for nearly every caller; a
// miss means provisioning itself failed for this request.
func requireIdentity(c *gin.Context) (identity.Identity, bool) {
	ident, ok := middleware.GetIdentity(c)
	if !ok || ident.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return identity.Identity{}, false
	}
	return ident, true
}

// HealthCheck answers liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
