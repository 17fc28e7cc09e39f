// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the HTTP middleware chain for the tally
// service: session resolution and ingress admission control.
//
// # Session Resolution Flow
//
//	Request
//	   │
//	   ▼
//	SessionResolver
//	   │
//	   ├─► Extract credential (cookie, else "Authorization: Bearer <token>")
//	   │
//	   ├─► Known credential?  ──yes──► attach existing identity
//	   │
//	   └─► Otherwise provision a fresh anonymous identity, set the session
//	       cookie, attach it. If provisioning fails the request proceeds
//	       with no identity resolved — it is never aborted here.
package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LiveTally/services/tally/identity"
)

// SessionCookie is the cookie carrying the session credential.
const SessionCookie = "tally_session"

// cookieMaxAge keeps anonymous sessions durable across visits.
const cookieMaxAge = 365 * 24 * 60 * 60

// identityKey is the gin context key for the resolved identity. Namespaced
// with the service prefix; gin context keys are plain strings.
const identityKey = "tally_identity"

// SetIdentity stores the resolved identity in the gin context.
func SetIdentity(c *gin.Context, ident identity.Identity) {
	c.Set(identityKey, ident)
}

// GetIdentity retrieves the resolved identity from the gin context.
// ok is false when no identity was resolved for this request.
func GetIdentity(c *gin.Context) (identity.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return identity.Identity{}, false
	}
	ident, ok := v.(identity.Identity)
	return ident, ok
}

// SessionResolver creates the middleware that attaches an identity to every
// request.
//
// # Description
//
// Resolves the caller's credential to a stored identity, auto-provisioning a
// fresh anonymous identity on first contact and handing the new credential
// back as a durable HttpOnly cookie. At most one identity-store write happens
// per call, and only on provisioning. The middleware never fails a request:
// if provisioning is impossible the request continues unauthenticated and
// handlers that need an identity answer 401 themselves.
//
// # Thread Safety
//
// Thread-safe; the returned middleware can be used concurrently.
func SessionResolver(ids *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := extractCredential(c)
		if cred != "" {
			ident, err := ids.ResolveCredential(c.Request.Context(), cred)
			switch {
			case err == nil:
				SetIdentity(c, ident)
				c.Next()
				return
			case !errors.Is(err, identity.ErrNotFound):
				slog.Error("credential resolution failed", "error", err)
				c.Next() // degrade to unauthenticated, never abort here
				return
			}
			// Unknown credential: fall through and provision fresh.
		}

		ident, err := ids.Provision(c.Request.Context())
		if err != nil {
			slog.Error("identity provisioning failed", "error", err)
			c.Next()
			return
		}
		SetSessionCredential(c, ident.Credential)
		SetIdentity(c, ident)
		c.Next()
	}
}

// SetSessionCredential (re)issues the session cookie. Also used by login and
// logout handlers when the caller adopts a different credential.
func SetSessionCredential(c *gin.Context, credential string) {
	c.SetCookie(SessionCookie, credential, cookieMaxAge, "/", "", false, true)
}

// extractCredential returns the caller's credential from the session cookie,
// falling back to a bearer Authorization header. Empty string when absent.
func extractCredential(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	// Expected format: "Bearer <token>", scheme case-insensitive per RFC 7235.
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
