// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LiveTally/services/tally/identity"
	"github.com/jinterlante1206/LiveTally/services/tally/storage/badger"
)

func newTestIdentityStore(t *testing.T) *identity.Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return identity.NewStore(db, nil)
}

// setupSessionRouter builds a router that echoes the resolved identity id.
func setupSessionRouter(ids *identity.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SessionResolver(ids))
	router.GET("/whoami", func(c *gin.Context) {
		ident, ok := GetIdentity(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"id": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": ident.ID})
	})
	return router
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == SessionCookie {
			return ck
		}
	}
	return nil
}

func TestSessionResolver_ProvisionsOnFirstContact(t *testing.T) {
	router := setupSessionRouter(newTestIdentityStore(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	ck := sessionCookie(t, w)
	if ck == nil || ck.Value == "" {
		t.Fatal("expected a session cookie on first contact")
	}
	if !ck.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
}

func TestSessionResolver_ResolvesExistingCredential(t *testing.T) {
	ids := newTestIdentityStore(t)
	router := setupSessionRouter(ids)

	ident, err := ids.Provision(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: ident.Credential})
	router.ServeHTTP(w, req)

	if got := w.Body.String(); got != `{"id":"`+ident.ID+`"}` {
		t.Errorf("body = %s, want the provisioned identity id", got)
	}
	// A valid session gets no replacement cookie.
	if ck := sessionCookie(t, w); ck != nil {
		t.Errorf("unexpected cookie reissue: %v", ck)
	}
}

func TestSessionResolver_BearerFallback(t *testing.T) {
	ids := newTestIdentityStore(t)
	router := setupSessionRouter(ids)

	ident, err := ids.Provision(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+ident.Credential)
	router.ServeHTTP(w, req)

	if got := w.Body.String(); got != `{"id":"`+ident.ID+`"}` {
		t.Errorf("body = %s, want the provisioned identity id", got)
	}
}

func TestSessionResolver_UnknownCredentialGetsFreshIdentity(t *testing.T) {
	ids := newTestIdentityStore(t)
	router := setupSessionRouter(ids)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "stale-credential"})
	router.ServeHTTP(w, req)

	ck := sessionCookie(t, w)
	if ck == nil || ck.Value == "" || ck.Value == "stale-credential" {
		t.Fatalf("expected a fresh session cookie, got %v", ck)
	}
	if _, err := ids.ResolveCredential(context.Background(), ck.Value); err != nil {
		t.Errorf("fresh credential does not resolve: %v", err)
	}
}
