// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

func TestDebugStore_EvictsOldest(t *testing.T) {
	store := newDebugStore(2)

	a := pipeline.NewCarrier("a", "", nil)
	b := pipeline.NewCarrier("b", "", nil)
	c := pipeline.NewCarrier("c", "", nil)
	store.put(a)
	store.put(b)
	store.put(c)

	if _, ok := store.get(a.RequestID); ok {
		t.Error("oldest carrier should be evicted")
	}
	if _, ok := store.get(b.RequestID); !ok {
		t.Error("second carrier should survive")
	}
	if _, ok := store.get(c.RequestID); !ok {
		t.Error("newest carrier should survive")
	}
}

func TestHandleDebug(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newDebugStore(10)
	carrier := pipeline.NewCarrier("who won?", "", nil)
	store.put(carrier)

	router := gin.New()
	router.GET("/v1/debug/:id", handleDebug(store))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/debug/"+carrier.RequestID, nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/debug/nope", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
