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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(token, header string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/v1/ping", AdminAuth(token), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	t.Run("valid token passes", func(t *testing.T) {
		w := doRequest("secret", "Bearer secret")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong token is unauthorized", func(t *testing.T) {
		w := doRequest("secret", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		w := doRequest("secret", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header is unauthorized", func(t *testing.T) {
		w := doRequest("secret", "Token secret")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("empty configured token disables the surface", func(t *testing.T) {
		w := doRequest("", "Bearer anything")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
