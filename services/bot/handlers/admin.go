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
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListSessions returns every tracked session, most recent first.
//
// GET /v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.tracker.All()})
}

// ListUsers returns the allow-list split into admins and regular users.
//
// GET /v1/users
func (h *Handler) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"admins": h.access.Admins(),
		"users":  h.access.Users(),
	})
}

// AddUser grants a user access.
//
// POST /v1/users/:id
func (h *Handler) AddUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.access.Add(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id})
}

// RemoveUser revokes a user's access.
//
// DELETE /v1/users/:id
func (h *Handler) RemoveUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.access.Remove(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist removal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id})
}
