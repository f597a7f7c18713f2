// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TyanRL/telegram-bot/services/bot/handlers"
	"github.com/TyanRL/telegram-bot/services/bot/middleware"
)

func SetupRoutes(router *gin.Engine, h *handlers.Handler, adminToken string) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/telegram-webhook", h.Webhook)

	// Operator API, bearer-token guarded.
	v1 := router.Group("/v1", middleware.AdminAuth(adminToken))
	{
		v1.GET("/sessions", h.ListSessions)

		users := v1.Group("/users")
		{
			users.GET("", h.ListUsers)
			users.POST("/:id", h.AddUser)
			users.DELETE("/:id", h.RemoveUser)
		}
	}
}
