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

	"github.com/jinterlante1206/LiveTally/services/tally/broadcast"
	"github.com/jinterlante1206/LiveTally/services/tally/handlers"
	"github.com/jinterlante1206/LiveTally/services/tally/identity"
	"github.com/jinterlante1206/LiveTally/services/tally/middleware"
	"github.com/jinterlante1206/LiveTally/services/tally/service"
)

// SetupRoutes registers every route of the tally service.
//
// The session resolver runs on the whole surface; admission control is
// applied only to the mutation pipeline's HTTP entry points, not to reads or
// to the push transport's message stream.
func SetupRoutes(router *gin.Engine, ids *identity.Store, svc *service.Service,
	hub *broadcast.Router, admission *middleware.Admission) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Use(middleware.SessionResolver(ids))

	auth := router.Group("/auth")
	{
		auth.POST("/register", handlers.Register(ids))
		auth.POST("/login", handlers.Login(ids))
		auth.POST("/logout", handlers.Logout(ids))
		auth.GET("/status", handlers.Status())
	}

	limited := admission.Middleware()
	counters := router.Group("/counters")
	{
		counters.GET("", handlers.ListCounters(svc))
		counters.GET("/private", handlers.ListPrivateCounters(svc))
		counters.POST("", limited, handlers.CreateCounter(svc))
		counters.POST("/:id/increment", limited, handlers.IncrementCounter(svc))
		counters.POST("/:id/share", limited, handlers.ShareCounter(svc))
		counters.POST("/join/:token", limited, handlers.JoinCounter(svc))
	}

	router.GET("/ws", handlers.HandleWebSocket(hub))
}
