package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/orderlane/webhook-engine/internal/registry"
	"github.com/orderlane/webhook-engine/internal/store"
)

// Register mounts the management API under /api. Shared by cmd/api and the
// handler tests.
func Register(r *gin.Engine, s *store.Store, reg *registry.Registry) {
	subH := NewSubscriptionHandler(reg, s.Deliveries)
	delH := NewDeliveryHandler(s.Deliveries)

	api := r.Group("/api", TenantRequired())
	{
		subs := api.Group("/subscriptions")
		{
			subs.GET("", subH.List)
			subs.POST("", subH.Create)
			subs.GET("/:id", subH.Get)
			subs.PATCH("/:id", subH.Update)
			subs.DELETE("/:id", subH.Delete)
			subs.POST("/:id/toggle", subH.Toggle)
			subs.POST("/:id/secret", subH.RegenerateSecret)
			subs.GET("/:id/stats", subH.Stats)
		}

		deliveries := api.Group("/deliveries")
		{
			deliveries.GET("", delH.List)
			deliveries.GET("/:id", delH.Get)
		}

		api.GET("/events", ListEvents)
	}
}
