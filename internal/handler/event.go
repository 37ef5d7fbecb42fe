package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orderlane/webhook-engine/internal/event"
)

// ListEvents returns the event catalogue so dashboards can offer the valid
// kinds when building a subscription.
func ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": event.All()})
}
