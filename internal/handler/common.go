// Package handler exposes the management API. Tenancy is header-based: the
// upstream gateway authenticates the caller and injects X-Tenant-ID.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orderlane/webhook-engine/internal/apperrors"
)

const tenantHeader = "X-Tenant-ID"

const tenantKey = "tenantID"

// TenantRequired rejects requests without a tenant header and stashes the
// tenant id for handlers.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(tenantHeader)
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + tenantHeader + " header"})
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

func tenant(c *gin.Context) string {
	return c.GetString(tenantKey)
}

// respondErr renders a service error using the apperrors status mapping.
// Unexpected errors are logged and hidden behind a generic message.
func respondErr(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var ae *apperrors.Error
	if errors.As(err, &ae) && ae.Field != "" {
		body["field"] = ae.Field
	}
	c.JSON(status, body)
}
