package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/registry"
	"github.com/orderlane/webhook-engine/internal/store"
)

type SubscriptionHandler struct {
	registry   *registry.Registry
	deliveries store.DeliveryStore
}

func NewSubscriptionHandler(r *registry.Registry, deliveries store.DeliveryStore) *SubscriptionHandler {
	return &SubscriptionHandler{registry: r, deliveries: deliveries}
}

type createSubscriptionRequest struct {
	Name           string            `json:"name"`
	TargetURL      string            `json:"target_url"`
	Events         []string          `json:"events"`
	Headers        map[string]string `json:"headers,omitempty"`
	MaxRetries     *int              `json:"max_retries,omitempty"`
	TimeoutSeconds *int              `json:"timeout_seconds,omitempty"`
}

type updateSubscriptionRequest struct {
	Name           *string           `json:"name,omitempty"`
	TargetURL      *string           `json:"target_url,omitempty"`
	Events         []string          `json:"events,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	MaxRetries     *int              `json:"max_retries,omitempty"`
	TimeoutSeconds *int              `json:"timeout_seconds,omitempty"`
}

type toggleRequest struct {
	IsActive *bool `json:"is_active"`
}

func kinds(names []string) []event.Kind {
	if names == nil {
		return nil
	}
	out := make([]event.Kind, len(names))
	for i, n := range names {
		out[i] = event.Kind(n)
	}
	return out
}

func (h *SubscriptionHandler) List(c *gin.Context) {
	subs, err := h.registry.List(c.Request.Context(), tenant(c))
	if err != nil {
		respondErr(c, err)
		return
	}

	redacted := make([]model.Subscription, 0, len(subs))
	for _, s := range subs {
		redacted = append(redacted, s.Redacted())
	}
	c.JSON(http.StatusOK, redacted)
}

func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub, err := h.registry.Create(c.Request.Context(), tenant(c), registry.CreateInput{
		Name:           req.Name,
		TargetURL:      req.TargetURL,
		Events:         kinds(req.Events),
		Headers:        req.Headers,
		MaxRetries:     req.MaxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	// The only response that carries the secret besides regenerate.
	c.JSON(http.StatusCreated, sub)
}

func (h *SubscriptionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	sub, err := h.registry.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.Redacted())
}

func (h *SubscriptionHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	var req updateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub, err := h.registry.Update(c.Request.Context(), tenant(c), id, store.SubscriptionPatch{
		Name:           req.Name,
		TargetURL:      req.TargetURL,
		Events:         kinds(req.Events),
		Headers:        req.Headers,
		MaxRetries:     req.MaxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.Redacted())
}

func (h *SubscriptionHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	if err := h.registry.Delete(c.Request.Context(), tenant(c), id); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SubscriptionHandler) Toggle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
		return
	}

	sub, err := h.registry.Toggle(c.Request.Context(), tenant(c), id, *req.IsActive)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.Redacted())
}

func (h *SubscriptionHandler) RegenerateSecret(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	secret, err := h.registry.RegenerateSecret(c.Request.Context(), tenant(c), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret})
}

func (h *SubscriptionHandler) Stats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	// Existence check so an unknown id is a 404, not empty stats.
	if _, err := h.registry.Get(c.Request.Context(), tenant(c), id); err != nil {
		respondErr(c, err)
		return
	}

	days := 7
	if d := c.Query("days"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}
	since := time.Now().AddDate(0, 0, -days)

	stats, err := h.deliveries.Stats(c.Request.Context(), tenant(c), &id, since)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
