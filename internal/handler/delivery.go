package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/apperrors"
	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/store"
)

type DeliveryHandler struct {
	deliveries store.DeliveryStore
}

func NewDeliveryHandler(deliveries store.DeliveryStore) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries}
}

type deliveryPage struct {
	Deliveries []model.Delivery `json:"deliveries"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
}

func (h *DeliveryHandler) List(c *gin.Context) {
	var f store.DeliveryFilter

	if s := c.Query("subscription"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
			return
		}
		f.SubscriptionID = &id
	}
	if s := c.Query("status"); s != "" {
		st := model.DeliveryStatus(s)
		if !model.ValidDeliveryStatus(st) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		f.Status = &st
	}
	if s := c.Query("event"); s != "" {
		k, err := event.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind"})
			return
		}
		f.Event = &k
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	f.Page, _ = strconv.Atoi(c.Query("page"))
	f.PerPage, _ = strconv.Atoi(c.Query("per_page"))

	deliveries, total, err := h.deliveries.List(c.Request.Context(), tenant(c), f)
	if err != nil {
		respondErr(c, err)
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	c.JSON(http.StatusOK, deliveryPage{
		Deliveries: deliveries,
		Total:      total,
		Page:       page,
		PerPage:    f.Limit(),
	})
}

func (h *DeliveryHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}

	d, err := h.deliveries.Get(c.Request.Context(), tenant(c), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondErr(c, apperrors.NotFound("delivery", id.String()))
			return
		}
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
