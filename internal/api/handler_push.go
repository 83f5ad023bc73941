package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/model"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription registers a browser push endpoint for the caller, replacing
// the keys of an endpoint that is already known.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}

	subscription := model.PushSubscription{
		Endpoint:  req.Endpoint,
		P256DH:    req.P256DH,
		Auth:      req.Auth,
		UserID:    caller(c).UserID,
		CreatedAt: time.Now(),
	}
	if err := h.store.PutSubscription(c.Request.Context(), subscription); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes one of the caller's endpoints.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}

	owned, err := h.ownsEndpoint(c, req.Endpoint)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if owned {
		if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
			h.writeError(c, err)
			return
		}
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads key without URL decoding; push endpoints are compared
// byte for byte with what the browser registered.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription lists the caller's endpoints, or with ?endpoint= reports
// whether that endpoint is registered.
func (h *Handler) GetSubscription(c *gin.Context) {
	subs, err := h.store.SubscriptionsForUser(c.Request.Context(), caller(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok {
		endpoints := make([]string, len(subs))
		for i, sub := range subs {
			endpoints[i] = sub.Endpoint
		}
		c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
		return
	}

	for _, sub := range subs {
		if sub.Endpoint == raw {
			c.JSON(http.StatusOK, gin.H{"endpoint": sub.Endpoint, "subscribed": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found", "code": "SubscriptionNotFound", "kind": "not_found"})
}

func (h *Handler) ownsEndpoint(c *gin.Context, endpoint string) (bool, error) {
	subs, err := h.store.SubscriptionsForUser(c.Request.Context(), caller(c).UserID)
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if sub.Endpoint == endpoint {
			return true, nil
		}
	}
	return false, nil
}

// GetVAPIDPublicKey returns the application server key browsers pass to
// pushManager.subscribe.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "web push is not configured", "code": "PushDisabled", "kind": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
