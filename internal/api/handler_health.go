package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/identity"
)

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(c *gin.Context) {
	active := 0
	machines := h.registry.Snapshot()
	for _, m := range machines {
		if m.Status.Occupied() {
			active++
		}
	}
	resp := gin.H{
		"status":         "ok",
		"machines":       len(machines),
		"occupied":       active,
		"sync_observers": 0,
	}
	if h.hub != nil {
		resp["sync_observers"] = h.hub.Connections()
	}
	c.JSON(http.StatusOK, resp)
}

type issueTokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Admin  bool   `json:"admin"`
}

// IssueToken handles POST /tokens. Admins mint short-lived tokens for
// residents and watch clients.
func (h *Handler) IssueToken(c *gin.Context) {
	if !caller(c).Admin {
		h.writeError(c, apperr.New(apperr.ErrAdminRequired, "only admins can issue tokens"))
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}
	token := h.tokens.Issue(identity.Identity{UserID: req.UserID, Admin: req.Admin})
	c.JSON(http.StatusCreated, gin.H{"token": token, "user_id": req.UserID, "admin": req.Admin})
}

type revokeTokenRequest struct {
	Token string `json:"token"`
}

// RevokeToken handles DELETE /tokens. Without a body it signs the caller out;
// admins may name any other token. Unknown tokens are not an error.
func (h *Handler) RevokeToken(c *gin.Context) {
	var req revokeTokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.writeError(c, malformed(err))
			return
		}
	}
	target := req.Token
	if target == "" {
		target = bearerToken(c)
	}

	if owner, err := h.tokens.Resolve(c.Request.Context(), target); err == nil {
		if me := caller(c); owner.UserID != me.UserID && !me.Admin {
			h.writeError(c, apperr.New(apperr.ErrAdminRequired, "only admins can revoke another user's token"))
			return
		}
		h.tokens.Revoke(target)
	}
	c.Status(http.StatusNoContent)
}
