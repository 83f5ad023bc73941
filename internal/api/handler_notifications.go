package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/model"
)

// GetNotifications handles GET /notifications.
func (h *Handler) GetNotifications(c *gin.Context) {
	user := caller(c).UserID
	list := h.inbox.List(user)
	if list == nil {
		list = []model.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": list,
		"unread":        h.inbox.UnreadCount(user),
	})
}

// MarkNotificationRead handles PUT /notifications/:id/read.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	n, err := h.inbox.MarkRead(c.Request.Context(), caller(c).UserID, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// DeleteNotification handles DELETE /notifications/:id.
func (h *Handler) DeleteNotification(c *gin.Context) {
	if err := h.inbox.Delete(c.Request.Context(), caller(c).UserID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
