package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/model"
	"laundry-sync-backend/internal/store"
)

const maxActivityLimit = 1000

// GetActivities handles GET /activities?machine_id=&actor=&limit=.
func (h *Handler) GetActivities(c *gin.Context) {
	var filter store.ActivityFilter
	if raw := c.Query("machine_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.writeError(c, apperr.New(apperr.ErrMalformed, "invalid machine_id %q", raw))
			return
		}
		filter.MachineID = id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(c, apperr.New(apperr.ErrMalformed, "invalid limit %q", raw))
			return
		}
		filter.Limit = min(limit, maxActivityLimit)
	}
	filter.Actor = c.Query("actor")

	activities, err := h.store.ListActivities(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if activities == nil {
		activities = []model.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

// ListFaults handles GET /faults: open reports across every machine, newest
// first. Administrators only.
func (h *Handler) ListFaults(c *gin.Context) {
	if !caller(c).Admin {
		h.writeError(c, apperr.New(apperr.ErrAdminRequired, "listing fault reports requires administrative capability"))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(c, apperr.New(apperr.ErrMalformed, "invalid limit %q", raw))
			return
		}
		limit = n
	}
	reports, err := h.store.ListFaults(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if reports == nil {
		reports = []model.FaultReport{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}
