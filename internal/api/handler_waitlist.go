package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/model"
)

func machineType(c *gin.Context) (model.MachineType, error) {
	typ, ok := model.ParseMachineType(c.Param("type"))
	if !ok {
		return "", apperr.New(apperr.ErrInvalidMachineType, "unknown machine type %q", c.Param("type"))
	}
	return typ, nil
}

// GetWaitlist handles GET /waitlist/:type.
func (h *Handler) GetWaitlist(c *gin.Context) {
	typ, err := machineType(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := h.waitlist.List(typ)
	if items == nil {
		items = []model.WaitlistItem{}
	}
	c.JSON(http.StatusOK, gin.H{"machine_type": typ, "items": items})
}

// JoinWaitlist handles POST /waitlist/:type.
func (h *Handler) JoinWaitlist(c *gin.Context) {
	typ, err := machineType(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	item, err := h.waitlist.Join(typ, caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// LeaveWaitlist handles DELETE /waitlist/:type. Admins may remove someone
// else with ?target=.
func (h *Handler) LeaveWaitlist(c *gin.Context) {
	typ, err := machineType(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	item, err := h.waitlist.Leave(typ, caller(c), c.Query("target"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
