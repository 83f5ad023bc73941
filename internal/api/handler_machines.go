package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/model"
)

// MachinesResponse groups the snapshot by machine type.
type MachinesResponse struct {
	Washers []model.Machine `json:"washers"`
	Dryers  []model.Machine `json:"dryers"`
}

// GetMachines handles GET /machines.
func (h *Handler) GetMachines(c *gin.Context) {
	resp := MachinesResponse{Washers: []model.Machine{}, Dryers: []model.Machine{}}
	for _, m := range h.registry.Snapshot() {
		switch m.Type {
		case model.Washer:
			resp.Washers = append(resp.Washers, m)
		case model.Dryer:
			resp.Dryers = append(resp.Dryers, m)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetMachine handles GET /machines/:id.
func (h *Handler) GetMachine(c *gin.Context) {
	id, err := machineID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	m, err := h.registry.Get(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// GetCategories handles GET /categories.
func (h *Handler) GetCategories(c *gin.Context) {
	catalog := h.registry.Catalog()
	out := make(map[model.MachineType][]gin.H, len(model.MachineTypes))
	for _, typ := range model.MachineTypes {
		entries := []gin.H{}
		for _, name := range catalog.Categories(typ) {
			d, _ := catalog.Duration(typ, name)
			entries = append(entries, gin.H{"name": name, "minutes": int(d.Minutes())})
		}
		out[typ] = entries
	}
	c.JSON(http.StatusOK, out)
}

type startRequest struct {
	Category string `json:"category" binding:"required"`
}

// StartMachine handles POST /machines/:id/start.
func (h *Handler) StartMachine(c *gin.Context) {
	id, err := machineID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}
	m, err := h.registry.Start(id, caller(c), req.Category)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// machineCommand adapts a registry command that only needs the caller.
func (h *Handler) machineCommand(cmd func(int64, identity.Identity) (model.Machine, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := machineID(c)
		if err != nil {
			h.writeError(c, err)
			return
		}
		m, err := cmd(id, caller(c))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled handles PUT /machines/:id/enabled.
func (h *Handler) SetEnabled(c *gin.Context) {
	id, err := machineID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}
	m, err := h.registry.SetEnabled(id, *req.Enabled, caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type faultRequest struct {
	Description string `json:"description"`
	PhotoData   string `json:"photo_data"`
}

// ReportFault handles POST /machines/:id/faults.
func (h *Handler) ReportFault(c *gin.Context) {
	id, err := machineID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req faultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}
	outcome, err := h.faults.ReportFault(id, caller(c), req.Description, req.PhotoData)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"machine":       outcome.Machine,
		"open_reports":  outcome.OpenReports,
		"auto_disabled": outcome.AutoDisabled,
	})
}

// GetFaults handles GET /machines/:id/faults.
func (h *Handler) GetFaults(c *gin.Context) {
	id, err := machineID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	reports, err := h.faults.OpenReports(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if reports == nil {
		reports = []model.FaultReport{}
	}
	c.JSON(http.StatusOK, gin.H{
		"machine_id":   id,
		"open_reports": len(reports),
		"threshold":    h.faults.Threshold(),
		"reports":      reports,
	})
}

type maintenanceRequest struct {
	Note string `json:"note"`
}

// RecordMaintenance handles POST /machines/:id/maintenance.
func (h *Handler) RecordMaintenance(c *gin.Context) {
	id, err := machineID(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, malformed(err))
		return
	}
	m, err := h.faults.RecordMaintenance(id, req.Note, caller(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
