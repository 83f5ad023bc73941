package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/model"
)

func TestMetrics_TracksEventsAndStatuses(t *testing.T) {
	m := New()
	m.Seed([]model.Machine{
		{ID: 1, Status: model.StatusAvailable},
		{ID: 2, Status: model.StatusAvailable},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("available")))

	m.Handle(event.Event{Kind: event.MachineStarted, Machines: []model.Machine{{ID: 1, Status: model.StatusInUse}}})
	m.Handle(event.Event{Kind: event.MachineTicked, Machines: []model.Machine{{ID: 1, Status: model.StatusInUse}}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MachinesByStatus.WithLabelValues("in_use")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("machine_started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("machine_ticked")))
}

func TestMetrics_Delivered(t *testing.T) {
	m := New()
	m.Delivered("mqtt", nil)
	m.Delivered("mqtt", errors.New("broker down"))
	m.Delivered("mqtt", errors.New("broker down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertDeliveries.WithLabelValues("mqtt", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertDeliveries.WithLabelValues("mqtt", "failed")))
}

func TestMetrics_Endpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	m.ObserveConnections(func() int { return 3 })

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "laundry_sync_connections 3")
	assert.Contains(t, string(body), `laundry_http_request_duration_seconds_count{code="204",method="GET",route="/ping"} 1`)
}
