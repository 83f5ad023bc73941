package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/db"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/fault"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/machine"
	"laundry-sync-backend/internal/model"
	"laundry-sync-backend/internal/notification"
	"laundry-sync-backend/internal/store"
	"laundry-sync-backend/internal/waitlist"
)

type fixture struct {
	router   *gin.Engine
	registry *machine.Registry
	store    store.Store
	events   *event.Collector
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	testDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(testDB))
	return store.NewGormStore(testDB)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := event.NewBus()
	registry := machine.NewRegistry(machine.DefaultCatalog(), bus)
	require.NoError(t, registry.Load(machine.Provisioned(2, 2)))
	wl := waitlist.New(bus, nil)
	inbox := notification.NewDispatcher(bus, nil)
	collector := &event.Collector{}
	bus.Subscribe(wl)
	bus.Subscribe(inbox)
	bus.Subscribe(collector)

	tokens := identity.NewTokenStore(time.Hour)
	tokens.Register("s1", identity.Identity{UserID: "S1"})
	tokens.Register("s2", identity.Identity{UserID: "S2"})
	tokens.Register("warden", identity.Identity{UserID: "warden", Admin: true})

	st := newSQLiteStore(t)
	h := NewHandler(Deps{
		Registry: registry,
		Waitlist: wl,
		Faults:   fault.NewAggregator(registry, 3),
		Inbox:    inbox,
		Store:    st,
		Tokens:   tokens,
		WebPush:  &webpush.Options{VAPIDPublicKey: "public-key"},
	})
	router := NewRouter(h, RouterOptions{
		Server:     config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1},
		Identities: tokens,
	})
	return &fixture{router: router, registry: registry, store: st, events: collector}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind"`
}

func TestMachines_Snapshot(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/machines", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp MachinesResponse
	decode(t, w, &resp)
	assert.Len(t, resp.Washers, 2)
	assert.Len(t, resp.Dryers, 2)

	w = f.do(http.MethodGet, "/api/v1/machines/3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m model.Machine
	decode(t, w, &m)
	assert.Equal(t, model.Dryer, m.Type)

	w = f.do(http.MethodGet, "/api/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"quick"`)
}

func TestMachines_StartErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"no token", "/api/v1/machines/1/start", "", gin.H{"category": "normal"}, http.StatusUnauthorized, "Unauthenticated"},
		{"unknown token", "/api/v1/machines/1/start", "nope", gin.H{"category": "normal"}, http.StatusUnauthorized, "Unauthenticated"},
		{"malformed id", "/api/v1/machines/abc/start", "s1", gin.H{"category": "normal"}, http.StatusBadRequest, "Malformed"},
		{"missing category", "/api/v1/machines/1/start", "s1", gin.H{}, http.StatusBadRequest, "Malformed"},
		{"unknown category", "/api/v1/machines/1/start", "s1", gin.H{"category": "spin"}, http.StatusBadRequest, "InvalidCategory"},
		{"unknown machine", "/api/v1/machines/99/start", "s1", gin.H{"category": "normal"}, http.StatusNotFound, "MachineNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code)
			var body errorBody
			decode(t, w, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}

	m, err := f.registry.Get(1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, m.Status, "failed starts never mutate")
}

func TestMachines_Lifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/machines/1/start", "s1", gin.H{"category": "normal"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var m model.Machine
	decode(t, w, &m)
	assert.Equal(t, model.StatusInUse, m.Status)
	assert.Equal(t, "S1", m.CurrentUser)

	w = f.do(http.MethodPost, "/api/v1/machines/1/start", "s2", gin.H{"category": "quick"})
	assert.Equal(t, http.StatusConflict, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "NotAvailable", body.Code)
	assert.Equal(t, "conflict", body.Kind)

	w = f.do(http.MethodPost, "/api/v1/machines/1/end", "s1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/api/v1/machines/1/end", "warden", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &m)
	assert.Equal(t, model.StatusCompleted, m.Status)

	w = f.do(http.MethodPost, "/api/v1/machines/1/collect", "s2", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "only the owner collects")

	w = f.do(http.MethodPost, "/api/v1/machines/1/await", "s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodPost, "/api/v1/machines/1/collect", "s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &m)
	assert.Equal(t, model.StatusAvailable, m.Status)

	w = f.do(http.MethodPost, "/api/v1/machines/2/start", "s2", gin.H{"category": "quick"})
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodPost, "/api/v1/machines/2/cancel", "s2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPut, "/api/v1/machines/2/enabled", "warden", gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &m)
	assert.False(t, m.Enabled)

	w = f.do(http.MethodPut, "/api/v1/machines/2/enabled", "warden", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "enabled is required")
}

func TestFaults_AutoDisable(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/machines/4/faults", "s1", gin.H{"description": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var last map[string]any
	for i, token := range []string{"s1", "s2", "s1"} {
		w = f.do(http.MethodPost, "/api/v1/machines/4/faults", token, gin.H{"description": fmt.Sprintf("drum squeaks %d", i)})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		decode(t, w, &last)
	}
	assert.Equal(t, true, last["auto_disabled"])
	assert.EqualValues(t, 3, last["open_reports"])

	w = f.do(http.MethodGet, "/api/v1/machines/4/faults", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var faults struct {
		OpenReports int                 `json:"open_reports"`
		Threshold   int                 `json:"threshold"`
		Reports     []model.FaultReport `json:"reports"`
	}
	decode(t, w, &faults)
	assert.Equal(t, 3, faults.OpenReports)
	assert.Equal(t, 3, faults.Threshold)
	assert.Len(t, faults.Reports, 3)

	w = f.do(http.MethodPost, "/api/v1/machines/4/maintenance", "s1", gin.H{"note": "fixed"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(http.MethodPost, "/api/v1/machines/4/maintenance", "warden", gin.H{"note": "belt replaced"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/machines/4/faults", "", nil)
	decode(t, w, &faults)
	assert.Zero(t, faults.OpenReports)
}

func TestFaults_ListAcrossMachines(t *testing.T) {
	f := newFixture(t)
	photo := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))

	w := f.do(http.MethodPost, "/api/v1/machines/2/faults", "s1", gin.H{"description": "door seal torn", "photo_data": "%%%"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var eb errorBody
	decode(t, w, &eb)
	assert.Equal(t, "InvalidPhoto", eb.Code)

	w = f.do(http.MethodPost, "/api/v1/machines/2/faults", "s1", gin.H{"description": "door seal torn", "photo_data": photo})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), photo, "the machine snapshot leaves the photo out")

	// Persist what the recorder would, plus an older report on another machine.
	ctx := context.Background()
	for _, e := range f.events.Events() {
		if e.Kind == event.FaultReported {
			require.NoError(t, f.store.InsertFault(ctx, *e.Fault))
		}
	}
	require.NoError(t, f.store.InsertFault(ctx, model.FaultReport{
		ID: "older", MachineID: 3, Reporter: "S2", Description: "lint filter jammed", CreatedAt: time.Now().Add(-time.Hour),
	}))

	w = f.do(http.MethodGet, "/api/v1/faults", "s1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(http.MethodGet, "/api/v1/faults", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodGet, "/api/v1/faults", "warden", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Reports []model.FaultReport `json:"reports"`
	}
	decode(t, w, &list)
	require.Len(t, list.Reports, 2)
	assert.Equal(t, int64(2), list.Reports[0].MachineID, "newest first")
	assert.Equal(t, photo, list.Reports[0].PhotoData)
	assert.Equal(t, "older", list.Reports[1].ID)

	w = f.do(http.MethodGet, "/api/v1/faults?limit=1", "warden", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Len(t, list.Reports, 1)

	w = f.do(http.MethodGet, "/api/v1/faults?limit=zero", "warden", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWaitlist(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/waitlist/dryer", "s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodPost, "/api/v1/waitlist/dryer", "s2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/waitlist/dryer", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []model.WaitlistItem `json:"items"`
	}
	decode(t, w, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "S1", list.Items[0].UserID)

	w = f.do(http.MethodDelete, "/api/v1/waitlist/dryer?target=S1", "s2", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "only admins remove others")

	w = f.do(http.MethodDelete, "/api/v1/waitlist/dryer?target=S1", "warden", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/waitlist/spinner", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "InvalidMachineType", body.Code)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/machines/1/start", "s1", gin.H{"category": "quick"}).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/machines/1/end", "warden", nil).Code)

	w := f.do(http.MethodGet, "/api/v1/notifications", "s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inbox struct {
		Notifications []model.Notification `json:"notifications"`
		Unread        int                  `json:"unread"`
	}
	decode(t, w, &inbox)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, 1, inbox.Unread)
	id := inbox.Notifications[0].ID

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/api/v1/notifications/"+id+"/read", "s2", nil).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPut, "/api/v1/notifications/"+id+"/read", "s1", nil).Code)

	w = f.do(http.MethodGet, "/api/v1/notifications", "s1", nil)
	decode(t, w, &inbox)
	assert.Zero(t, inbox.Unread)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/notifications/"+id, "s1", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/notifications/"+id, "s1", nil).Code)
}

func TestActivities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.AppendActivity(ctx, model.Activity{MachineID: 1, Kind: "machine_started", Actor: "S1", CreatedAt: now}))
	require.NoError(t, f.store.AppendActivity(ctx, model.Activity{MachineID: 2, Kind: "machine_started", Actor: "S2", CreatedAt: now.Add(time.Second)}))

	w := f.do(http.MethodGet, "/api/v1/activities?machine_id=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Activities []model.Activity `json:"activities"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Activities, 1)
	assert.Equal(t, "S2", resp.Activities[0].Actor)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/activities?limit=-1", "", nil).Code)
}

func TestHealthAndTokens(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"machines":4`)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/tokens", "s1", gin.H{"user_id": "S9"}).Code)

	w = f.do(http.MethodPost, "/api/v1/tokens", "warden", gin.H{"user_id": "S9"})
	require.Equal(t, http.StatusCreated, w.Code)
	var issued struct {
		Token string `json:"token"`
	}
	decode(t, w, &issued)
	require.NotEmpty(t, issued.Token)

	w = f.do(http.MethodPost, "/api/v1/waitlist/washer", issued.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var item model.WaitlistItem
	decode(t, w, &item)
	assert.Equal(t, "S9", item.UserID)

	w = f.do(http.MethodGet, "/api/v1/vapid_public_key", "", nil)
	assert.JSONEq(t, `{"public_key":"public-key"}`, w.Body.String())
}

func TestTokens_Revoke(t *testing.T) {
	f := newFixture(t)

	issue := func(user string) string {
		w := f.do(http.MethodPost, "/api/v1/tokens", "warden", gin.H{"user_id": user})
		require.Equal(t, http.StatusCreated, w.Code)
		var issued struct {
			Token string `json:"token"`
		}
		decode(t, w, &issued)
		return issued.Token
	}
	mine, theirs := issue("S9"), issue("S8")

	w := f.do(http.MethodDelete, "/api/v1/tokens", mine, gin.H{"token": theirs})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/notifications", theirs, nil).Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/tokens", mine, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/notifications", mine, nil).Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/tokens", "warden", gin.H{"token": theirs}).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/notifications", theirs, nil).Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/tokens", "warden", gin.H{"token": "never-issued"}).Code)
}
