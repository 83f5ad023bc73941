package realtime

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/model"
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		HandshakeTimeoutSeconds: 2,
		PingIntervalSeconds:     30,
		SendBuffer:              32,
		PendingLimit:            10,
		HubQueue:                64,
		InitialRetryDelayMillis: 5,
		MaxRetryDelayMillis:     20,
		MaxRetries:              3,
	}
}

// startHub runs a hub behind an httptest server and returns its ws URL.
func startHub(t *testing.T, configure func(*Hub)) (*Hub, *identity.TokenStore, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := identity.NewTokenStore(time.Hour)
	tokens.Register("tok-s1", identity.Identity{UserID: "S1"})
	tokens.Register("tok-s2", identity.Identity{UserID: "S2"})

	hub := NewHub(tokens, testSyncConfig(), nil)
	hub.Seed([]model.Machine{
		{ID: 1, Type: model.Washer, Status: model.StatusAvailable, Enabled: true},
		{ID: 2, Type: model.Dryer, Status: model.StatusAvailable, Enabled: true},
	}, nil)
	if configure != nil {
		configure(hub)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/api/ws", hub.ServeWS)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return hub, tokens, "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
}

func dialObserver(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.WriteJSON(Handshake{Token: token}))
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestHub_RejectsUnknownToken(t *testing.T) {
	_, _, url := startHub(t, nil)
	ws := dialObserver(t, url, "bogus")

	msg := readMessage(t, ws)
	assert.Equal(t, KindError, msg.Event)
	var notice ErrorNotice
	require.NoError(t, msg.Decode(&notice))
	assert.Equal(t, "HandshakeFailed", notice.Code)

	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "server closes after rejecting")
}

func TestHub_SnapshotThenLiveTraffic(t *testing.T) {
	hub, _, url := startHub(t, nil)
	ws := dialObserver(t, url, "tok-s1")

	hello := readMessage(t, ws)
	require.Equal(t, KindConnected, hello.Event)
	var snap Snapshot
	require.NoError(t, hello.Decode(&snap))
	assert.Equal(t, "S1", snap.UserID)
	assert.Len(t, snap.Machines, 2)
	assert.Contains(t, snap.Waitlists, model.Washer)
	assert.Contains(t, snap.Waitlists, model.Dryer)
	assert.Equal(t, 1, hub.Connections())

	started := model.Machine{ID: 1, Type: model.Washer, Status: model.StatusInUse, Enabled: true, CurrentUser: "S2"}
	hub.Handle(event.Event{Kind: event.MachineStarted, At: time.Now(), Machines: []model.Machine{started}})
	hub.Handle(event.Event{Kind: event.NotificationCreated, Recipient: "S2",
		Notification: &model.Notification{ID: "not-for-s1", Recipient: "S2"}})
	hub.Handle(event.Event{Kind: event.WaitlistJoined, At: time.Now(), MachineType: model.Dryer,
		Waitlist: []model.WaitlistItem{{UserID: "S3", Type: model.Dryer}}})

	first := readMessage(t, ws)
	assert.Equal(t, KindMachineUpdate, first.Event)
	second := readMessage(t, ws)
	assert.Equal(t, KindWaitlistUpdate, second.Event, "another user's notification is never delivered")

	// A later observer sees the state the hub has folded in.
	late := dialObserver(t, url, "tok-s1")
	hello = readMessage(t, late)
	require.NoError(t, hello.Decode(&snap))
	require.Len(t, snap.Machines, 2)
	assert.Equal(t, model.StatusInUse, snap.Machines[0].Status)
	assert.Len(t, snap.Waitlists[model.Dryer], 1)
}

func TestHub_PendingPersonalMessagesFollowSnapshot(t *testing.T) {
	hub, _, url := startHub(t, nil)

	for _, id := range []string{"n1", "n2"} {
		hub.Handle(event.Event{Kind: event.NotificationCreated, Recipient: "S2",
			Notification: &model.Notification{ID: id, Recipient: "S2"}})
	}

	ws := dialObserver(t, url, "tok-s2")
	assert.Equal(t, KindConnected, readMessage(t, ws).Event)

	var got []string
	for i := 0; i < 2; i++ {
		msg := readMessage(t, ws)
		require.Equal(t, KindNotificationReceived, msg.Event)
		var notice NotificationNotice
		require.NoError(t, msg.Decode(&notice))
		got = append(got, notice.Notification.ID)
	}
	assert.Equal(t, []string{"n1", "n2"}, got)
}

func TestHub_PendingQueueDropsOldest(t *testing.T) {
	hub := NewHub(identity.NewTokenStore(time.Hour), config.SyncConfig{PendingLimit: 2, HubQueue: 1}, nil)
	for _, kind := range []Kind{"a", "b", "c"} {
		hub.hold("S1", Message{Event: kind})
	}
	require.Len(t, hub.pending["S1"], 2)
	assert.Equal(t, Kind("b"), hub.pending["S1"][0].Event)
	assert.Equal(t, Kind("c"), hub.pending["S1"][1].Event)
}

func TestHub_PersonalMessagesStayOutOfSnapshot(t *testing.T) {
	hub := NewHub(identity.NewTokenStore(time.Hour), config.SyncConfig{PendingLimit: 10, HubQueue: 1}, nil)
	for i := 0; i < 500; i++ {
		msg, err := NewMessage(KindNotificationReceived, NotificationNotice{
			Notification: model.Notification{ID: fmt.Sprintf("n%d", i), Recipient: "S1"},
		}, time.Now())
		require.NoError(t, err)
		hub.deliver(outbound{msg: msg, recipient: "S1"})
	}

	assert.Len(t, hub.pending["S1"], 10)
	assert.Empty(t, hub.view.Notifications())
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	hub := NewHub(identity.NewTokenStore(time.Hour), config.SyncConfig{HubQueue: 1}, nil)
	slow := 0
	hub.OnSlowConsumer = func() { slow++ }

	c := &conn{hub: hub, id: identity.Identity{UserID: "S1"}, send: make(chan Message, 1)}
	hub.attach(c)
	assert.Equal(t, 1, hub.Connections())

	// The snapshot filled the buffer; the next broadcast cannot fit.
	hub.deliver(outbound{msg: Message{Event: KindMachineUpdate}})
	assert.Equal(t, 1, slow)
	assert.Zero(t, hub.Connections())

	_, open := <-c.send
	assert.True(t, open, "buffered snapshot is still readable")
	_, open = <-c.send
	assert.False(t, open, "send channel is closed")
}

func TestHub_InboundFrames(t *testing.T) {
	inbound := make(chan Message, 4)
	_, _, url := startHub(t, func(h *Hub) {
		h.OnInbound = func(id identity.Identity, msg Message) {
			if id.UserID == "S1" {
				inbound <- msg
			}
		}
	})
	ws := dialObserver(t, url, "tok-s1")
	readMessage(t, ws)

	require.NoError(t, ws.WriteJSON(Message{Event: "ping", Timestamp: time.Now()}))
	select {
	case msg := <-inbound:
		assert.Equal(t, Kind("ping"), msg.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never observed")
	}
}
