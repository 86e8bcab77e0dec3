package ws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"realtime_server/adapter/out/realtime"
	"realtime_server/core/domain"
	"realtime_server/core/service/heartbeat"
	"realtime_server/core/service/notification"
	"realtime_server/core/service/session"
	"realtime_server/core/service/tracking"
	"realtime_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// In-memory collaborators
// =============================================================================

type memOrders map[string]*domain.Order

func (m memOrders) FindOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := m[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

type memAccounts struct {
	mu   sync.Mutex
	logs map[string][]*domain.Notification
}

func (m *memAccounts) FindAccountByUserID(context.Context, string) (*domain.Account, error) {
	return &domain.Account{}, nil
}

func (m *memAccounts) AppendNotification(_ context.Context, userID string, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.logs[userID] = append(m.logs[userID], &cp)
	return nil
}

func (m *memAccounts) PendingNotifications(_ context.Context, userID string) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*domain.Notification
	for _, n := range m.logs[userID] {
		if !n.IsSent {
			cp := *n
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (m *memAccounts) MarkNotificationsSent(_ context.Context, userID string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool)
	for _, id := range ids {
		want[id] = true
	}
	for _, n := range m.logs[userID] {
		if len(ids) == 0 || want[n.ID] {
			n.IsSent = true
		}
	}
	return nil
}

func (m *memAccounts) allSent(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.logs[userID] {
		if !n.IsSent {
			return false
		}
	}
	return len(m.logs[userID]) > 0
}

// =============================================================================
// Server harness
// =============================================================================

type testServer struct {
	url      string
	registry *realtime.Registry
	graph    *tracking.Graph
	notifier *notification.Service
	accounts *memAccounts
	sessions *session.Manager
	stats    *metrics.Realtime
}

func startServer(t *testing.T, hb heartbeat.Config) *testServer {
	t.Helper()
	log := zerolog.Nop()
	stats := metrics.NewRealtime()

	orders := memOrders{
		"O1": {OrderID: "O1", SenderID: "A", ShipperID: "S"},
		"O2": {OrderID: "O2", SenderID: "B", ShipperID: "S"},
	}
	accounts := &memAccounts{logs: make(map[string][]*domain.Notification)}

	registry := realtime.NewRegistry(log)
	graph := tracking.NewGraph(orders, log)
	relay := tracking.NewRelay(graph, registry, stats, log)
	notifier := notification.NewService(accounts, registry, stats, log)
	monitor := heartbeat.NewMonitor(hb, stats, log)
	sessions := session.NewManager(session.DefaultConfig(), registry, monitor, relay, notifier, stats, log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	NewHandler(Config{Path: "/ws"}, sessions, stats, log).Register(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sessions.Shutdown(ctx)
		_ = app.Shutdown()
	})

	return &testServer{
		url:      "ws://" + ln.Addr().String() + "/ws",
		registry: registry,
		graph:    graph,
		notifier: notifier,
		accounts: accounts,
		sessions: sessions,
		stats:    stats,
	}
}

type client struct {
	t    *testing.T
	conn *gws.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// next returns the next non-ping frame, answering pings on the way.
func (c *client) next(timeout time.Duration) (map[string]any, error) {
	deadline := time.Now().Add(timeout)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, err
		}
		if frame["type"] == "ping" {
			c.send(map[string]string{"type": "pong"})
			continue
		}
		return frame, nil
	}
}

func quietHeartbeat() heartbeat.Config {
	return heartbeat.Config{PingInterval: time.Minute, Timeout: time.Minute}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func connected(srv *testServer, userID string) bool {
	return len(srv.registry.ConnectionsFor(userID)) > 0
}

// =============================================================================
// Tests
// =============================================================================

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	srv := startServer(t, quietHeartbeat())

	resp, err := http.Get("http" + srv.url[len("ws"):])
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestHandler_LocationFanOutScoping(t *testing.T) {
	srv := startServer(t, quietHeartbeat())

	a := dial(t, srv.url)
	a.send(map[string]string{"type": "user-id", "userId": "A"})
	shipper := dial(t, srv.url)
	shipper.send(map[string]string{"type": "user-id", "userId": "S"})
	eventually(t, func() bool { return connected(srv, "A") && connected(srv, "S") })

	a.send(map[string]string{"type": "subscribe-shipper-location", "orderId": "O1", "userId": "A"})
	eventually(t, func() bool { return srv.graph.Stats().Connections == 1 })

	shipper.send(map[string]any{"type": "shipper-location-update", "orderId": "O1", "shipperId": "S", "latitude": 10.5, "longitude": 106.5})

	frame, err := a.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "shipper-location-update", frame["type"])
	assert.Equal(t, "O1", frame["orderId"])
	assert.Equal(t, "S", frame["shipperId"])
	assert.Equal(t, 10.5, frame["latitude"])

	// O2 update from the same shipper must not reach A
	shipper.send(map[string]any{"type": "shipper-location-update", "orderId": "O2", "shipperId": "S", "latitude": 1, "longitude": 1})
	_, err = a.next(200 * time.Millisecond)
	assert.Error(t, err, "A should receive nothing for O2")
}

func TestHandler_UnauthorizedSubscribeIsSilent(t *testing.T) {
	srv := startServer(t, quietHeartbeat())

	b := dial(t, srv.url)
	b.send(map[string]string{"type": "user-id", "userId": "B"})
	eventually(t, func() bool { return connected(srv, "B") })

	b.send(map[string]string{"type": "subscribe-shipper-location", "orderId": "O1", "userId": "B"})
	b.send(map[string]string{"type": "pong"})
	eventually(t, func() bool { return srv.stats.MessagesIn.Value() == 3 })

	assert.Equal(t, tracking.GraphStats{}, srv.graph.Stats())
	_, err := b.next(100 * time.Millisecond)
	assert.Error(t, err, "no error frame is sent back")
	assert.Equal(t, 1, srv.sessions.Count())
}

func TestHandler_MalformedFramesKeepConnectionOpen(t *testing.T) {
	srv := startServer(t, quietHeartbeat())

	c := dial(t, srv.url)
	require.NoError(t, c.conn.WriteMessage(gws.TextMessage, []byte("{nope")))
	require.NoError(t, c.conn.WriteMessage(gws.BinaryMessage, []byte{0x01}))
	c.send(map[string]string{"type": "user-id", "userId": "A"})

	eventually(t, func() bool { return connected(srv, "A") })
	assert.Equal(t, int64(2), srv.stats.MalformedFrames.Value())
}

func TestHandler_OfflineReplayAndMultiDevice(t *testing.T) {
	srv := startServer(t, quietHeartbeat())
	ctx := context.Background()

	_, err := srv.notifier.NotifyOrderStatus(ctx, "A", "O1", domain.OrderStatusShipperAccepted)
	require.NoError(t, err)

	phone := dial(t, srv.url)
	phone.send(map[string]string{"type": "user-id", "userId": "A"})

	frame, err := phone.next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "order-status-notification", frame["type"])
	assert.Equal(t, "shipper_accepted", frame["status"])
	eventually(t, func() bool { return srv.accounts.allSent("A") })

	laptop := dial(t, srv.url)
	laptop.send(map[string]string{"type": "user-id", "userId": "A"})
	eventually(t, func() bool { return len(srv.registry.ConnectionsFor("A")) == 2 })

	delivered, err := srv.notifier.NotifyOrderStatus(ctx, "A", "O1", domain.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	for _, c := range []*client{phone, laptop} {
		frame, err := c.next(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "delivered", frame["status"])
	}
}

func TestHandler_HeartbeatTerminationCleansUp(t *testing.T) {
	srv := startServer(t, heartbeat.Config{PingInterval: 20 * time.Millisecond, Timeout: 150 * time.Millisecond})

	a := dial(t, srv.url)
	a.send(map[string]string{"type": "user-id", "userId": "A"})
	a.send(map[string]string{"type": "subscribe-shipper-location", "orderId": "O1", "userId": "A"})
	eventually(t, func() bool { return srv.graph.Stats().Connections == 1 })

	// never answer pings
	_ = a.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := a.conn.ReadMessage(); err != nil {
			break
		}
	}

	eventually(t, func() bool { return !connected(srv, "A") })
	eventually(t, func() bool { return srv.graph.Stats() == tracking.GraphStats{} })
	assert.Equal(t, int64(1), srv.stats.HeartbeatTimeouts.Value())
}

func TestHandler_PeerCloseDeregisters(t *testing.T) {
	srv := startServer(t, quietHeartbeat())

	a := dial(t, srv.url)
	a.send(map[string]string{"type": "user-id", "userId": "A"})
	eventually(t, func() bool { return connected(srv, "A") })

	require.NoError(t, a.conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, "bye")))
	_ = a.conn.Close()

	eventually(t, func() bool { return !connected(srv, "A") })
	eventually(t, func() bool { return srv.sessions.Count() == 0 })
}
