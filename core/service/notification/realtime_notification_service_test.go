package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"realtime_server/adapter/out/realtime"
	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type memAccounts struct {
	mu         sync.Mutex
	logs       map[string][]*domain.Notification
	appendErr  error
	markCalls  int
	pendingErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{logs: make(map[string][]*domain.Notification)}
}

func (m *memAccounts) FindAccountByUserID(_ context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &domain.Account{AccountID: userID, Notifications: m.logs[userID]}, nil
}

func (m *memAccounts) AppendNotification(_ context.Context, userID string, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	cp := *n
	m.logs[userID] = append(m.logs[userID], &cp)
	return nil
}

func (m *memAccounts) PendingNotifications(_ context.Context, userID string) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return nil, m.pendingErr
	}
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
	m.markCalls++
	want := make(map[string]bool, len(ids))
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

func (m *memAccounts) notifications(userID string) []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []domain.Notification
	for _, n := range m.logs[userID] {
		list = append(list, *n)
	}
	return list
}

type fakeConn struct {
	id   domain.ConnectionID
	fail bool
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (c *fakeConn) ID() domain.ConnectionID { return c.id }
func (c *fakeConn) Close(string)            {}

func (c *fakeConn) Send(msg domain.OutboundMessage) error {
	if c.fail {
		return domain.ErrSendBufferFull
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) received() []domain.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OutboundMessage(nil), c.sent...)
}

type fakeDirectory struct {
	mu    sync.Mutex
	users map[string][]out.Connection
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[string][]out.Connection)}
}

func (d *fakeDirectory) Register(userID string, conn out.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID] = append(d.users[userID], conn)
}

func (d *fakeDirectory) Deregister(userID string, _ out.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, userID)
}

func (d *fakeDirectory) ConnectionsFor(userID string) []out.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]out.Connection(nil), d.users[userID]...)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(accounts out.AccountRepository, dir out.ConnectionDirectory) *Service {
	s := NewService(accounts, dir, nil, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}
	return s
}

// =============================================================================
// Tests
// =============================================================================

func TestNotifyOrderStatus_OfflineThenReplay(t *testing.T) {
	accounts := newMemAccounts()
	dir := newFakeDirectory()
	svc := newTestService(accounts, dir)
	ctx := context.Background()

	delivered, err := svc.NotifyOrderStatus(ctx, "alice", "o1", domain.OrderStatusShipperAccepted)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	stored := accounts.notifications("alice")
	require.Len(t, stored, 1)
	assert.False(t, stored[0].IsSent)
	assert.False(t, stored[0].IsRead)
	assert.Equal(t, "Order Status Update", stored[0].Title)
	assert.Equal(t, "Your order o1 is now shipper_accepted", stored[0].Content)

	phone := &fakeConn{id: "phone"}
	dir.Register("alice", phone)

	n, err := svc.DeliverOfflineNotifications(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, phone.received(), 1)
	assert.Equal(t, domain.OrderStatusNotification{
		OrderID:   "o1",
		Status:    domain.OrderStatusShipperAccepted,
		Timestamp: fixedNow,
	}, phone.received()[0])
	assert.True(t, accounts.notifications("alice")[0].IsSent)

	// second replay finds nothing pending
	n, err = svc.DeliverOfflineNotifications(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, phone.received(), 1)
}

func TestNotifyOrderStatus_MultiDeviceFanOut(t *testing.T) {
	accounts := newMemAccounts()
	dir := newFakeDirectory()
	svc := newTestService(accounts, dir)
	c1, c2 := &fakeConn{id: "c1"}, &fakeConn{id: "c2"}
	dir.Register("alice", c1)
	dir.Register("alice", c2)

	delivered, err := svc.NotifyOrderStatus(context.Background(), "alice", "o1", domain.OrderStatusDelivered)
	require.NoError(t, err)

	assert.Equal(t, 2, delivered)
	assert.Len(t, c1.received(), 1)
	assert.Len(t, c2.received(), 1)
	assert.True(t, accounts.notifications("alice")[0].IsSent)
}

func TestNotifyOrderStatus_FailedSendsLeaveRecordPending(t *testing.T) {
	accounts := newMemAccounts()
	dir := newFakeDirectory()
	svc := newTestService(accounts, dir)
	dir.Register("alice", &fakeConn{id: "full", fail: true})

	delivered, err := svc.NotifyOrderStatus(context.Background(), "alice", "o1", domain.OrderStatusVerified)
	require.NoError(t, err)

	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, accounts.markCalls)
	assert.False(t, accounts.notifications("alice")[0].IsSent)
}

func TestNotifyOrderStatus_PersistenceFailureSkipsPush(t *testing.T) {
	accounts := newMemAccounts()
	accounts.appendErr = apperr.DatabaseError("append notification", errors.New("write concern"))
	dir := newFakeDirectory()
	svc := newTestService(accounts, dir)
	c := &fakeConn{id: "c"}
	dir.Register("alice", c)

	delivered, err := svc.NotifyOrderStatus(context.Background(), "alice", "o1", domain.OrderStatusCancelled)

	assert.True(t, apperr.HasCode(err, apperr.CodeDatabaseError))
	assert.Equal(t, 0, delivered)
	assert.Empty(t, c.received())
	assert.Equal(t, 0, accounts.markCalls)
	assert.Equal(t, int64(0), svc.stats.PushesSent.Value())
}

func TestNotifyOrderStatus_CountsSendsAgainstRegistry(t *testing.T) {
	registry := realtime.NewRegistry(zerolog.Nop())
	phone, laptop, broken := &fakeConn{id: "phone"}, &fakeConn{id: "laptop"}, &fakeConn{id: "broken", fail: true}
	registry.Register("alice", phone)
	registry.Register("alice", laptop)
	registry.Register("alice", broken)
	svc := newTestService(newMemAccounts(), registry)

	delivered, err := svc.NotifyOrderStatus(context.Background(), "alice", "o1", domain.OrderStatusVerified)

	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, int64(2), svc.stats.PushesSent.Value())
	assert.Equal(t, int64(1), svc.stats.PushesFailed.Value())
	assert.Equal(t, 3, registry.Stats().TotalConnections)
}

func TestDeliverOfflineNotifications(t *testing.T) {
	t.Run("no pending is a no-op", func(t *testing.T) {
		accounts := newMemAccounts()
		dir := newFakeDirectory()
		c := &fakeConn{id: "c"}
		dir.Register("alice", c)

		n, err := newTestService(accounts, dir).DeliverOfflineNotifications(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, c.received())
		assert.Equal(t, 0, accounts.markCalls)
	})

	t.Run("no live connection keeps records pending", func(t *testing.T) {
		accounts := newMemAccounts()
		svc := newTestService(accounts, newFakeDirectory())
		_, _ = svc.NotifyOrderStatus(context.Background(), "alice", "o1", domain.OrderStatusWaiting)

		n, err := svc.DeliverOfflineNotifications(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.False(t, accounts.notifications("alice")[0].IsSent)
	})

	t.Run("generic notification replayed as notification frame", func(t *testing.T) {
		accounts := newMemAccounts()
		accounts.logs["alice"] = []*domain.Notification{{ID: "g1", Title: "Welcome", Content: "hi", Timestamp: fixedNow}}
		dir := newFakeDirectory()
		c := &fakeConn{id: "c"}
		dir.Register("alice", c)

		n, err := newTestService(accounts, dir).DeliverOfflineNotifications(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, domain.GenericNotification{Title: "Welcome", Content: "hi", Timestamp: fixedNow}, c.received()[0])
	})

	t.Run("records without id are marked in bulk", func(t *testing.T) {
		accounts := newMemAccounts()
		accounts.logs["alice"] = []*domain.Notification{
			{Title: "Order Status Update", Content: "old", OrderID: "o1", Status: domain.OrderStatusVerified, Timestamp: fixedNow},
			{ID: "n2", Title: "Welcome", Content: "hi", Timestamp: fixedNow},
		}
		dir := newFakeDirectory()
		c := &fakeConn{id: "c"}
		dir.Register("alice", c)

		n, err := newTestService(accounts, dir).DeliverOfflineNotifications(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		for _, rec := range accounts.notifications("alice") {
			assert.True(t, rec.IsSent)
		}
	})

	t.Run("store error is returned", func(t *testing.T) {
		accounts := newMemAccounts()
		accounts.pendingErr = errors.New("boom")

		_, err := newTestService(accounts, newFakeDirectory()).DeliverOfflineNotifications(context.Background(), "alice")
		assert.Error(t, err)
	})
}

func TestHandleInboundNotification(t *testing.T) {
	svc := newTestService(newMemAccounts(), newFakeDirectory())
	c := &fakeConn{id: "c"}
	payload := json.RawMessage(`{"type":"notification","text":"hello"}`)

	// default handler only logs
	require.NoError(t, svc.HandleInboundNotification(context.Background(), "alice", c, payload))

	var got json.RawMessage
	svc.SetInboundHandler(InboundHandlerFunc(func(_ context.Context, userID string, conn out.Connection, p json.RawMessage) error {
		assert.Equal(t, "alice", userID)
		assert.Equal(t, c.ID(), conn.ID())
		got = p
		return nil
	}))
	require.NoError(t, svc.HandleInboundNotification(context.Background(), "alice", c, payload))
	assert.JSONEq(t, string(payload), string(got))
}
