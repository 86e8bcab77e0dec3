package realtime

import (
	"fmt"
	"sync"
	"testing"

	"realtime_server/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	id domain.ConnectionID
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: domain.ConnectionID(id)} }

func (c *fakeConn) ID() domain.ConnectionID { return c.id }

func (c *fakeConn) Send(domain.OutboundMessage) error { return nil }

func (c *fakeConn) Close(string) {}

func TestRegistry_StatsCountConnections(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Register("u1", newFakeConn("phone"))
	r.Register("u1", newFakeConn("laptop"))
	r.Register("u2", newFakeConn("tablet"))

	assert.Equal(t, RegistryStats{ConnectedUsers: 2, TotalConnections: 3}, r.Stats())
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := newFakeConn("c1")

	r.Register("u1", c)
	r.Register("u1", c)

	assert.Len(t, r.ConnectionsFor("u1"), 1)
	assert.Equal(t, 1, r.Stats().TotalConnections)
}

func TestRegistry_DeregisterRemovesEmptyUser(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := newFakeConn("c1")

	r.Register("u1", c)
	r.Deregister("u1", c)

	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.Empty(t, r.users)
	assert.Empty(t, r.owners)

	// absent is a no-op
	r.Deregister("u1", c)
	r.Deregister("nobody", newFakeConn("c2"))
	assert.Equal(t, 0, r.Stats().ConnectedUsers)
}

func TestRegistry_DeregisterWrongUserIsNoop(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := newFakeConn("c1")

	r.Register("u1", c)
	r.Deregister("u2", c)

	assert.NotEmpty(t, r.ConnectionsFor("u1"))
}

func TestRegistry_RegisterMovesConnection(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := newFakeConn("c1")

	r.Register("u1", c)
	r.Register("u2", c)

	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.NotEmpty(t, r.ConnectionsFor("u2"))
	assert.Equal(t, 1, r.Stats().ConnectedUsers)
}

func TestRegistry_ConnectionsForIsSnapshot(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	r.Register("u1", c1)

	snap := r.ConnectionsFor("u1")
	r.Register("u1", c2)

	assert.Len(t, snap, 1)
	assert.Len(t, r.ConnectionsFor("u1"), 2)
	assert.Nil(t, r.ConnectionsFor("missing"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			r.Register("u1", c)
			_ = r.ConnectionsFor("u1")
			r.Deregister("u1", c)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, r.users)
	assert.Empty(t, r.owners)
}
