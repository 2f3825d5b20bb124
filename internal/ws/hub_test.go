package ws

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/betalkative/betalk/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewHub(rdb, nil)
}

func TestUnregisterAfterBufferDrop(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()

	congested := NewClient(h, nil, userID, "congested")
	healthy := NewClient(h, nil, userID, "healthy")
	h.addClient(congested)
	h.addClient(healthy)

	for i := 0; i < cap(congested.send); i++ {
		congested.send <- []byte("x")
	}

	// Delivery drops the congested connection; the healthy one gets the event.
	h.deliverLocal(userID, &model.WSEvent{Type: model.WSEventTyping})
	assert.Len(t, healthy.send, 1)

	// The read pump still unregisters the dropped client afterwards.
	assert.NotPanics(t, func() {
		h.removeClient(congested)
		h.removeClient(healthy)
	})
	assert.False(t, h.IsUserOnline(userID))
}

func TestRemoveClientTwiceIsSafe(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()

	first := NewClient(h, nil, userID, "first")
	second := NewClient(h, nil, userID, "second")
	h.addClient(first)
	h.addClient(second)

	assert.NotPanics(t, func() {
		h.removeClient(first)
		h.removeClient(first)
	})
	assert.True(t, h.IsUserOnline(userID))

	h.removeClient(second)
	assert.False(t, h.IsUserOnline(userID))
}
