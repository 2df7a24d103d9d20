package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/internal/eventbus"
	"linechat/pkg/logx"
)

func TestBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry()
	a, b, c := newMockMember("a", "alice"), newMockMember("b", "bob"), newMockMember("c", "carol")
	r.Insert(a)
	r.Insert(b)
	r.Insert(c)

	res := NewBroadcaster(r, nil, logx.Nop()).Broadcast("hello", "a")

	assert.Equal(t, 2, res.Delivered)
	assert.Empty(t, res.Evicted)
	assert.Empty(t, a.received())
	assert.Equal(t, []string{"hello"}, b.received())
	assert.Equal(t, []string{"hello"}, c.received())
}

func TestBroadcastEmptyExcludeReachesAll(t *testing.T) {
	r := NewRegistry()
	a := newMockMember("a", "alice")
	r.Insert(a)

	res := NewBroadcaster(r, nil, logx.Nop()).Broadcast("notice", "")
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []string{"notice"}, a.received())
}

func TestBroadcastEvictsFailedMembers(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	r := NewRegistry()
	a, b, c := newMockMember("a", "alice"), newMockMember("b", "bob"), newMockMember("c", "carol")
	b.setSendErr(errBrokenPipe)
	r.Insert(a)
	r.Insert(b)
	r.Insert(c)

	res := NewBroadcaster(r, bus, logx.Nop()).Broadcast("msg", "a")

	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []string{"b"}, res.Evicted)
	assert.Equal(t, []string{"msg"}, c.received(), "a failing peer must not stop delivery to others")
	assert.Equal(t, 1, b.closeCount())
	assert.False(t, r.Contains("b"))
	assert.Equal(t, 2, r.Len())

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeEvicted, ev.Type)
		data, ok := ev.Data.(SessionEvent)
		require.True(t, ok)
		assert.Equal(t, "b", data.ID)
		assert.Equal(t, "bob", data.Name)
	case <-time.After(time.Second):
		t.Fatal("no eviction event")
	}
}

func TestConcurrentBroadcastsEvictOnce(t *testing.T) {
	r := NewRegistry()
	bad := newMockMember("bad", "bad")
	bad.setSendErr(errBrokenPipe)
	r.Insert(bad)
	r.Insert(newMockMember("ok", "ok"))

	bc := NewBroadcaster(r, nil, logx.Nop())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		evicted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := bc.Broadcast("x", "")
			mu.Lock()
			evicted += len(res.Evicted)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, bad.closeCount())
	assert.Equal(t, []string{"ok"}, r.Names())
}
