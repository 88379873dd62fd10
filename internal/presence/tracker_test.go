package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectDisconnectLifecycle(t *testing.T) {
	tr := NewTracker(4)

	assert.True(t, tr.Connect("agent-1", "c1"), "first connection brings the agent online")
	assert.False(t, tr.Connect("agent-1", "c2"), "second connection does not")
	assert.True(t, tr.IsOnline("agent-1"))
	assert.Equal(t, 2, tr.ConnectionCount("agent-1"))

	agent, wentOffline, ok := tr.Disconnect("c1")
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agent)
	assert.False(t, wentOffline)
	assert.True(t, tr.IsOnline("agent-1"))

	agent, wentOffline, ok = tr.Disconnect("c2")
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agent)
	assert.True(t, wentOffline)
	assert.False(t, tr.IsOnline("agent-1"))
}

func TestDisconnectUnknownConnection(t *testing.T) {
	tr := NewTracker(0)
	agent, wentOffline, ok := tr.Disconnect("nope")
	assert.False(t, ok)
	assert.False(t, wentOffline)
	assert.Empty(t, agent)
}

func TestReconnectSameConnectionIsIdempotent(t *testing.T) {
	tr := NewTracker(2)
	assert.True(t, tr.Connect("agent-1", "c1"))
	assert.False(t, tr.Connect("agent-1", "c1"))
	assert.Equal(t, 1, tr.ConnectionCount("agent-1"))
}

func TestConnectionMovesBetweenAgents(t *testing.T) {
	tr := NewTracker(2)
	tr.Connect("agent-1", "c1")
	assert.True(t, tr.Connect("agent-2", "c1"))
	assert.False(t, tr.IsOnline("agent-1"))
	assert.True(t, tr.IsOnline("agent-2"))
}

func TestOnlineAgentsSorted(t *testing.T) {
	tr := NewTracker(8)
	tr.Connect("charlie", "c3")
	tr.Connect("alpha", "c1")
	tr.Connect("bravo", "c2")

	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, tr.OnlineAgents())

	tr.Reset()
	assert.Empty(t, tr.OnlineAgents())
	_, _, ok := tr.Disconnect("c1")
	assert.False(t, ok)
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	tr := NewTracker(16)
	var wg sync.WaitGroup
	var mu sync.Mutex
	onlineEvents, offlineEvents := 0, 0

	for i := 0; i < 50; i++ {
		agent := fmt.Sprintf("agent-%d", i%5)
		conn := fmt.Sprintf("conn-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Connect(agent, conn) {
				mu.Lock()
				onlineEvents++
				mu.Unlock()
			}
			if _, off, _ := tr.Disconnect(conn); off {
				mu.Lock()
				offlineEvents++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, tr.OnlineAgents())
	assert.Equal(t, onlineEvents, offlineEvents, "every online transition is matched by an offline one")
}
