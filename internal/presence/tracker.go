// Package presence tracks which agents hold live realtime connections.
package presence

import (
	"hash/fnv"
	"sort"
	"sync"
)

const defaultShards = 32

// Tracker maps agents to their open connections. Agents are spread over
// shards by FNV hash so unrelated agents do not contend on one lock.
// The connection index has its own lock, always taken before a shard lock.
type Tracker struct {
	shards []*shard

	connMu sync.Mutex
	conns  map[string]string // connection id -> agent id
}

type shard struct {
	mu     sync.RWMutex
	agents map[string]map[string]struct{}
}

func NewTracker(shards int) *Tracker {
	if shards <= 0 {
		shards = defaultShards
	}
	t := &Tracker{
		shards: make([]*shard, shards),
		conns:  make(map[string]string),
	}
	for i := range t.shards {
		t.shards[i] = &shard{agents: make(map[string]map[string]struct{})}
	}
	return t
}

func (t *Tracker) shardFor(agentID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Connect registers connID for agentID. It reports whether the agent had no
// connection before. Reusing a connection id for another agent moves it.
func (t *Tracker) Connect(agentID, connID string) bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if prev, ok := t.conns[connID]; ok {
		if prev == agentID {
			return false
		}
		t.removeLocked(prev, connID)
	}
	t.conns[connID] = agentID

	s := t.shardFor(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.agents[agentID]
	if !ok {
		set = make(map[string]struct{})
		s.agents[agentID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Disconnect drops connID. ok is false for an unknown connection. wentOffline
// is true when it was the agent's last connection.
func (t *Tracker) Disconnect(connID string) (agentID string, wentOffline bool, ok bool) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	agentID, ok = t.conns[connID]
	if !ok {
		return "", false, false
	}
	delete(t.conns, connID)
	return agentID, t.removeLocked(agentID, connID), true
}

// removeLocked needs connMu held.
func (t *Tracker) removeLocked(agentID, connID string) bool {
	s := t.shardFor(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.agents[agentID]
	if !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.agents, agentID)
		return true
	}
	return false
}

func (t *Tracker) IsOnline(agentID string) bool {
	s := t.shardFor(agentID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents[agentID]) > 0
}

func (t *Tracker) ConnectionCount(agentID string) int {
	s := t.shardFor(agentID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents[agentID])
}

// OnlineAgents returns a sorted snapshot. Shards are read one at a time, so
// the result may miss a change that races with the scan.
func (t *Tracker) OnlineAgents() []string {
	var out []string
	for _, s := range t.shards {
		s.mu.RLock()
		for agentID, set := range s.agents {
			if len(set) > 0 {
				out = append(out, agentID)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Reset forgets every connection.
func (t *Tracker) Reset() {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	t.conns = make(map[string]string)
	for _, s := range t.shards {
		s.mu.Lock()
		s.agents = make(map[string]map[string]struct{})
		s.mu.Unlock()
	}
}
