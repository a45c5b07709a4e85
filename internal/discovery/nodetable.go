// Copyright 2020-2022 JackTrip Labs, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discovery

import (
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
)

// DefaultLivenessWindow is how long a node remains "online" without a
// fresh heartbeat before it is marked "offline".
const DefaultLivenessWindow = 10 * time.Second

// NodeTable is a copy-on-write registry of peer nodes. Readers take a
// snapshot with no lock held during use; writers take a short exclusive
// lock to install a new snapshot.
type NodeTable struct {
	log     logr.Logger
	bus     *eventbus.Bus
	liveness time.Duration

	mu   sync.Mutex
	snap map[string]model.NodeDescriptor
}

// NewNodeTable constructs an empty NodeTable.
func NewNodeTable(log logr.Logger, bus *eventbus.Bus, liveness time.Duration) *NodeTable {
	if liveness <= 0 {
		liveness = DefaultLivenessWindow
	}
	return &NodeTable{
		log:      log.WithName("nodetable"),
		bus:      bus,
		liveness: liveness,
		snap:     make(map[string]model.NodeDescriptor),
	}
}

// Snapshot returns the current node table. The returned map must not be
// mutated by the caller.
func (t *NodeTable) Snapshot() map[string]model.NodeDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Observe records a heartbeat for node, updating or inserting it. Later
// heartbeats win address/name on an id collision; an id_collision event
// fires when the host changed. A change of control port or name alone
// is reported as node_updated only.
//
// node.LastSeen carries the heartbeat's own timestamp (e.g. a beacon's
// timestamp_ms); a zero value means "now", for self-registration and
// other callers with no wire timestamp of their own. A heartbeat older
// than the node's already-recorded LastSeen is an out-of-order or
// duplicate beacon and is dropped outright. A heartbeat whose age
// exceeds the liveness window does not revive an offline node to
// online -- per spec's boundary behavior -- but its timestamp is still
// recorded if it is the most recent one seen for that node, so a
// later, fresher heartbeat is compared against accurate data.
func (t *NodeTable) Observe(node model.NodeDescriptor) {
	now := time.Now()
	heardAt := node.LastSeen
	if heardAt.IsZero() {
		heardAt = now
	}

	t.mu.Lock()
	prev, existed := t.snap[node.ID]
	if existed && !heardAt.After(prev.LastSeen) {
		t.mu.Unlock()
		return
	}

	node.LastSeen = heardAt
	if now.Sub(heardAt) > t.liveness {
		node.Status = model.NodeOffline
	} else {
		node.Status = model.NodeOnline
	}

	next := cloneNodes(t.snap)
	next[node.ID] = node
	t.snap = next
	t.mu.Unlock()

	if !existed {
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindNodeDiscovered, Payload: node})
		return
	}
	if prev.Host != node.Host || prev.ControlPort != node.ControlPort || prev.Name != node.Name {
		if prev.Host != node.Host && prev.ID == node.ID {
			t.bus.Publish(eventbus.Event{Kind: eventbus.KindIDCollision, Payload: node.ID})
		}
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindNodeUpdated, Payload: node})
	}
}

// SweepExpired marks nodes whose last heartbeat fell outside the
// liveness window as offline. It does not remove them: stale-but-labeled
// data stays visible rather than disappearing silently.
func (t *NodeTable) SweepExpired() {
	now := time.Now()
	t.mu.Lock()
	var changed []model.NodeDescriptor
	next := cloneNodes(t.snap)
	for id, n := range next {
		if n.Status == model.NodeOnline && now.Sub(n.LastSeen) > t.liveness {
			n.Status = model.NodeOffline
			next[id] = n
			changed = append(changed, n)
		}
	}
	t.snap = next
	t.mu.Unlock()

	for _, n := range changed {
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindNodeLost, Payload: n.ID})
	}
}

// Run periodically sweeps for expired nodes until stop is closed.
func (t *NodeTable) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(t.liveness / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.SweepExpired()
		}
	}
}

func cloneNodes(in map[string]model.NodeDescriptor) map[string]model.NodeDescriptor {
	out := make(map[string]model.NodeDescriptor, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
