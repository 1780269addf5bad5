package service

import (
	"sync"

	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/routing"
)

// nextHopTable is the lightweight relay-hint table. It is a fast
// heuristic, not a shortest-path guarantee: direct links win, then a
// single relay connected to both ends, then the raw target as a
// best-effort fallback. It is recomputed on its own cadence,
// independently of the full routing table.
type nextHopTable struct {
	mu     sync.RWMutex
	routes map[model.ShardID][]model.ShardID
}

func newNextHopTable() *nextHopTable {
	return &nextHopTable{
		routes: make(map[model.ShardID][]model.ShardID),
	}
}

// optimize rebuilds the table for the current active-shard set. Entries
// for shards that left the network are pruned.
func (t *nextHopTable) optimize(topology routing.TopologyProvider) {
	shards := topology.ActiveShards()

	active := make(map[model.ShardID]struct{}, len(shards))
	for _, s := range shards {
		active[s.ID] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.routes {
		if _, ok := active[id]; !ok {
			delete(t.routes, id)
		}
	}

	for _, shard := range shards {
		paths := make([]model.ShardID, 0, len(shards)-1)

		for _, target := range shards {
			if shard.ID == target.ID {
				continue
			}

			if topology.AreConnected(shard.ID, target.ID) {
				paths = append(paths, target.ID)
				continue
			}

			// 2-hop only: first relay reachable from both ends wins
			relayID := target.ID
			for _, relay := range shards {
				if relay.ID == shard.ID || relay.ID == target.ID {
					continue
				}
				if topology.AreConnected(shard.ID, relay.ID) && topology.AreConnected(relay.ID, target.ID) {
					relayID = relay.ID
					break
				}
			}
			paths = append(paths, relayID)
		}

		t.routes[shard.ID] = paths
	}
}

// nextHop returns the shard a message for target should be handed to
// next. Never fails; with no relay data the target itself is returned
// and the caller attempts a direct send.
func (t *nextHopTable) nextHop(source, target model.ShardID) model.ShardID {
	if source == target {
		return target
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	paths, ok := t.routes[source]
	if !ok {
		return target
	}

	for _, p := range paths {
		if p == target {
			return target
		}
	}

	for _, p := range paths {
		for _, next := range t.routes[p] {
			if next == target {
				return p
			}
		}
	}

	return target
}

// size returns the number of source shards with entries
func (t *nextHopTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
