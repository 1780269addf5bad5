package routing

import (
	"sync"

	"github.com/shardmesh/routing-node/internal/model"
)

// TopologyProvider supplies live shard and link facts. Implementations
// must be safe for concurrent use; the routing table and the
// communication optimizer both poll it from background loops.
type TopologyProvider interface {
	// ActiveShards returns the shards currently participating in the network
	ActiveShards() []model.ShardInfo
	// AllShards returns every known shard, whatever its status
	AllShards() ([]model.ShardInfo, error)
	// AreConnected reports whether two shards have a direct link
	AreConnected(a, b model.ShardID) bool
	// ShardIDByPeer resolves a raw peer identifier to its shard
	ShardIDByPeer(peerID string) (model.ShardID, bool)
}

// StaticTopology is a fixed, mutable-by-hand TopologyProvider used for
// wiring without gossip and in tests
type StaticTopology struct {
	mu     sync.RWMutex
	shards map[model.ShardID]model.ShardInfo
	peers  map[string]model.ShardID
	links  map[model.ConnectionKey]bool
}

// NewStaticTopology creates an empty static topology
func NewStaticTopology() *StaticTopology {
	return &StaticTopology{
		shards: make(map[model.ShardID]model.ShardInfo),
		peers:  make(map[string]model.ShardID),
		links:  make(map[model.ConnectionKey]bool),
	}
}

// SetShard adds or replaces a shard and indexes its peers
func (s *StaticTopology) SetShard(info model.ShardInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shards[info.ID] = info
	for _, peer := range info.Peers {
		if peer.PeerID != "" && peer.ShardID != "" {
			s.peers[peer.PeerID] = peer.ShardID
		}
		if peer.ShardID != "" {
			s.links[model.ConnectionKey{Source: info.ID, Destination: peer.ShardID}] = peer.Connected
		}
	}
}

// RemoveShard drops a shard from the topology
func (s *StaticTopology) RemoveShard(id model.ShardID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.shards, id)
	for key := range s.links {
		if key.Source == id || key.Destination == id {
			delete(s.links, key)
		}
	}
}

// SetLink records a direct link between two shards
func (s *StaticTopology) SetLink(a, b model.ShardID, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[model.ConnectionKey{Source: a, Destination: b}] = connected
}

// ActiveShards implements TopologyProvider
func (s *StaticTopology) ActiveShards() []model.ShardInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []model.ShardInfo
	for _, info := range s.shards {
		if info.IsActive() {
			active = append(active, info)
		}
	}
	return active
}

// AllShards implements TopologyProvider
func (s *StaticTopology) AllShards() ([]model.ShardInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shards := make([]model.ShardInfo, 0, len(s.shards))
	for _, info := range s.shards {
		shards = append(shards, info)
	}
	return shards, nil
}

// AreConnected implements TopologyProvider. Links are checked in both
// directions; a static link entered one way counts for both.
func (s *StaticTopology) AreConnected(a, b model.ShardID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.links[model.ConnectionKey{Source: a, Destination: b}] {
		return true
	}
	return s.links[model.ConnectionKey{Source: b, Destination: a}]
}

// ShardIDByPeer implements TopologyProvider
func (s *StaticTopology) ShardIDByPeer(peerID string) (model.ShardID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.peers[peerID]
	return id, ok
}
