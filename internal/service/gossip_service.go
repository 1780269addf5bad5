package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/metrics"
	"github.com/shardmesh/routing-node/internal/model"
)

// GossipConfig holds gossip topology configuration
type GossipConfig struct {
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// shardMeta is the per-node metadata gossiped through memberlist. Each
// node advertises which shard it serves and the link facts it observes
// about its peers.
type shardMeta struct {
	NodeID    string            `json:"node_id"`
	ShardID   model.ShardID     `json:"shard_id"`
	Status    model.ShardStatus `json:"status"`
	Peers     []model.PeerInfo  `json:"peers,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// GossipService tracks cluster membership via memberlist and projects it
// into the shard topology consumed by the routing table and the
// communication optimizer. It implements routing.TopologyProvider.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string

	mu          sync.RWMutex
	local       shardMeta
	shards      map[model.ShardID]model.ShardInfo
	peerToShard map[string]model.ShardID

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewGossipService creates a gossip service for the given node and shard
// and joins the configured seed nodes
func NewGossipService(cfg *GossipConfig, nodeID string, shardID model.ShardID, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config: cfg,
		nodeID: nodeID,
		local: shardMeta{
			NodeID:    nodeID,
			ShardID:   shardID,
			Status:    model.ShardStatusJoining,
			Timestamp: time.Now().Unix(),
		},
		shards:      make(map[model.ShardID]model.ShardInfo),
		peerToShard: make(map[string]model.ShardID),
		metrics:     m,
		logger:      logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = gs
	mlConfig.Events = &gossipEventDelegate{service: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return gs, nil
}

// SetLocalStatus updates the advertised lifecycle status and pushes the
// change through the cluster
func (s *GossipService) SetLocalStatus(status model.ShardStatus) {
	s.mu.Lock()
	s.local.Status = status
	s.local.Timestamp = time.Now().Unix()
	s.mu.Unlock()

	s.broadcastMeta()
}

// SetLocalPeers replaces the advertised link facts for the local shard
func (s *GossipService) SetLocalPeers(peers []model.PeerInfo) {
	s.mu.Lock()
	s.local.Peers = peers
	s.local.Timestamp = time.Now().Unix()
	s.mu.Unlock()

	s.broadcastMeta()
}

func (s *GossipService) broadcastMeta() {
	if s.memberlist == nil {
		return
	}
	if err := s.memberlist.UpdateNode(5 * time.Second); err != nil {
		s.logger.Warn("Failed to propagate node metadata", zap.Error(err))
	}
}

// ActiveShards implements routing.TopologyProvider
func (s *GossipService) ActiveShards() []model.ShardInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shards := make([]model.ShardInfo, 0, len(s.shards))
	for _, info := range s.shards {
		if info.IsActive() {
			shards = append(shards, info)
		}
	}
	return shards
}

// AllShards implements routing.TopologyProvider
func (s *GossipService) AllShards() ([]model.ShardInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shards := make([]model.ShardInfo, 0, len(s.shards))
	for _, info := range s.shards {
		shards = append(shards, info)
	}
	return shards, nil
}

// AreConnected implements routing.TopologyProvider. A link counts when
// either endpoint reports the other as a connected peer.
func (s *GossipService) AreConnected(a, b model.ShardID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.reportsConnectedLocked(a, b) || s.reportsConnectedLocked(b, a)
}

func (s *GossipService) reportsConnectedLocked(from, to model.ShardID) bool {
	info, ok := s.shards[from]
	if !ok {
		return false
	}
	for i := range info.Peers {
		if info.Peers[i].ShardID == to && info.Peers[i].Connected {
			return true
		}
	}
	return false
}

// ShardIDByPeer implements routing.TopologyProvider
func (s *GossipService) ShardIDByPeer(peerID string) (model.ShardID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shardID, ok := s.peerToShard[peerID]
	return shardID, ok
}

// Members returns the current memberlist node count
func (s *GossipService) Members() int {
	return s.memberlist.NumMembers()
}

// Shutdown leaves the cluster and shuts down the gossip layer
func (s *GossipService) Shutdown() error {
	if err := s.memberlist.Leave(5 * time.Second); err != nil {
		s.logger.Warn("Gossip leave failed", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// applyMeta merges one node's advertised metadata into the shard view
func (s *GossipService) applyMeta(raw []byte) {
	if len(raw) == 0 {
		return
	}

	var meta shardMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		s.logger.Warn("Failed to unmarshal gossip metadata", zap.Error(err))
		return
	}
	if meta.ShardID == "" {
		return
	}

	now := time.Now()

	s.mu.Lock()
	info, ok := s.shards[meta.ShardID]
	if !ok {
		info = model.ShardInfo{
			ID:        meta.ShardID,
			CreatedAt: now,
		}
	}
	info.Status = meta.Status
	info.Peers = meta.Peers
	info.UpdatedAt = now
	s.shards[meta.ShardID] = info
	s.peerToShard[meta.NodeID] = meta.ShardID
	s.mu.Unlock()

	s.updateMemberGauges()
}

// removeNode handles a departed member. The shard is marked down rather
// than removed so in-flight traffic can still resolve its identity.
func (s *GossipService) removeNode(nodeID string) {
	s.mu.Lock()
	shardID, ok := s.peerToShard[nodeID]
	if ok {
		delete(s.peerToShard, nodeID)
		if info, exists := s.shards[shardID]; exists {
			info.Status = model.ShardStatusDown
			info.UpdatedAt = time.Now()
			s.shards[shardID] = info
		}
	}
	s.mu.Unlock()

	s.updateMemberGauges()
}

func (s *GossipService) updateMemberGauges() {
	if s.metrics == nil {
		return
	}

	s.mu.RLock()
	total := len(s.shards)
	healthy := 0
	for _, info := range s.shards {
		if info.IsActive() {
			healthy++
		}
	}
	s.mu.RUnlock()

	s.metrics.GossipMembersTotal.Set(float64(total))
	s.metrics.GossipMembersHealthy.Set(float64(healthy))
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.RLock()
	data, _ := json.Marshal(s.local)
	s.mu.RUnlock()

	if len(data) > limit {
		s.logger.Warn("Node metadata exceeds gossip limit, truncating peers",
			zap.Int("size", len(data)),
			zap.Int("limit", limit))
		s.mu.RLock()
		trimmed := s.local
		trimmed.Peers = nil
		data, _ = json.Marshal(trimmed)
		s.mu.RUnlock()
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	s.applyMeta(data)
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.local)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	s.applyMeta(buf)
}

// gossipEventDelegate handles memberlist membership events
type gossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	d.service.applyMeta(node.Meta)
}

// NotifyLeave is called when a node leaves
func (d *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
	d.service.removeNode(node.Name)
}

// NotifyUpdate is called when a node's metadata changes
func (d *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
	d.service.applyMeta(node.Meta)
}
