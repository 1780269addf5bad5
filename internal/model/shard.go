package model

import "time"

// ShardID identifies one independently operating partition of the ledger.
type ShardID string

// ShardStatus represents the lifecycle state of a shard
type ShardStatus string

const (
	// ShardStatusActive indicates a fully operational shard
	ShardStatusActive ShardStatus = "active"
	// ShardStatusJoining indicates a shard still bootstrapping
	ShardStatusJoining ShardStatus = "joining"
	// ShardStatusLeaving indicates a shard draining before removal
	ShardStatusLeaving ShardStatus = "leaving"
	// ShardStatusDown indicates a failed or unreachable shard
	ShardStatusDown ShardStatus = "down"
)

// PeerInfo carries the link facts one shard observes about a peer.
// Optional fields are nil when the peer has not reported them yet;
// edge defaults apply in that case.
type PeerInfo struct {
	PeerID       string   `json:"peer_id"`
	ShardID      ShardID  `json:"shard_id"`
	LatencyMs    *uint64  `json:"latency_ms,omitempty"`
	BandwidthBps *uint64  `json:"bandwidth_bps,omitempty"`
	Reliability  *float64 `json:"reliability,omitempty"`
	Load         *float64 `json:"load,omitempty"`
	Connected    bool     `json:"connected"`
}

// ShardInfo describes one shard as reported by the topology provider
type ShardInfo struct {
	ID        ShardID     `json:"id"`
	Peers     []PeerInfo  `json:"peers"`
	Status    ShardStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsActive reports whether the shard should participate in batching and routing
func (s *ShardInfo) IsActive() bool {
	return s.Status == ShardStatusActive
}
