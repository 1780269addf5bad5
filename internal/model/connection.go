package model

import (
	"fmt"
	"strings"
)

// ShardConnection is one directed edge of the shard graph. A connection
// describes observed network quality from Source to Destination only;
// the reverse direction is a separate entry.
type ShardConnection struct {
	Source       ShardID
	Destination  ShardID
	LatencyMs    uint64
	BandwidthBps uint64
	Reliability  float64 // 0.0 - 1.0
	Load         float64 // 0.0 - 1.0
	Enabled      bool
}

// ConnectionKey is the ordered (source, destination) pair keying the edge map
type ConnectionKey struct {
	Source      ShardID
	Destination ShardID
}

// Key returns the edge-map key for this connection
func (c *ShardConnection) Key() ConnectionKey {
	return ConnectionKey{Source: c.Source, Destination: c.Destination}
}

// ConnectionUpdate carries a partial update for an existing connection.
// Nil fields are left untouched.
type ConnectionUpdate struct {
	LatencyMs    *uint64
	BandwidthBps *uint64
	Reliability  *float64
	Load         *float64
	Enabled      *bool
}

// OptimizationCriteria selects the cost function used to weight edges
// during shortest-path computation
type OptimizationCriteria int

const (
	CriteriaLatency OptimizationCriteria = iota
	CriteriaBandwidth
	CriteriaReliability
	CriteriaLoad
	CriteriaCombined
)

// String returns the configuration name of the criteria
func (c OptimizationCriteria) String() string {
	switch c {
	case CriteriaLatency:
		return "latency"
	case CriteriaBandwidth:
		return "bandwidth"
	case CriteriaReliability:
		return "reliability"
	case CriteriaLoad:
		return "load"
	case CriteriaCombined:
		return "combined"
	default:
		return fmt.Sprintf("criteria(%d)", int(c))
	}
}

// ParseCriteria parses a configuration value into OptimizationCriteria
func ParseCriteria(s string) (OptimizationCriteria, error) {
	switch strings.ToLower(s) {
	case "latency":
		return CriteriaLatency, nil
	case "bandwidth":
		return CriteriaBandwidth, nil
	case "reliability":
		return CriteriaReliability, nil
	case "load":
		return CriteriaLoad, nil
	case "combined", "":
		return CriteriaCombined, nil
	default:
		return CriteriaCombined, fmt.Errorf("unknown optimization criteria %q", s)
	}
}

// Cost returns the edge weight for this connection under the given criteria.
// Higher bandwidth and reliability lower the cost; latency and load raise it.
func (c *ShardConnection) Cost(criteria OptimizationCriteria) float64 {
	switch criteria {
	case CriteriaLatency:
		return float64(c.LatencyMs)
	case CriteriaBandwidth:
		return 1e9 / float64(c.BandwidthBps)
	case CriteriaReliability:
		return 1.0 - c.Reliability
	case CriteriaLoad:
		return c.Load
	default:
		latencyFactor := float64(c.LatencyMs) / 100.0
		bandwidthFactor := 1e9 / float64(c.BandwidthBps)
		reliabilityFactor := 1.0 - c.Reliability
		return 0.4*latencyFactor + 0.2*bandwidthFactor + 0.2*reliabilityFactor + 0.2*c.Load
	}
}
