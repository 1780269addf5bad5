package routing_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/routing"
)

// twoShardTopology links shard-a to shard-b with the given latency
func twoShardTopology(latencyMs uint64) *routing.StaticTopology {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{
		ID:     "shard-a",
		Status: model.ShardStatusActive,
		Peers: []model.PeerInfo{
			{PeerID: "node-b", ShardID: "shard-b", LatencyMs: &latencyMs, Connected: true},
		},
	})
	topo.SetShard(model.ShardInfo{
		ID:     "shard-b",
		Status: model.ShardStatusActive,
	})
	return topo
}

func TestManager_FirstQueryRefreshes(t *testing.T) {
	topo := twoShardTopology(10)
	mgr := routing.NewManager(
		&routing.ManagerConfig{
			Criteria:       model.CriteriaLatency,
			UpdateInterval: time.Minute,
			Clock:          clock.NewMock(),
		},
		topo, nil, zap.NewNop(),
	)

	path, err := mgr.OptimalRoute("shard-a", "shard-b")
	require.NoError(t, err)
	assert.Equal(t, []model.ShardID{"shard-b"}, path)
}

func TestNewManager_DoesNotMutateCallerConfig(t *testing.T) {
	cfg := routing.ManagerConfig{Criteria: model.CriteriaLatency}

	mgr := routing.NewManager(&cfg, twoShardTopology(10), nil, zap.NewNop())
	require.NotNil(t, mgr)

	// Defaults apply internally; the caller's struct keeps its zero values
	assert.Equal(t, routing.ManagerConfig{Criteria: model.CriteriaLatency}, cfg)
	assert.Nil(t, cfg.Clock)
	assert.Zero(t, cfg.UpdateInterval)
}

func TestManager_RefreshGatedByInterval(t *testing.T) {
	mock := clock.NewMock()
	topo := twoShardTopology(10)
	mgr := routing.NewManager(
		&routing.ManagerConfig{
			Criteria:       model.CriteriaLatency,
			UpdateInterval: time.Minute,
			Clock:          mock,
		},
		topo, nil, zap.NewNop(),
	)

	_, err := mgr.OptimalRoute("shard-a", "shard-b")
	require.NoError(t, err)

	// New shard appears, but the refresh interval has not elapsed
	topo.SetShard(model.ShardInfo{
		ID:     "shard-b",
		Status: model.ShardStatusActive,
		Peers: []model.PeerInfo{
			{PeerID: "node-c", ShardID: "shard-c", Connected: true},
		},
	})
	topo.SetShard(model.ShardInfo{
		ID:     "shard-c",
		Status: model.ShardStatusActive,
	})

	_, err = mgr.OptimalRoute("shard-a", "shard-c")
	require.Error(t, err, "stale table should not know shard-c yet")

	mock.Add(time.Minute + time.Second)

	path, err := mgr.OptimalRoute("shard-a", "shard-c")
	require.NoError(t, err)
	assert.Equal(t, []model.ShardID{"shard-b", "shard-c"}, path)
}

func TestManager_ForceUpdate(t *testing.T) {
	mock := clock.NewMock()
	topo := twoShardTopology(10)
	mgr := routing.NewManager(
		&routing.ManagerConfig{
			Criteria:       model.CriteriaLatency,
			UpdateInterval: time.Hour,
			Clock:          mock,
		},
		topo, nil, zap.NewNop(),
	)

	_, err := mgr.OptimalRoute("shard-a", "shard-b")
	require.NoError(t, err)

	topo.SetShard(model.ShardInfo{
		ID:     "shard-b",
		Status: model.ShardStatusActive,
		Peers: []model.PeerInfo{
			{PeerID: "node-c", ShardID: "shard-c", Connected: true},
		},
	})
	topo.SetShard(model.ShardInfo{
		ID:     "shard-c",
		Status: model.ShardStatusActive,
	})

	require.NoError(t, mgr.ForceUpdate())

	path, err := mgr.OptimalRoute("shard-a", "shard-c")
	require.NoError(t, err)
	assert.Equal(t, []model.ShardID{"shard-b", "shard-c"}, path)
}

func TestManager_SetOptimizationCriteria(t *testing.T) {
	lowLatency := uint64(5)
	highLatency := uint64(20)
	slowBandwidth := uint64(1_000_000)
	fastBandwidth := uint64(1_000_000_000)

	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{
		ID:     "shard-a",
		Status: model.ShardStatusActive,
		Peers: []model.PeerInfo{
			// Direct edge: quick but narrow
			{PeerID: "node-c", ShardID: "shard-c", LatencyMs: &lowLatency, BandwidthBps: &slowBandwidth, Connected: true},
			{PeerID: "node-b", ShardID: "shard-b", LatencyMs: &highLatency, BandwidthBps: &fastBandwidth, Connected: true},
		},
	})
	topo.SetShard(model.ShardInfo{
		ID:     "shard-b",
		Status: model.ShardStatusActive,
		Peers: []model.PeerInfo{
			{PeerID: "node-c", ShardID: "shard-c", LatencyMs: &highLatency, BandwidthBps: &fastBandwidth, Connected: true},
		},
	})
	topo.SetShard(model.ShardInfo{
		ID:     "shard-c",
		Status: model.ShardStatusActive,
	})

	mgr := routing.NewManager(
		&routing.ManagerConfig{
			Criteria:       model.CriteriaLatency,
			UpdateInterval: time.Hour,
			Clock:          clock.NewMock(),
		},
		topo, nil, zap.NewNop(),
	)

	path, err := mgr.OptimalRoute("shard-a", "shard-c")
	require.NoError(t, err)
	assert.Equal(t, []model.ShardID{"shard-c"}, path)

	mgr.SetOptimizationCriteria(model.CriteriaBandwidth)

	path, err = mgr.OptimalRoute("shard-a", "shard-c")
	require.NoError(t, err)
	assert.Equal(t, []model.ShardID{"shard-b", "shard-c"}, path)
}
