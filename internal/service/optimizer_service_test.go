package service_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/errors"
	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/routing"
	"github.com/shardmesh/routing-node/internal/service"
	"github.com/shardmesh/routing-node/internal/util/codec"
)

// msg builds a deterministic test message; seq keeps marker keys unique
func msg(messageType model.MessageType, receiver model.ShardID, seq int) model.NetworkMessage {
	return model.NetworkMessage{
		MessageType: messageType,
		Sender:      "shard-a",
		Receiver:    receiver,
		Data:        []byte(fmt.Sprintf("payload-%d", seq)),
		Timestamp:   time.Unix(0, int64(seq+1)),
	}
}

func newTestOptimizer(t *testing.T, cfg *service.OptimizerConfig, topology routing.TopologyProvider) *service.OptimizerService {
	t.Helper()
	if topology == nil {
		topology = routing.NewStaticTopology()
	}
	svc, err := service.NewOptimizerService(cfg, topology, nil, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestOptimizerService_CreateBatch_FIFO(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{BatchSize: 10}, nil)

	for i := 0; i < 20; i++ {
		require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", i)))
	}
	assert.Equal(t, 20, svc.QueueSize("shard-b"))

	first := svc.CreateBatch("shard-b")
	require.NotNil(t, first)
	require.Len(t, first.Messages, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("payload-%d", i)), first.Messages[i].Data)
	}
	assert.Equal(t, 10, svc.QueueSize("shard-b"))
	assert.Equal(t, 10, svc.SendingCount())

	second := svc.CreateBatch("shard-b")
	require.NotNil(t, second)
	require.Len(t, second.Messages, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, []byte(fmt.Sprintf("payload-%d", i+10)), second.Messages[i].Data)
	}
	assert.Equal(t, 0, svc.QueueSize("shard-b"))

	assert.Nil(t, svc.CreateBatch("shard-b"))
}

func TestOptimizerService_CreateBatch_SkipsInFlight(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{BatchSize: 10}, nil)

	m := msg(model.MessageTypeTransaction, "shard-b", 0)
	require.NoError(t, svc.AddMessage(m))

	batch := svc.CreateBatch("shard-b")
	require.NotNil(t, batch)
	assert.Equal(t, 1, svc.SendingCount())

	// Same sender and timestamp: the marker key collides while in flight
	require.NoError(t, svc.AddMessage(m))
	assert.Nil(t, svc.CreateBatch("shard-b"))
	assert.Equal(t, 1, svc.QueueSize("shard-b"))
}

func TestOptimizerService_CreateBatch_Priority(t *testing.T) {
	tests := []struct {
		name  string
		types []model.MessageType
		want  model.MessagePriority
	}{
		{
			name:  "consensus dominates",
			types: []model.MessageType{model.MessageTypeHeartbeat, model.MessageTypeConsensus, model.MessageTypeShardInfo},
			want:  model.PriorityCritical,
		},
		{
			name:  "transaction is high",
			types: []model.MessageType{model.MessageTypeHeartbeat, model.MessageTypeTransaction},
			want:  model.PriorityHigh,
		},
		{
			name:  "heartbeat only is low",
			types: []model.MessageType{model.MessageTypeHeartbeat, model.MessageTypeDiscovery},
			want:  model.PriorityLow,
		},
		{
			name:  "unknown type is normal",
			types: []model.MessageType{model.MessageType("mystery")},
			want:  model.PriorityNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestOptimizer(t, &service.OptimizerConfig{BatchSize: 10}, nil)
			for i, messageType := range tt.types {
				require.NoError(t, svc.AddMessage(msg(messageType, "shard-b", i)))
			}

			batch := svc.CreateBatch("shard-b")
			require.NotNil(t, batch)
			assert.Equal(t, tt.want, batch.Priority)
		})
	}
}

func TestOptimizerService_CreateBatch_Compression(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize:            10,
		CompressionThreshold: 64,
	}, nil)

	for i := 0; i < 5; i++ {
		m := msg(model.MessageTypeBlock, "shard-b", i)
		m.Data = append(m.Data, make([]byte, 100)...)
		require.NoError(t, svc.AddMessage(m))
	}

	batch := svc.CreateBatch("shard-b")
	require.NotNil(t, batch)
	assert.True(t, batch.Compressed)
	assert.NotEmpty(t, batch.Payload)
	assert.Greater(t, batch.CompressedSize, 0)
	assert.Greater(t, batch.CompressionRatio(), 0.0)

	restored, err := codec.Decompress(batch.Payload)
	require.NoError(t, err)
	require.Len(t, restored, 5)
	assert.Equal(t, batch.Messages[0].Data, restored[0].Data)
}

func TestOptimizerService_CreateBatch_BelowThresholdStaysPlain(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize:            10,
		CompressionThreshold: 1 << 20,
	}, nil)

	require.NoError(t, svc.AddMessage(msg(model.MessageTypeBlock, "shard-b", 0)))

	batch := svc.CreateBatch("shard-b")
	require.NotNil(t, batch)
	assert.False(t, batch.Compressed)
	assert.Empty(t, batch.Payload)
	assert.Zero(t, batch.CompressionRatio())
}

func TestOptimizerService_AddMessage_QueueFull(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize:     10,
		QueueCapacity: 2,
	}, nil)

	require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", 0)))
	require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", 1)))

	err := svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", 2))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueueFull, errors.GetCode(err))
	assert.Equal(t, 2, svc.QueueSize("shard-b"))

	// Other destinations have their own capacity
	require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-c", 3)))
}

func TestOptimizerService_AddMessage_RequiresReceiver(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{}, nil)

	err := svc.AddMessage(msg(model.MessageTypeTransaction, "", 0))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestOptimizerService_ConcurrentEnqueue(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{BatchSize: 10}, nil)

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				m := msg(model.MessageTypeTransaction, "shard-b", g*perGoroutine+i)
				assert.NoError(t, svc.AddMessage(m))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, svc.TotalQueueSize())
}

func TestOptimizerService_ProcessingDeliversAllMessages(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-a", Status: model.ShardStatusActive})
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})
	topo.SetLink("shard-a", "shard-b", true)

	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize: 4,
		MaxWait:   50 * time.Millisecond,
	}, topo)

	var mu sync.Mutex
	delivered := 0

	sender := func(batch model.MessageBatch) error {
		mu.Lock()
		defer mu.Unlock()
		delivered += len(batch.Messages)
		return nil
	}

	require.NoError(t, svc.StartProcessing(sender))
	defer svc.Stop()

	// Double start must be rejected while running
	err := svc.StartProcessing(sender)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidState, errors.GetCode(err))

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 10
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return svc.SendingCount() == 0 && svc.TotalQueueSize() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOptimizerService_FailedDispatchReleasesMarkers(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})

	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize: 4,
		MaxWait:   50 * time.Millisecond,
	}, topo)

	var mu sync.Mutex
	attempts := 0

	sender := func(batch model.MessageBatch) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return fmt.Errorf("link down")
	}

	require.NoError(t, svc.StartProcessing(sender))
	defer svc.Stop()

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// Failed messages are not redelivered, but their markers must not leak
	require.Eventually(t, func() bool {
		return svc.SendingCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestOptimizerService_StopWithSaturatedPoolReleasesAllMarkers(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})

	// Single worker and a tiny handoff buffer so batches pile up behind a
	// stalled sender before shutdown starts
	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize:       1,
		MaxBatches:      2,
		MaxWait:         time.Millisecond,
		DispatchWorkers: 1,
	}, topo)

	release := make(chan struct{})
	sender := func(batch model.MessageBatch) error {
		<-release
		return nil
	}

	require.NoError(t, svc.StartProcessing(sender))

	for i := 0; i < 12; i++ {
		require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", i)))
	}

	// Wait until the worker, the pool queue and the handoff channel are
	// all occupied by in-flight batches
	require.Eventually(t, func() bool {
		return svc.SendingCount() >= 4
	}, 5*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()

	// Let shutdown reach the stalled sender, then unblock it
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Every batch that never reached the sender must have its markers
	// released during shutdown
	assert.Equal(t, 0, svc.SendingCount())
}

func TestNewOptimizerService_DoesNotMutateCallerConfig(t *testing.T) {
	cfg := service.OptimizerConfig{CompressionLevel: 3}

	svc := newTestOptimizer(t, &cfg, nil)
	require.NotNil(t, svc)

	// Defaults apply internally; the caller's struct keeps its zero values
	assert.Equal(t, service.OptimizerConfig{CompressionLevel: 3}, cfg)
}

func TestOptimizerService_RestartAfterStop(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})

	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize: 4,
		MaxWait:   50 * time.Millisecond,
	}, topo)

	sender := func(batch model.MessageBatch) error { return nil }

	require.NoError(t, svc.StartProcessing(sender))
	svc.Stop()

	// Stop is idempotent
	svc.Stop()

	require.NoError(t, svc.StartProcessing(sender))
	svc.Stop()
}

func TestOptimizerService_NextHop(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-a", Status: model.ShardStatusActive})
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})
	topo.SetShard(model.ShardInfo{ID: "shard-c", Status: model.ShardStatusActive})
	topo.SetLink("shard-a", "shard-b", true)
	topo.SetLink("shard-b", "shard-c", true)

	svc := newTestOptimizer(t, &service.OptimizerConfig{}, topo)
	svc.OptimizeNextHops()

	// Direct neighbour
	assert.Equal(t, model.ShardID("shard-b"), svc.NextHop("shard-a", "shard-b"))

	// Two hops away: relay through shard-b
	assert.Equal(t, model.ShardID("shard-b"), svc.NextHop("shard-a", "shard-c"))

	// Self and unknown targets fall back to the target itself
	assert.Equal(t, model.ShardID("shard-a"), svc.NextHop("shard-a", "shard-a"))
	assert.Equal(t, model.ShardID("shard-x"), svc.NextHop("shard-a", "shard-x"))
}

func TestOptimizerService_NextHopPrunesDepartedShards(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-a", Status: model.ShardStatusActive})
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})
	topo.SetLink("shard-a", "shard-b", true)

	svc := newTestOptimizer(t, &service.OptimizerConfig{}, topo)
	svc.OptimizeNextHops()
	assert.Equal(t, model.ShardID("shard-b"), svc.NextHop("shard-a", "shard-b"))

	topo.RemoveShard("shard-b")
	svc.OptimizeNextHops()

	// With shard-b gone the hint degrades to the raw target
	assert.Equal(t, model.ShardID("shard-b"), svc.NextHop("shard-a", "shard-b"))
}

func TestOptimizerService_MessageCache(t *testing.T) {
	svc := newTestOptimizer(t, &service.OptimizerConfig{CacheSize: 2}, nil)

	svc.CacheMessage("k1", []byte("v1"))
	svc.CacheMessage("k2", []byte("v2"))

	got, ok := svc.CachedMessage("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	// Third insert evicts the least recently used entry
	svc.CacheMessage("k3", []byte("v3"))
	_, ok = svc.CachedMessage("k2")
	assert.False(t, ok)

	_, ok = svc.CachedMessage("missing")
	assert.False(t, ok)
}

func TestOptimizerService_SetBatchSizeAdjustsMinimum(t *testing.T) {
	topo := routing.NewStaticTopology()
	topo.SetShard(model.ShardInfo{ID: "shard-b", Status: model.ShardStatusActive})

	svc := newTestOptimizer(t, &service.OptimizerConfig{
		BatchSize: 100,
		MaxWait:   time.Hour,
	}, topo)

	var mu sync.Mutex
	batches := 0
	sender := func(batch model.MessageBatch) error {
		mu.Lock()
		defer mu.Unlock()
		batches++
		return nil
	}

	require.NoError(t, svc.StartProcessing(sender))
	defer svc.Stop()

	// 8 messages: below the min batch size of 25, nothing flushes
	for i := 0; i < 8; i++ {
		require.NoError(t, svc.AddMessage(msg(model.MessageTypeTransaction, "shard-b", i)))
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, batches)
	mu.Unlock()

	// Shrinking the batch size drops the minimum to 8/4 = 2
	svc.SetBatchSize(8)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return batches >= 1
	}, 5*time.Second, 10*time.Millisecond)
}
