package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/errors"
	"github.com/shardmesh/routing-node/internal/metrics"
	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/routing"
	"github.com/shardmesh/routing-node/internal/util/codec"
	"github.com/shardmesh/routing-node/internal/util/workerpool"
)

// BatchSender delivers one assembled batch over the network. It is
// supplied by the owning service layer at StartProcessing time and is
// assumed to block on I/O; the optimizer never invokes it while holding
// a lock.
type BatchSender func(model.MessageBatch) error

// OptimizerConfig holds communication optimizer configuration
type OptimizerConfig struct {
	BatchSize            int
	MaxBatches           int
	MaxWait              time.Duration
	QueueCapacity        int
	CacheSize            int
	CompressionThreshold int
	CompressionLevel     int
	OptimizationInterval time.Duration
	DispatchWorkers      int
}

// OptimizerService converts per-destination outbound message streams
// into compressed, priority-tagged batches and dispatches them through
// a pluggable sender. It also maintains the cheap next-hop relay table
// and a bounded payload cache.
type OptimizerService struct {
	topology routing.TopologyProvider

	queuesMu sync.Mutex
	queues   map[model.ShardID][]model.NetworkMessage

	sendingMu sync.Mutex
	sending   map[string]struct{}

	cache    *lru.Cache[string, []byte]
	nextHops *nextHopTable

	cfgMu                sync.RWMutex
	batchSize            int
	minBatchSize         int
	maxBatches           int
	maxWait              time.Duration
	queueCapacity        int
	compressionThreshold int
	compressionLevel     int
	optimizationInterval time.Duration
	dispatchWorkers      int

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	pool    *workerpool.Pool
	wg      sync.WaitGroup

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewOptimizerService creates a communication optimizer. Processing does
// not start until StartProcessing is called.
func NewOptimizerService(cfg *OptimizerConfig, topology routing.TopologyProvider, m *metrics.Metrics, logger *zap.Logger) (*OptimizerService, error) {
	// Defaults are applied to a copy so the caller's config is untouched.
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 10
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 8192
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = 1024
	}
	if c.OptimizationInterval <= 0 {
		c.OptimizationInterval = 60 * time.Second
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = 8
	}

	cache, err := lru.New[string, []byte](c.CacheSize)
	if err != nil {
		return nil, errors.InvalidArgument("invalid cache size", err)
	}

	return &OptimizerService{
		topology:             topology,
		queues:               make(map[model.ShardID][]model.NetworkMessage),
		sending:              make(map[string]struct{}),
		cache:                cache,
		nextHops:             newNextHopTable(),
		batchSize:            c.BatchSize,
		minBatchSize:         c.BatchSize / 4,
		maxBatches:           c.MaxBatches,
		maxWait:              c.MaxWait,
		queueCapacity:        c.QueueCapacity,
		compressionThreshold: c.CompressionThreshold,
		compressionLevel:     codec.ClampLevel(c.CompressionLevel),
		optimizationInterval: c.OptimizationInterval,
		dispatchWorkers:      c.DispatchWorkers,
		metrics:              m,
		logger:               logger,
	}, nil
}

// AddMessage appends a message to its destination shard's queue.
// Rejects with QueueFull once the per-shard capacity is reached.
func (s *OptimizerService) AddMessage(msg model.NetworkMessage) error {
	if msg.Receiver == "" {
		return errors.InvalidArgument("message has no receiver shard", nil)
	}

	s.cfgMu.RLock()
	capacity := s.queueCapacity
	s.cfgMu.RUnlock()

	s.queuesMu.Lock()
	queue := s.queues[msg.Receiver]
	if len(queue) >= capacity {
		s.queuesMu.Unlock()
		if s.metrics != nil {
			s.metrics.MessagesDroppedTotal.Inc()
		}
		return errors.QueueFull(string(msg.Receiver), len(queue), capacity)
	}
	s.queues[msg.Receiver] = append(queue, msg)
	total := s.totalQueueSizeLocked()
	s.queuesMu.Unlock()

	if s.metrics != nil {
		s.metrics.MessagesQueuedTotal.Inc()
		s.metrics.QueueDepth.Set(float64(total))
	}

	return nil
}

// CreateBatch assembles a batch for the target shard from the head of
// its queue, skipping messages already in flight. Selected messages are
// removed from the queue and marked in flight; an in-flight message left
// behind may be overtaken by later messages. Returns nil when no
// eligible messages exist.
func (s *OptimizerService) CreateBatch(target model.ShardID) *model.MessageBatch {
	s.cfgMu.RLock()
	batchSize := s.batchSize
	threshold := s.compressionThreshold
	level := s.compressionLevel
	s.cfgMu.RUnlock()

	s.queuesMu.Lock()
	queue := s.queues[target]
	if len(queue) == 0 {
		s.queuesMu.Unlock()
		return nil
	}

	s.sendingMu.Lock()

	var selected []model.NetworkMessage
	kept := queue[:0]
	originalSize := 0
	priority := model.PriorityLow

	for _, msg := range queue {
		if len(selected) < batchSize {
			if _, inFlight := s.sending[msg.ID()]; !inFlight {
				selected = append(selected, msg)
				if p := model.PriorityForMessageType(msg.MessageType); p > priority {
					priority = p
				}
				originalSize += len(msg.Data)
				continue
			}
		}
		kept = append(kept, msg)
	}

	if len(selected) == 0 {
		s.sendingMu.Unlock()
		s.queuesMu.Unlock()
		return nil
	}

	if len(kept) == 0 {
		delete(s.queues, target)
	} else {
		s.queues[target] = kept
	}

	for i := range selected {
		s.sending[selected[i].ID()] = struct{}{}
	}
	sendingCount := len(s.sending)
	s.sendingMu.Unlock()

	total := s.totalQueueSizeLocked()
	s.queuesMu.Unlock()

	batch := &model.MessageBatch{
		ID:           uuid.NewString(),
		TargetShard:  target,
		Messages:     selected,
		CreatedAt:    time.Now(),
		Priority:     priority,
		OriginalSize: originalSize,
	}

	// Above the threshold the batch is always marked compressed; the
	// output is not checked against the original size.
	if originalSize >= threshold {
		payload, err := codec.Compress(selected, level)
		if err != nil {
			s.logger.Warn("Batch compression failed, sending uncompressed",
				zap.String("batch_id", batch.ID),
				zap.Error(err))
		} else {
			batch.Compressed = true
			batch.CompressedSize = len(payload)
			batch.Payload = payload
		}
	}

	if s.metrics != nil {
		s.metrics.BatchesCreatedTotal.Inc()
		s.metrics.BatchSize.Observe(float64(len(selected)))
		s.metrics.BatchPriority.WithLabelValues(priority.String()).Inc()
		s.metrics.SendingCount.Set(float64(sendingCount))
		s.metrics.QueueDepth.Set(float64(total))
	}

	return batch
}

// StartProcessing launches the batch-generation and batch-dispatch
// loops. The sender callback performs the actual network transmission.
// Fails with InvalidState when the optimizer is already running.
func (s *OptimizerService) StartProcessing(sender BatchSender) error {
	if sender == nil {
		return errors.InvalidArgument("sender callback is required", nil)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return errors.InvalidState("communication optimizer is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.cfgMu.RLock()
	maxBatches := s.maxBatches
	workers := s.dispatchWorkers
	s.cfgMu.RUnlock()

	s.pool = workerpool.New(&workerpool.Config{
		Name:       "batch-dispatch",
		MaxWorkers: workers,
		QueueSize:  maxBatches,
		Logger:     s.logger,
	})

	batchCh := make(chan model.MessageBatch, maxBatches)

	s.wg.Add(2)
	go s.generateLoop(batchCh, s.stopCh)
	go s.dispatchLoop(batchCh, s.stopCh, s.pool, sender)

	s.logger.Info("Communication optimizer started",
		zap.Int("max_batches", maxBatches),
		zap.Int("dispatch_workers", workers))

	return nil
}

// Stop halts the background loops. Dispatch tasks already handed to the
// pool run to completion so in-flight markers are always released.
func (s *OptimizerService) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	pool := s.pool
	s.runMu.Unlock()

	s.wg.Wait()
	if pool != nil {
		if err := pool.Stop(30 * time.Second); err != nil {
			s.logger.Warn("Dispatch pool stop timed out", zap.Error(err))
		}
	}

	s.logger.Info("Communication optimizer stopped")
}

// generateLoop sweeps active shards, assembling batches once a queue
// holds minBatchSize messages or maxWait has elapsed since the shard's
// last batch, and periodically rebuilds the next-hop table
func (s *OptimizerService) generateLoop(batchCh chan<- model.MessageBatch, stopCh <-chan struct{}) {
	defer s.wg.Done()
	defer close(batchCh)

	s.OptimizeNextHops()

	lastBatch := make(map[model.ShardID]time.Time)
	lastOptimization := time.Now()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		shards := s.topology.ActiveShards()
		for i := range shards {
			shardID := shards[i].ID

			last, ok := lastBatch[shardID]
			if !ok {
				last = time.Now()
				lastBatch[shardID] = last
			}

			if s.QueueSize(shardID) == 0 {
				continue
			}

			s.cfgMu.RLock()
			minBatch := s.minBatchSize
			maxWait := s.maxWait
			s.cfgMu.RUnlock()

			// A trickle of traffic still flushes once maxWait elapses
			if s.QueueSize(shardID) < minBatch && time.Since(last) < maxWait {
				continue
			}

			batch := s.CreateBatch(shardID)
			if batch == nil {
				continue
			}

			select {
			case batchCh <- *batch:
				lastBatch[shardID] = time.Now()
			case <-stopCh:
				s.releaseMarkers(batch)
				return
			}
		}

		s.cfgMu.RLock()
		optInterval := s.optimizationInterval
		s.cfgMu.RUnlock()

		if time.Since(lastOptimization) >= optInterval {
			s.OptimizeNextHops()
			lastOptimization = time.Now()
		}

		select {
		case <-stopCh:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// dispatchLoop hands generated batches to the dispatch pool. After stop
// is signalled, the channel (closed by the generator) is drained to the
// end and every undispatched batch has its markers released; the loop
// never returns with batches still buffered.
func (s *OptimizerService) dispatchLoop(batchCh <-chan model.MessageBatch, stopCh <-chan struct{}, pool *workerpool.Pool, sender BatchSender) {
	defer s.wg.Done()

	stopping := false
	for batch := range batchCh {
		if !stopping {
			select {
			case <-stopCh:
				stopping = true
			default:
			}
		}
		if stopping {
			s.releaseMarkers(&batch)
			s.logger.Debug("Releasing undispatched batch on shutdown",
				zap.String("batch_id", batch.ID),
				zap.Int("messages", len(batch.Messages)))
			continue
		}

		b := batch
		task := workerpool.Task{
			ID: b.ID,
			Fn: func() error { return s.dispatchBatch(b, sender) },
		}

		for !pool.TrySubmit(task) {
			// Pool saturated; wait briefly without load on the channel
			select {
			case <-stopCh:
				stopping = true
			case <-time.After(5 * time.Millisecond):
			}
			if stopping {
				s.releaseMarkers(&b)
				break
			}
		}
	}
}

// dispatchBatch invokes the sender outside all locks and releases the
// in-flight markers whatever the outcome. A failed batch is not
// re-enqueued; redelivery is the producer's responsibility.
func (s *OptimizerService) dispatchBatch(batch model.MessageBatch, sender BatchSender) error {
	start := time.Now()
	err := sender(batch)
	s.releaseMarkers(&batch)

	if err != nil {
		if s.metrics != nil {
			s.metrics.BatchesFailedTotal.Inc()
		}
		s.logger.Error("Batch dispatch failed",
			zap.String("batch_id", batch.ID),
			zap.String("target_shard", string(batch.TargetShard)),
			zap.Int("messages", len(batch.Messages)),
			zap.Error(err))
		return err
	}

	if s.metrics != nil {
		s.metrics.BatchesSentTotal.Inc()
		s.metrics.BatchProcessingTime.Observe(time.Since(start).Seconds())
		if ratio := batch.CompressionRatio(); ratio > 0 {
			s.metrics.BatchCompressionRatio.Observe(ratio)
		}
	}

	return nil
}

// releaseMarkers clears the in-flight markers for every message in the batch
func (s *OptimizerService) releaseMarkers(batch *model.MessageBatch) {
	s.sendingMu.Lock()
	for _, id := range batch.MessageIDs() {
		delete(s.sending, id)
	}
	count := len(s.sending)
	s.sendingMu.Unlock()

	if s.metrics != nil {
		s.metrics.SendingCount.Set(float64(count))
	}
}

// OptimizeNextHops rebuilds the next-hop relay table from the current
// active-shard set
func (s *OptimizerService) OptimizeNextHops() {
	s.nextHops.optimize(s.topology)
	if s.metrics != nil {
		s.metrics.NextHopTableSize.Set(float64(s.nextHops.size()))
	}
}

// NextHop returns the relay hint for a message from source to target.
// Best effort: with no relay data the target itself is returned.
func (s *OptimizerService) NextHop(source, target model.ShardID) model.ShardID {
	return s.nextHops.nextHop(source, target)
}

// CacheMessage stores an opaque payload under a caller-chosen key
func (s *OptimizerService) CacheMessage(key string, data []byte) {
	s.cache.Add(key, append([]byte(nil), data...))
}

// CachedMessage retrieves a previously cached payload
func (s *OptimizerService) CachedMessage(key string) ([]byte, bool) {
	return s.cache.Get(key)
}

// QueueSize returns the queue depth for one destination shard
func (s *OptimizerService) QueueSize(shardID model.ShardID) int {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	return len(s.queues[shardID])
}

// TotalQueueSize returns the message count across all destination queues
func (s *OptimizerService) TotalQueueSize() int {
	s.queuesMu.Lock()
	defer s.queuesMu.Unlock()
	return s.totalQueueSizeLocked()
}

// totalQueueSizeLocked sums queue depths. Caller holds queuesMu.
func (s *OptimizerService) totalQueueSizeLocked() int {
	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

// SendingCount returns the number of in-flight messages
func (s *OptimizerService) SendingCount() int {
	s.sendingMu.Lock()
	defer s.sendingMu.Unlock()
	return len(s.sending)
}

// SetBatchSize updates the batch size; minBatchSize follows as a quarter of it
func (s *OptimizerService) SetBatchSize(size int) {
	if size <= 0 {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.batchSize = size
	s.minBatchSize = size / 4
}

// SetMaxBatches updates the handoff channel bound used at the next start
func (s *OptimizerService) SetMaxBatches(n int) {
	if n <= 0 {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.maxBatches = n
}

// SetMaxWait updates the per-shard flush wait
func (s *OptimizerService) SetMaxWait(d time.Duration) {
	if d <= 0 {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.maxWait = d
}

// SetOptimizationInterval updates the next-hop rebuild cadence
func (s *OptimizerService) SetOptimizationInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.optimizationInterval = d
}

// SetCompressionThreshold updates the size above which batches are compressed
func (s *OptimizerService) SetCompressionThreshold(threshold int) {
	if threshold <= 0 {
		return
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.compressionThreshold = threshold
}

// SetCompressionLevel updates the zlib level, clamped to the valid range
func (s *OptimizerService) SetCompressionLevel(level int) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.compressionLevel = codec.ClampLevel(level)
}
