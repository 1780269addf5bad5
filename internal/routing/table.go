package routing

import (
	"container/heap"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/errors"
	"github.com/shardmesh/routing-node/internal/metrics"
	"github.com/shardmesh/routing-node/internal/model"
)

// Table maintains the directed, weighted shard graph and answers
// best-path queries. Any structural change to the edge set clears the
// whole shortest-path cache; a cached path is never served across a
// mutation.
type Table struct {
	mu            sync.RWMutex
	connections   map[model.ConnectionKey]model.ShardConnection
	shortestPaths map[pathKey][]model.ShardID
	lastUpdated   time.Time

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// pathKey caches paths per criteria so queries under one cost function
// never serve a path computed under another
type pathKey struct {
	source      model.ShardID
	destination model.ShardID
	criteria    model.OptimizationCriteria
}

// NewTable creates an empty routing table
func NewTable(m *metrics.Metrics, logger *zap.Logger) *Table {
	return &Table{
		connections:   make(map[model.ConnectionKey]model.ShardConnection),
		shortestPaths: make(map[pathKey][]model.ShardID),
		lastUpdated:   time.Now(),
		metrics:       m,
		logger:        logger,
	}
}

// AddConnection inserts or overwrites the edge for (source, destination)
func (t *Table) AddConnection(conn model.ShardConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connections[conn.Key()] = conn
	t.invalidateLocked()
}

// UpdateConnection applies a partial update to an existing edge
func (t *Table) UpdateConnection(source, destination model.ShardID, update model.ConnectionUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := model.ConnectionKey{Source: source, Destination: destination}
	conn, ok := t.connections[key]
	if !ok {
		return errors.ConnectionNotFound(string(source), string(destination))
	}

	if update.LatencyMs != nil {
		conn.LatencyMs = *update.LatencyMs
	}
	if update.BandwidthBps != nil {
		conn.BandwidthBps = *update.BandwidthBps
	}
	if update.Reliability != nil {
		conn.Reliability = *update.Reliability
	}
	if update.Load != nil {
		conn.Load = *update.Load
	}
	if update.Enabled != nil {
		conn.Enabled = *update.Enabled
	}

	t.connections[key] = conn
	t.invalidateLocked()

	return nil
}

// RemoveConnection deletes the edge for (source, destination)
func (t *Table) RemoveConnection(source, destination model.ShardID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := model.ConnectionKey{Source: source, Destination: destination}
	if _, ok := t.connections[key]; !ok {
		return errors.ConnectionNotFound(string(source), string(destination))
	}

	delete(t.connections, key)
	t.invalidateLocked()

	return nil
}

// GetConnection returns the edge for (source, destination)
func (t *Table) GetConnection(source, destination model.ShardID) (model.ShardConnection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conn, ok := t.connections[model.ConnectionKey{Source: source, Destination: destination}]
	if !ok {
		return model.ShardConnection{}, errors.ConnectionNotFound(string(source), string(destination))
	}
	return conn, nil
}

// AllConnections returns every edge in the table
func (t *Table) AllConnections() []model.ShardConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]model.ShardConnection, 0, len(t.connections))
	for _, conn := range t.connections {
		conns = append(conns, conn)
	}
	return conns
}

// ShardConnections returns every edge where the shard is either endpoint
func (t *Table) ShardConnections(shardID model.ShardID) []model.ShardConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var conns []model.ShardConnection
	for _, conn := range t.connections {
		if conn.Source == shardID || conn.Destination == shardID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// LastUpdated returns the time of the most recent structural change
func (t *Table) LastUpdated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdated
}

// ShortestPath computes the best path from source to destination under
// the given criteria. The returned sequence starts at the hop after
// source and ends with destination; it is empty when source equals
// destination. Fails with NotFound when either shard is unknown or the
// destination is unreachable.
func (t *Table) ShortestPath(source, destination model.ShardID, criteria model.OptimizationCriteria) ([]model.ShardID, error) {
	// Trivial paths never touch the cache, so the hit/miss counters only
	// reflect real route computations.
	if source == destination {
		return []model.ShardID{}, nil
	}

	cacheKey := pathKey{source: source, destination: destination, criteria: criteria}

	t.mu.RLock()
	if path, ok := t.shortestPaths[cacheKey]; ok {
		t.mu.RUnlock()
		if t.metrics != nil {
			t.metrics.RouteCacheHitsTotal.Inc()
		}
		return append([]model.ShardID(nil), path...), nil
	}
	t.mu.RUnlock()

	if t.metrics != nil {
		t.metrics.RouteCacheMissesTotal.Inc()
	}

	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.dijkstraLocked(source, destination, criteria)
	if err != nil {
		return nil, err
	}

	t.shortestPaths[cacheKey] = path

	if t.metrics != nil {
		t.metrics.RouteComputeDuration.Observe(time.Since(start).Seconds())
	}

	return append([]model.ShardID(nil), path...), nil
}

// dijkstraLocked runs Dijkstra over the enabled edges. Caller holds the lock.
func (t *Table) dijkstraLocked(source, destination model.ShardID, criteria model.OptimizationCriteria) ([]model.ShardID, error) {
	// The shard set is derived from the edge endpoints
	allShards := make(map[model.ShardID]struct{})
	for key := range t.connections {
		allShards[key.Source] = struct{}{}
		allShards[key.Destination] = struct{}{}
	}

	if _, ok := allShards[source]; !ok {
		return nil, errors.ShardNotFound(string(source))
	}
	if _, ok := allShards[destination]; !ok {
		return nil, errors.ShardNotFound(string(destination))
	}

	dist := make(map[model.ShardID]float64, len(allShards))
	prev := make(map[model.ShardID]model.ShardID, len(allShards))
	for shard := range allShards {
		dist[shard] = math.Inf(1)
	}
	dist[source] = 0

	pq := &costQueue{}
	heap.Init(pq)
	heap.Push(pq, costItem{shard: source, cost: 0})

	for pq.Len() > 0 {
		current := heap.Pop(pq).(costItem)
		if current.shard == destination {
			break
		}

		// Stale queue entry, a cheaper path was already settled
		if current.cost > dist[current.shard] {
			continue
		}

		for key, conn := range t.connections {
			if key.Source != current.shard || !conn.Enabled {
				continue
			}

			nextCost := current.cost + conn.Cost(criteria)
			if nextCost < dist[key.Destination] {
				dist[key.Destination] = nextCost
				prev[key.Destination] = current.shard
				heap.Push(pq, costItem{shard: key.Destination, cost: nextCost})
			}
		}
	}

	if _, ok := prev[destination]; !ok {
		return nil, errors.NoRoute(string(source), string(destination))
	}

	// Walk the predecessor links back from the destination and reverse
	var path []model.ShardID
	for current := destination; current != source; current = prev[current] {
		path = append(path, current)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path, nil
}

// Optimize drops edges that are disabled or have zero reliability
func (t *Table) Optimize() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, conn := range t.connections {
		if !conn.Enabled || conn.Reliability <= 0 {
			delete(t.connections, key)
		}
	}
	t.invalidateLocked()
}

// Default edge values for newly discovered connections
const (
	defaultLatencyMs    = 100
	defaultBandwidthBps = 1_000_000
	defaultReliability  = 0.9
	defaultLoad         = 0.5
)

// UpdateFromTopology rebuilds and merges edges from live shard facts.
// Unknown link attributes keep their previous value, or the defaults for
// edges seen for the first time.
func (t *Table) UpdateFromTopology(provider TopologyProvider) error {
	shards, err := provider.AllShards()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, shard := range shards {
		for _, peer := range shard.Peers {
			peerShardID := peer.ShardID
			if peerShardID == "" {
				resolved, ok := provider.ShardIDByPeer(peer.PeerID)
				if !ok {
					continue
				}
				peerShardID = resolved
			}

			key := model.ConnectionKey{Source: shard.ID, Destination: peerShardID}
			conn, ok := t.connections[key]
			if !ok {
				conn = model.ShardConnection{
					Source:       shard.ID,
					Destination:  peerShardID,
					LatencyMs:    defaultLatencyMs,
					BandwidthBps: defaultBandwidthBps,
					Reliability:  defaultReliability,
					Load:         defaultLoad,
					Enabled:      true,
				}
			}

			if peer.LatencyMs != nil {
				conn.LatencyMs = *peer.LatencyMs
			}
			if peer.BandwidthBps != nil {
				conn.BandwidthBps = *peer.BandwidthBps
			}
			if peer.Reliability != nil {
				conn.Reliability = *peer.Reliability
			}
			if peer.Load != nil {
				conn.Load = *peer.Load
			}
			conn.Enabled = peer.Connected

			t.connections[key] = conn
		}
	}

	t.invalidateLocked()

	if t.metrics != nil {
		t.metrics.TopologyRefreshTotal.Inc()
	}
	t.logger.Debug("Routing table rebuilt from topology",
		zap.Int("shards", len(shards)),
		zap.Int("edges", len(t.connections)))

	return nil
}

// invalidateLocked clears the path cache after a structural change.
// Caller holds the lock.
func (t *Table) invalidateLocked() {
	t.shortestPaths = make(map[pathKey][]model.ShardID)
	t.lastUpdated = time.Now()
	if t.metrics != nil {
		t.metrics.RoutingTableEdges.Set(float64(len(t.connections)))
	}
}

// costItem is one candidate in the Dijkstra priority queue
type costItem struct {
	shard model.ShardID
	cost  float64
}

// costQueue is a min-heap over accumulated path cost. Equal costs pop in
// heap order; no tie-break is defined.
type costQueue []costItem

func (q costQueue) Len() int            { return len(q) }
func (q costQueue) Less(i, j int) bool  { return q[i].cost < q[j].cost }
func (q costQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *costQueue) Push(x interface{}) { *q = append(*q, x.(costItem)) }
func (q *costQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
