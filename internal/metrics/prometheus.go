package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the routing node
type Metrics struct {
	// Message queue metrics
	MessagesQueuedTotal  prometheus.Counter
	MessagesDroppedTotal prometheus.Counter
	QueueDepth           prometheus.Gauge
	SendingCount         prometheus.Gauge

	// Batch metrics
	BatchesCreatedTotal   prometheus.Counter
	BatchesReceivedTotal  prometheus.Counter
	BatchesSentTotal      prometheus.Counter
	BatchesFailedTotal    prometheus.Counter
	BatchSize             prometheus.Histogram
	BatchProcessingTime   prometheus.Histogram
	BatchCompressionRatio prometheus.Histogram
	BatchPriority         *prometheus.CounterVec

	// Routing metrics
	RouteCacheHitsTotal   prometheus.Counter
	RouteCacheMissesTotal prometheus.Counter
	RouteComputeDuration  prometheus.Histogram
	RoutingTableEdges     prometheus.Gauge
	NextHopTableSize      prometheus.Gauge
	TopologyRefreshTotal  prometheus.Counter

	// Gossip metrics
	GossipMembersTotal   prometheus.Gauge
	GossipMembersHealthy prometheus.Gauge

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		MessagesQueuedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "messages_queued_total",
			Help:        "Total number of messages enqueued for batching",
			ConstLabels: labels,
		}),
		MessagesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "messages_dropped_total",
			Help:        "Total number of messages rejected because a destination queue was full",
			ConstLabels: labels,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "queue_depth",
			Help:        "Current number of messages queued across all destination shards",
			ConstLabels: labels,
		}),
		SendingCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "messages_in_flight",
			Help:        "Current number of messages selected into batches awaiting dispatch",
			ConstLabels: labels,
		}),
		BatchesCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batches_created_total",
			Help:        "Total number of message batches assembled",
			ConstLabels: labels,
		}),
		BatchesReceivedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batches_received_total",
			Help:        "Total number of batches accepted from peer shards",
			ConstLabels: labels,
		}),
		BatchesSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batches_sent_total",
			Help:        "Total number of batches successfully delivered by the sender",
			ConstLabels: labels,
		}),
		BatchesFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batches_failed_total",
			Help:        "Total number of batches whose sender invocation failed",
			ConstLabels: labels,
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batch_size_messages",
			Help:        "Histogram of messages per dispatched batch",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BatchProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batch_processing_seconds",
			Help:        "Histogram of sender invocation durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		BatchCompressionRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batch_compression_ratio",
			Help:        "Histogram of original/compressed payload size ratios",
			ConstLabels: labels,
			Buckets:     []float64{0.5, 1, 1.5, 2, 3, 5, 10, 20},
		}),
		BatchPriority: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "comms",
			Name:        "batch_priority_total",
			Help:        "Batches created by aggregate priority",
			ConstLabels: labels,
		}, []string{"priority"}),
		RouteCacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "routing",
			Name:        "path_cache_hits_total",
			Help:        "Total number of shortest-path cache hits",
			ConstLabels: labels,
		}),
		RouteCacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "routing",
			Name:        "path_cache_misses_total",
			Help:        "Total number of shortest-path cache misses",
			ConstLabels: labels,
		}),
		RouteComputeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "shardmesh",
			Subsystem:   "routing",
			Name:        "path_compute_seconds",
			Help:        "Histogram of shortest-path computation durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		RoutingTableEdges: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "routing",
			Name:        "table_edges",
			Help:        "Current number of directed edges in the routing table",
			ConstLabels: labels,
		}),
		NextHopTableSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "routing",
			Name:        "next_hop_table_size",
			Help:        "Current number of source shards in the next-hop table",
			ConstLabels: labels,
		}),
		TopologyRefreshTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "shardmesh",
			Subsystem:   "routing",
			Name:        "topology_refresh_total",
			Help:        "Total number of routing table rebuilds from topology",
			ConstLabels: labels,
		}),
		GossipMembersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "gossip",
			Name:        "members_total",
			Help:        "Current number of members in the gossip cluster",
			ConstLabels: labels,
		}),
		GossipMembersHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "gossip",
			Name:        "members_healthy",
			Help:        "Current number of members reporting an active shard",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current heap allocation in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "shardmesh",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// UpdateSystemStats updates system-level gauges
func (m *Metrics) UpdateSystemStats(heapBytes int64, goroutines int) {
	m.MemoryUsageBytes.Set(float64(heapBytes))
	m.GoroutinesTotal.Set(float64(goroutines))
}
