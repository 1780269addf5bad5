package routing

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/metrics"
	"github.com/shardmesh/routing-node/internal/model"
)

// ManagerConfig holds routing manager configuration
type ManagerConfig struct {
	Criteria       model.OptimizationCriteria
	UpdateInterval time.Duration
	Clock          clock.Clock
}

// Manager gives callers a periodically refreshed view of the routing
// table without making them manage refresh timing themselves
type Manager struct {
	mu       sync.Mutex
	table    *Table
	provider TopologyProvider

	criteria       model.OptimizationCriteria
	updateInterval time.Duration
	clock          clock.Clock
	lastUpdated    time.Time

	logger *zap.Logger
}

// NewManager creates a routing manager around a fresh table. The first
// route query always triggers a topology refresh.
func NewManager(cfg *ManagerConfig, provider TopologyProvider, m *metrics.Metrics, logger *zap.Logger) *Manager {
	// Defaults are applied to a copy so the caller's config is untouched.
	c := *cfg
	if c.UpdateInterval == 0 {
		c.UpdateInterval = 60 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}

	return &Manager{
		table:          NewTable(m, logger),
		provider:       provider,
		criteria:       c.Criteria,
		updateInterval: c.UpdateInterval,
		clock:          c.Clock,
		// Backdate so the first query forces a refresh
		lastUpdated: c.Clock.Now().Add(-c.UpdateInterval - time.Hour),
		logger:      logger,
	}
}

// OptimalRoute computes the best path from source to destination under
// the manager's criteria, refreshing the table first if it is stale
func (m *Manager) OptimalRoute(source, destination model.ShardID) ([]model.ShardID, error) {
	if err := m.updateIfNeeded(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	criteria := m.criteria
	m.mu.Unlock()

	return m.table.ShortestPath(source, destination, criteria)
}

// updateIfNeeded rebuilds the table from topology when the update
// interval has elapsed since the last refresh
func (m *Manager) updateIfNeeded() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clock.Since(m.lastUpdated) < m.updateInterval {
		return nil
	}

	if err := m.table.UpdateFromTopology(m.provider); err != nil {
		return err
	}
	m.table.Optimize()
	m.lastUpdated = m.clock.Now()

	return nil
}

// ForceUpdate unconditionally refreshes the table from topology and
// prunes dead edges
func (m *Manager) ForceUpdate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.table.UpdateFromTopology(m.provider); err != nil {
		return err
	}
	m.table.Optimize()
	m.lastUpdated = m.clock.Now()

	m.logger.Info("Routing table force-updated")
	return nil
}

// SetOptimizationCriteria changes the cost function used for route
// queries. Cached paths are criteria-scoped, so no flush is needed.
func (m *Manager) SetOptimizationCriteria(criteria model.OptimizationCriteria) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criteria = criteria
}

// SetUpdateInterval changes the refresh interval. It does not itself
// trigger a refresh.
func (m *Manager) SetUpdateInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateInterval = interval
}

// AllConnections returns every edge known to the table
func (m *Manager) AllConnections() []model.ShardConnection {
	return m.table.AllConnections()
}

// ShardConnections returns every edge touching the given shard
func (m *Manager) ShardConnections(shardID model.ShardID) []model.ShardConnection {
	return m.table.ShardConnections(shardID)
}

// Table exposes the underlying routing table for direct edge mutation
func (m *Manager) Table() *Table {
	return m.table
}
