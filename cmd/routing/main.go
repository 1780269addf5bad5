package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shardmesh/routing-node/internal/client"
	"github.com/shardmesh/routing-node/internal/config"
	"github.com/shardmesh/routing-node/internal/metrics"
	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/routing"
	"github.com/shardmesh/routing-node/internal/server"
	"github.com/shardmesh/routing-node/internal/service"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	localShard := model.ShardID(cfg.Server.ShardID)

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("shard_id", cfg.Server.ShardID),
		zap.String("criteria", cfg.Routing.Criteria))

	m := metrics.NewMetrics(cfg.Server.NodeID)

	// Topology: gossip-backed when enabled, otherwise a static view
	// seeded from the configured transport endpoints
	var topology routing.TopologyProvider
	var gossipSvc *service.GossipService

	if cfg.Gossip.Enabled {
		gossipSvc, err = service.NewGossipService(
			&service.GossipConfig{
				BindPort:       cfg.Gossip.BindPort,
				SeedNodes:      cfg.Gossip.SeedNodes,
				GossipInterval: cfg.Gossip.GossipInterval,
				ProbeTimeout:   cfg.Gossip.ProbeTimeout,
				ProbeInterval:  cfg.Gossip.ProbeInterval,
			},
			cfg.Server.NodeID,
			localShard,
			m,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize gossip service", zap.Error(err))
		}
		defer gossipSvc.Shutdown()
		topology = gossipSvc
		logger.Info("Gossip topology initialized", zap.Int("bind_port", cfg.Gossip.BindPort))
	} else {
		topology = staticTopologyFromConfig(cfg, localShard)
		logger.Info("Static topology initialized",
			zap.Int("shards", len(cfg.Transport.ShardEndpoints)+1))
	}

	// Routing manager
	criteria, err := model.ParseCriteria(cfg.Routing.Criteria)
	if err != nil {
		logger.Fatal("Invalid routing criteria", zap.Error(err))
	}

	routingMgr := routing.NewManager(
		&routing.ManagerConfig{
			Criteria:       criteria,
			UpdateInterval: cfg.Routing.UpdateInterval,
		},
		topology,
		m,
		logger,
	)

	// Batch transport client
	endpoints := make(map[model.ShardID]string, len(cfg.Transport.ShardEndpoints))
	for id, addr := range cfg.Transport.ShardEndpoints {
		endpoints[model.ShardID(id)] = addr
	}

	shardClient := client.NewShardClient(
		&client.ShardClientConfig{
			Endpoints:      endpoints,
			RequestTimeout: cfg.Transport.RequestTimeout,
			MaxRetries:     cfg.Transport.MaxRetries,
			RetryInterval:  cfg.Transport.RetryInterval,
		},
		logger,
	)

	// Communication optimizer
	optimizer, err := service.NewOptimizerService(
		&service.OptimizerConfig{
			BatchSize:            cfg.Optimizer.BatchSize,
			MaxBatches:           cfg.Optimizer.MaxBatches,
			MaxWait:              cfg.Optimizer.MaxWait,
			QueueCapacity:        cfg.Optimizer.QueueCapacity,
			CacheSize:            cfg.Optimizer.CacheSize,
			CompressionThreshold: cfg.Optimizer.CompressionThreshold,
			CompressionLevel:     cfg.Optimizer.CompressionLevel,
			OptimizationInterval: cfg.Optimizer.OptimizationInterval,
			DispatchWorkers:      cfg.Optimizer.DispatchWorkers,
		},
		topology,
		m,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize communication optimizer", zap.Error(err))
	}

	nodeSvc := service.NewNodeService(localShard, routingMgr, optimizer, logger)

	if err := optimizer.StartProcessing(nodeSvc.DispatchBatch(shardClient)); err != nil {
		logger.Fatal("Failed to start communication optimizer", zap.Error(err))
	}

	// Inbound batch transport
	batchServer := server.NewBatchServer(
		&server.BatchServerConfig{
			Port:       cfg.Transport.Port,
			LocalShard: localShard,
		},
		nodeSvc.HandleInbound,
		nodeSvc,
		m,
		logger,
	)
	if err := batchServer.Start(); err != nil {
		logger.Fatal("Failed to start batch server", zap.Error(err))
	}

	// Metrics and health endpoints
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(
			&server.MetricsServerConfig{
				Port:          cfg.Metrics.Port,
				Path:          cfg.Metrics.Path,
				QueueCapacity: cfg.Optimizer.QueueCapacity,
			},
			m,
			optimizer,
			logger,
		)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	if gossipSvc != nil {
		gossipSvc.SetLocalStatus(model.ShardStatusActive)
	}

	logger.Info("Routing node started",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("shard_id", cfg.Server.ShardID),
		zap.Int("transport_port", cfg.Transport.Port))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if gossipSvc != nil {
		gossipSvc.SetLocalStatus(model.ShardStatusLeaving)
	}

	optimizer.Stop()

	if err := batchServer.Stop(); err != nil {
		logger.Error("Batch server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Routing node stopped")
}

// staticTopologyFromConfig builds a fixed topology where every shard
// named in the transport endpoints is active and connected to the local
// shard
func staticTopologyFromConfig(cfg *config.Config, localShard model.ShardID) *routing.StaticTopology {
	topo := routing.NewStaticTopology()

	topo.SetShard(model.ShardInfo{
		ID:     localShard,
		Status: model.ShardStatusActive,
	})

	for id := range cfg.Transport.ShardEndpoints {
		shardID := model.ShardID(id)
		topo.SetShard(model.ShardInfo{
			ID:     shardID,
			Status: model.ShardStatusActive,
		})
		topo.SetLink(localShard, shardID, true)
	}

	return topo
}

// initLogger initializes the zap logger from logging config
func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
	}
	return zapCfg.Build()
}
