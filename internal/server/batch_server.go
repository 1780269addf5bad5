package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/errors"
	"github.com/shardmesh/routing-node/internal/metrics"
	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/util/codec"
)

// MessageHandler consumes the messages of a delivered batch
type MessageHandler func(messages []model.NetworkMessage)

// RouteProvider answers path queries between shards
type RouteProvider interface {
	Route(source, destination model.ShardID) ([]model.ShardID, error)
}

// BatchServer accepts message batches from peer shards over HTTP,
// unpacking compressed payloads before handing the messages to the
// registered handler.
type BatchServer struct {
	httpServer *http.Server
	handler    MessageHandler
	routes     RouteProvider
	localShard model.ShardID
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// BatchServerConfig holds inbound batch transport configuration
type BatchServerConfig struct {
	Port       int
	LocalShard model.ShardID
}

// NewBatchServer creates the inbound batch transport server
func NewBatchServer(cfg *BatchServerConfig, handler MessageHandler, routes RouteProvider, m *metrics.Metrics, logger *zap.Logger) *BatchServer {
	mux := http.NewServeMux()

	bs := &BatchServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler:    handler,
		routes:     routes,
		localShard: cfg.LocalShard,
		metrics:    m,
		logger:     logger,
	}

	mux.HandleFunc("/v1/batches", bs.batchHandler)
	mux.HandleFunc("/v1/routes", bs.routeHandler)

	return bs
}

// Start starts the batch server
func (s *BatchServer) Start() error {
	s.logger.Info("Starting batch server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Batch server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the batch server
func (s *BatchServer) Stop() error {
	s.logger.Info("Stopping batch server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("batch server shutdown failed: %w", err)
	}

	return nil
}

// batchHandler handles POST /v1/batches
func (s *BatchServer) batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var batch model.MessageBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		s.logger.Warn("Rejecting malformed batch", zap.Error(err))
		http.Error(w, "malformed batch", http.StatusBadRequest)
		return
	}

	messages, err := s.unpack(&batch)
	if err != nil {
		s.logger.Error("Failed to unpack batch",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	if s.metrics != nil {
		s.metrics.BatchesReceivedTotal.Inc()
	}

	s.logger.Debug("Batch received",
		zap.String("batch_id", batch.ID),
		zap.String("priority", batch.Priority.String()),
		zap.Int("messages", len(messages)),
		zap.Bool("compressed", batch.Compressed))

	if s.handler != nil {
		s.handler(messages)
	}

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"batch_id":%q,"messages":%d}`, batch.ID, len(messages))
}

// routeHandler handles GET /v1/routes?source=...&destination=...
// Source defaults to the local shard.
func (s *BatchServer) routeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.routes == nil {
		http.Error(w, "route queries not available", http.StatusNotImplemented)
		return
	}

	source := model.ShardID(r.URL.Query().Get("source"))
	if source == "" {
		source = s.localShard
	}
	destination := model.ShardID(r.URL.Query().Get("destination"))
	if destination == "" {
		http.Error(w, "destination is required", http.StatusBadRequest)
		return
	}

	path, err := s.routes.Route(source, destination)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.IsNotFound(err) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"source":      source,
		"destination": destination,
		"path":        path,
	}); err != nil {
		s.logger.Error("Failed to encode route response", zap.Error(err))
	}
}

// unpack restores the message list, decompressing the payload when the
// batch was compressed
func (s *BatchServer) unpack(batch *model.MessageBatch) ([]model.NetworkMessage, error) {
	if !batch.Compressed {
		return batch.Messages, nil
	}
	if len(batch.Payload) == 0 {
		return nil, errors.DeserializationFailed("compressed batch has no payload", nil)
	}
	return codec.Decompress(batch.Payload)
}

func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeDecompressionFailed, errors.ErrCodeDeserializationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
