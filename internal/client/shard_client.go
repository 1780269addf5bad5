package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/errors"
	"github.com/shardmesh/routing-node/internal/model"
)

// ShardClient delivers message batches to peer shards over HTTP
type ShardClient struct {
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	endpoints map[model.ShardID]string

	maxRetries    int
	retryInterval time.Duration
}

// ShardClientConfig holds batch transport client configuration
type ShardClientConfig struct {
	Endpoints      map[model.ShardID]string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
}

// NewShardClient creates a new batch transport client
func NewShardClient(cfg *ShardClientConfig, logger *zap.Logger) *ShardClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}

	endpoints := make(map[model.ShardID]string, len(cfg.Endpoints))
	for id, addr := range cfg.Endpoints {
		endpoints[id] = addr
	}

	return &ShardClient{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger:        logger,
		endpoints:     endpoints,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
	}
}

// SetEndpoint registers or updates the address for a shard
func (c *ShardClient) SetEndpoint(shardID model.ShardID, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[shardID] = addr
}

// Endpoint returns the registered address for a shard
func (c *ShardClient) Endpoint(shardID model.ShardID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.endpoints[shardID]
	return addr, ok
}

// SendBatch posts one batch to the given shard, which may be a relay
// rather than the batch's final target. Compressed batches ship only the
// payload; the message list is stripped from the wire form.
func (c *ShardClient) SendBatch(ctx context.Context, via model.ShardID, batch model.MessageBatch) error {
	addr, ok := c.Endpoint(via)
	if !ok {
		return errors.ShardNotFound(string(via))
	}

	wire := batch
	if wire.Compressed {
		wire.Messages = nil
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return errors.InternalError("failed to marshal batch", err)
	}

	url := fmt.Sprintf("http://%s/v1/batches", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.InternalError("failed to build batch request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send batch to %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("shard %s rejected batch: %s: %s",
			batch.TargetShard, resp.Status, string(msg))
	}

	return nil
}

// SendBatchWithRetry attempts delivery with fixed-interval retries
func (c *ShardClient) SendBatchWithRetry(ctx context.Context, via model.ShardID, batch model.MessageBatch) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.SendBatch(ctx, via, batch)
		if err == nil {
			return nil
		}
		if errors.IsNotFound(err) {
			return err
		}

		lastErr = err
		c.logger.Warn("Failed to deliver batch, retrying...",
			zap.String("batch_id", batch.ID),
			zap.String("target_shard", string(batch.TargetShard)),
			zap.String("via", string(via)),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.maxRetries),
			zap.Error(err))

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during batch delivery: %w", ctx.Err())
			case <-time.After(c.retryInterval):
				// Continue to next attempt
			}
		}
	}

	return fmt.Errorf("failed to deliver batch after %d attempts: %w", c.maxRetries, lastErr)
}
