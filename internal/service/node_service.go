package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/routing"
)

// BatchTransport delivers a batch to a shard, addressed by the shard the
// batch should physically go to next, which may be a relay rather than
// the batch's final target.
type BatchTransport interface {
	SendBatchWithRetry(ctx context.Context, via model.ShardID, batch model.MessageBatch) error
}

// NodeService ties the routing layer, the communication optimizer and
// the batch transport together for one shard node. Outbound batches are
// steered through the optimizer's next-hop hint; inbound messages for
// other shards are re-enqueued toward their destination.
type NodeService struct {
	localShard model.ShardID
	routing    *routing.Manager
	optimizer  *OptimizerService
	logger     *zap.Logger
}

// NewNodeService creates the node-level service facade
func NewNodeService(localShard model.ShardID, routingMgr *routing.Manager, optimizer *OptimizerService, logger *zap.Logger) *NodeService {
	return &NodeService{
		localShard: localShard,
		routing:    routingMgr,
		optimizer:  optimizer,
		logger:     logger,
	}
}

// Send queues a message from the local shard to the target shard
func (s *NodeService) Send(target model.ShardID, messageType model.MessageType, data []byte) error {
	return s.optimizer.AddMessage(model.NewNetworkMessage(messageType, s.localShard, target, data))
}

// OptimalRoute returns the best path from the local shard to the
// destination under the current routing criteria
func (s *NodeService) OptimalRoute(destination model.ShardID) ([]model.ShardID, error) {
	return s.routing.OptimalRoute(s.localShard, destination)
}

// Route returns the best path between two arbitrary shards
func (s *NodeService) Route(source, destination model.ShardID) ([]model.ShardID, error) {
	return s.routing.OptimalRoute(source, destination)
}

// DispatchBatch returns the sender callback handed to the optimizer's
// processing loops. Delivery goes to the next-hop relay for the batch's
// target shard.
func (s *NodeService) DispatchBatch(transport BatchTransport) BatchSender {
	return func(batch model.MessageBatch) error {
		via := s.optimizer.NextHop(s.localShard, batch.TargetShard)
		if via != batch.TargetShard {
			s.logger.Debug("Relaying batch",
				zap.String("batch_id", batch.ID),
				zap.String("target_shard", string(batch.TargetShard)),
				zap.String("via", string(via)))
		}
		return transport.SendBatchWithRetry(context.Background(), via, batch)
	}
}

// HandleInbound consumes messages delivered by a peer shard. Messages
// addressed elsewhere are re-enqueued toward their destination; local
// ones are retained in the payload cache for consumers.
func (s *NodeService) HandleInbound(messages []model.NetworkMessage) {
	for i := range messages {
		msg := messages[i]

		if msg.Receiver != s.localShard {
			if err := s.optimizer.AddMessage(msg); err != nil {
				s.logger.Warn("Dropping relayed message",
					zap.String("message_id", msg.ID()),
					zap.String("receiver", string(msg.Receiver)),
					zap.Error(err))
			}
			continue
		}

		s.optimizer.CacheMessage(msg.ID(), msg.Data)
		s.logger.Debug("Message delivered",
			zap.String("message_id", msg.ID()),
			zap.String("type", string(msg.MessageType)),
			zap.String("sender", string(msg.Sender)))
	}
}
