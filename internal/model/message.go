package model

import (
	"fmt"
	"time"
)

// MessageType classifies an inter-shard message
type MessageType string

const (
	MessageTypeConsensus   MessageType = "consensus"
	MessageTypeTransaction MessageType = "transaction"
	MessageTypeBlock       MessageType = "block"
	MessageTypeCrossShard  MessageType = "cross_shard"
	MessageTypeShardInfo   MessageType = "shard_info"
	MessageTypePeerInfo    MessageType = "peer_info"
	MessageTypeHeartbeat   MessageType = "heartbeat"
	MessageTypeDiscovery   MessageType = "discovery"
)

// NetworkMessage is one unit of inter-shard payload
type NetworkMessage struct {
	MessageType MessageType `json:"message_type"`
	Sender      ShardID     `json:"sender"`
	Receiver    ShardID     `json:"receiver"`
	Data        []byte      `json:"data"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewNetworkMessage builds a message stamped with the current time
func NewNetworkMessage(messageType MessageType, sender, receiver ShardID, data []byte) NetworkMessage {
	return NetworkMessage{
		MessageType: messageType,
		Sender:      sender,
		Receiver:    receiver,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

// ID derives the in-flight marker key for this message. Identical resend
// attempts (same sender, same timestamp) collide on purpose so a message
// cannot ride in two batches at once.
func (m *NetworkMessage) ID() string {
	return fmt.Sprintf("%s:%d", m.Sender, m.Timestamp.UnixNano())
}

// MessagePriority orders messages Low < Normal < High < Critical
type MessagePriority uint8

const (
	PriorityLow MessagePriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the metric label for the priority
func (p MessagePriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// PriorityForMessageType maps a message type to its dispatch priority.
// Unlisted types are Normal.
func PriorityForMessageType(t MessageType) MessagePriority {
	switch t {
	case MessageTypeConsensus:
		return PriorityCritical
	case MessageTypeTransaction, MessageTypeBlock, MessageTypeCrossShard:
		return PriorityHigh
	case MessageTypeShardInfo, MessageTypePeerInfo:
		return PriorityNormal
	case MessageTypeHeartbeat, MessageTypeDiscovery:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
