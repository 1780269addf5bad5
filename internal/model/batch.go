package model

import "time"

// MessageBatch groups queued messages destined for one shard. Payload
// compression is decided at creation time; CompressedSize is zero when
// the batch was not compressed.
type MessageBatch struct {
	ID             string           `json:"id"`
	TargetShard    ShardID          `json:"target_shard"`
	Messages       []NetworkMessage `json:"messages,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Priority       MessagePriority  `json:"priority"`
	Compressed     bool             `json:"compressed"`
	OriginalSize   int              `json:"original_size"`
	CompressedSize int              `json:"compressed_size,omitempty"`
	Payload        []byte           `json:"payload,omitempty"` // compressed message set when Compressed is true
}

// CompressionRatio returns original/compressed size, or 0 when the batch
// was not compressed
func (b *MessageBatch) CompressionRatio() float64 {
	if !b.Compressed || b.CompressedSize == 0 {
		return 0
	}
	return float64(b.OriginalSize) / float64(b.CompressedSize)
}

// MessageIDs returns the in-flight marker keys for every message in the batch
func (b *MessageBatch) MessageIDs() []string {
	ids := make([]string, 0, len(b.Messages))
	for i := range b.Messages {
		ids = append(ids, b.Messages[i].ID())
	}
	return ids
}
