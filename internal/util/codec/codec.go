package codec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/shardmesh/routing-node/internal/errors"
	"github.com/shardmesh/routing-node/internal/model"
)

// MinCompressionLevel and MaxCompressionLevel bound the accepted zlib levels
const (
	MinCompressionLevel = 0
	MaxCompressionLevel = 9
)

// ClampLevel restricts a compression level to the valid zlib range
func ClampLevel(level int) int {
	if level < MinCompressionLevel {
		return MinCompressionLevel
	}
	if level > MaxCompressionLevel {
		return MaxCompressionLevel
	}
	return level
}

// EncodeMessages serializes a message set for transport
func EncodeMessages(messages []model.NetworkMessage) ([]byte, error) {
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, errors.InternalError("failed to encode message set", err)
	}
	return data, nil
}

// DecodeMessages deserializes a message set
func DecodeMessages(data []byte) ([]model.NetworkMessage, error) {
	var messages []model.NetworkMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, errors.DeserializationFailed("failed to decode message set", err)
	}
	return messages, nil
}

// Compress serializes and zlib-compresses a message set at the given level
func Compress(messages []model.NetworkMessage, level int) ([]byte, error) {
	serialized, err := EncodeMessages(messages)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, ClampLevel(level))
	if err != nil {
		return nil, errors.InternalError("failed to create zlib writer", err)
	}
	if _, err := w.Write(serialized); err != nil {
		w.Close()
		return nil, errors.InternalError("failed to compress message set", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.InternalError("failed to flush compressed message set", err)
	}

	return buf.Bytes(), nil
}

// Decompress inflates a compressed batch payload and decodes the message set
func Decompress(data []byte) ([]model.NetworkMessage, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.DecompressionFailed("failed to open compressed batch payload", err)
	}
	defer r.Close()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.DecompressionFailed("failed to decompress batch payload", err)
	}

	return DecodeMessages(decompressed)
}
