package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shardmesh/routing-node/internal/model"
	"github.com/shardmesh/routing-node/internal/util/codec"
)

func testBatch(t *testing.T, compressed bool) model.MessageBatch {
	t.Helper()

	messages := []model.NetworkMessage{
		{
			MessageType: model.MessageTypeTransaction,
			Sender:      "shard-a",
			Receiver:    "shard-b",
			Data:        []byte("hello"),
			Timestamp:   time.Unix(0, 1),
		},
		{
			MessageType: model.MessageTypeHeartbeat,
			Sender:      "shard-a",
			Receiver:    "shard-b",
			Data:        []byte("ping"),
			Timestamp:   time.Unix(0, 2),
		},
	}

	batch := model.MessageBatch{
		ID:           "batch-1",
		TargetShard:  "shard-b",
		CreatedAt:    time.Now(),
		Priority:     model.PriorityHigh,
		OriginalSize: 9,
	}

	if compressed {
		payload, err := codec.Compress(messages, 6)
		require.NoError(t, err)
		batch.Compressed = true
		batch.Payload = payload
		batch.CompressedSize = len(payload)
	} else {
		batch.Messages = messages
	}

	return batch
}

func newTestBatchServer(handler MessageHandler, routes RouteProvider) *BatchServer {
	return NewBatchServer(
		&BatchServerConfig{Port: 0, LocalShard: "shard-b"},
		handler, routes, nil, zap.NewNop(),
	)
}

func postBatch(t *testing.T, srv *BatchServer, batch model.MessageBatch) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(batch)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.batchHandler(rec, req)
	return rec
}

func TestBatchServer_AcceptsPlainBatch(t *testing.T) {
	var received []model.NetworkMessage
	srv := newTestBatchServer(func(messages []model.NetworkMessage) {
		received = messages
	}, nil)

	rec := postBatch(t, srv, testBatch(t, false))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, received, 2)
	assert.Equal(t, []byte("hello"), received[0].Data)
}

func TestBatchServer_UnpacksCompressedBatch(t *testing.T) {
	var received []model.NetworkMessage
	srv := newTestBatchServer(func(messages []model.NetworkMessage) {
		received = messages
	}, nil)

	rec := postBatch(t, srv, testBatch(t, true))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, received, 2)
	assert.Equal(t, []byte("hello"), received[0].Data)
	assert.Equal(t, []byte("ping"), received[1].Data)
}

func TestBatchServer_RejectsCorruptPayload(t *testing.T) {
	srv := newTestBatchServer(func([]model.NetworkMessage) {
		t.Fatal("handler must not run for corrupt batches")
	}, nil)

	batch := testBatch(t, true)
	batch.Payload = []byte("corrupt")
	rec := postBatch(t, srv, batch)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchServer_RejectsCompressedWithoutPayload(t *testing.T) {
	srv := newTestBatchServer(func([]model.NetworkMessage) {
		t.Fatal("handler must not run")
	}, nil)

	batch := testBatch(t, true)
	batch.Payload = nil
	rec := postBatch(t, srv, batch)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchServer_RejectsMalformedJSON(t *testing.T) {
	srv := newTestBatchServer(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	srv.batchHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchServer_RejectsWrongMethod(t *testing.T) {
	srv := newTestBatchServer(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/batches", nil)
	rec := httptest.NewRecorder()
	srv.batchHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type stubRoutes struct {
	path []model.ShardID
	err  error
}

func (s *stubRoutes) Route(source, destination model.ShardID) ([]model.ShardID, error) {
	return s.path, s.err
}

func TestBatchServer_RouteQuery(t *testing.T) {
	srv := newTestBatchServer(nil, &stubRoutes{path: []model.ShardID{"shard-c", "shard-d"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/routes?destination=shard-d", nil)
	rec := httptest.NewRecorder()
	srv.routeHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Source      model.ShardID   `json:"source"`
		Destination model.ShardID   `json:"destination"`
		Path        []model.ShardID `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ShardID("shard-b"), resp.Source, "source defaults to the local shard")
	assert.Equal(t, []model.ShardID{"shard-c", "shard-d"}, resp.Path)
}

func TestBatchServer_RouteQueryRequiresDestination(t *testing.T) {
	srv := newTestBatchServer(nil, &stubRoutes{})

	req := httptest.NewRequest(http.MethodGet, "/v1/routes", nil)
	rec := httptest.NewRecorder()
	srv.routeHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
