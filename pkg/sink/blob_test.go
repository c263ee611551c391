package sink

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/types"
)

func openBlobSink(t *testing.T) (Sink, blob.Store) {
	t.Helper()
	store := blob.NewMemoryStore()
	s, err := NewBlobFactory(store, nil, "archive")(sinkEndpoint(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Begin(context.Background()))
	return s, store
}

func TestBlobSinkCommitWritesManifest(t *testing.T) {
	s, store := openBlobSink(t)
	ctx := context.Background()

	batch := &types.Batch{Records: []types.NormalizedRecord{
		{EntityType: "issue", LogicalID: "TAP-1"},
		{EntityType: "issue", LogicalID: "TAP-2"},
	}}
	result, err := s.WriteBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Upserts)

	_, err = s.WriteBatch(ctx, &types.Batch{Records: []types.NormalizedRecord{
		{EntityType: "person", LogicalID: "alice"},
	}})
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, map[string]float64{"records": 3}))

	objects, err := store.List(ctx, "archive/ep-1")
	require.NoError(t, err)
	require.Len(t, objects, 3)

	var manifestKey string
	files := 0
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".snapshot.json") {
			manifestKey = obj.Key
		} else {
			assert.True(t, strings.HasSuffix(obj.Key, ".jsonl"))
			files++
		}
	}
	require.NotEmpty(t, manifestKey)
	assert.Equal(t, 2, files)

	data, err := store.Get(ctx, manifestKey)
	require.NoError(t, err)
	var m struct {
		RunID   string   `json:"runId"`
		Files   []string `json:"files"`
		Records int      `json:"records"`
	}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotEmpty(t, m.RunID)
	assert.Len(t, m.Files, 2)
	assert.Equal(t, 3, m.Records)
}

func TestBlobSinkAbortDeletesWritten(t *testing.T) {
	s, store := openBlobSink(t)
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, &types.Batch{Records: []types.NormalizedRecord{
		{EntityType: "issue", LogicalID: "TAP-1"},
	}})
	require.NoError(t, err)
	_, err = s.WriteBatch(ctx, &types.Batch{Records: []types.NormalizedRecord{
		{EntityType: "issue", LogicalID: "TAP-2"},
	}})
	require.NoError(t, err)

	require.NoError(t, s.Abort(ctx, assert.AnError))

	objects, err := store.List(ctx, "archive")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestBlobSinkWriteBeforeBegin(t *testing.T) {
	s, err := NewBlobFactory(blob.NewMemoryStore(), nil, "archive")(sinkEndpoint(), nil)
	require.NoError(t, err)

	_, err = s.WriteBatch(context.Background(), &types.Batch{})
	require.Error(t, err)
}

func TestBlobFactoryRequiresStore(t *testing.T) {
	_, err := NewBlobFactory(nil, nil, "archive")(sinkEndpoint(), nil)
	require.Error(t, err)
}

func TestBlobFactoryRoutesProviders(t *testing.T) {
	hot := blob.NewMemoryStore()
	cold := blob.NewMemoryStore()
	factory := NewBlobFactory(hot, map[string]blob.Store{"cold": cold}, "archive")
	ctx := context.Background()

	cfg := &types.UnitConfig{Policy: map[string]any{"stagingProviderId": "cold"}}
	s, err := factory(sinkEndpoint(), cfg)
	require.NoError(t, err)
	require.NoError(t, s.Begin(ctx))
	_, err = s.WriteBatch(ctx, &types.Batch{Records: []types.NormalizedRecord{
		{EntityType: "issue", LogicalID: "TAP-9"},
	}})
	require.NoError(t, err)

	hotObjects, err := hot.List(ctx, "")
	require.NoError(t, err)
	coldObjects, err := cold.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, hotObjects)
	assert.Len(t, coldObjects, 1)

	_, err = factory(sinkEndpoint(), &types.UnitConfig{Policy: map[string]any{"stagingProviderId": "missing"}})
	require.Error(t, err)
}

func TestRegistryOpensFreshSinks(t *testing.T) {
	r := NewRegistry()
	store := blob.NewMemoryStore()
	require.NoError(t, r.Register(BlobSinkID, NewBlobFactory(store, nil, "archive")))

	a, err := r.Open(BlobSinkID, sinkEndpoint(), nil)
	require.NoError(t, err)
	b, err := r.Open(BlobSinkID, sinkEndpoint(), nil)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = r.Open("warehouse", sinkEndpoint(), nil)
	require.Error(t, err)
}
