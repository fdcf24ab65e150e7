package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReadyDoc(t *testing.T, store *memStore, docID string, text string) []Chunk {
	t.Helper()
	ctx := context.Background()
	chunker, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	chunks := chunker.Chunk(text)
	require.NoError(t, store.EnsureExists(ctx, docID, "tenant-001", "kb-001"))
	require.NoError(t, store.UpsertChunks(ctx, docID, "tenant-001", "kb-001", chunks))
	return chunks
}

func TestEmbedDocumentUpsertsEveryChunk(t *testing.T) {
	store := newMemStore()
	chunks := seedReadyDoc(t, store, "doc-1", strings.Repeat("q", 2000))
	index := &stubIndex{}
	embedder := &stubEmbedder{dims: 8}
	idx := NewIndexer(store, index, embedder, &Config{BackfillPoolSize: 2})

	n, err := idx.EmbedDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, len(chunks), n)
	assert.Equal(t, 8, index.collections["tenant-001__kb-001"])

	points := index.points["tenant-001__kb-001"]
	require.Len(t, points, len(chunks))
	for i, p := range points {
		assert.Equal(t, PointID("doc-1", i), p.ID)
		assert.Equal(t, i, p.Payload["seq_no"])
		assert.Equal(t, "doc-1", p.Payload["doc_id"])
		assert.Equal(t, "tenant-001", p.Payload["tenant_id"])
		assert.Equal(t, "kb-001", p.Payload["kb_id"])
		assert.Equal(t, chunks[i].Content, p.Payload["content"])
		assert.Len(t, p.Vector, 8)
	}
}

func TestEmbedDocumentPreconditions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	idx := NewIndexer(store, &stubIndex{}, &stubEmbedder{dims: 4}, nil)

	_, err := idx.EmbedDocument(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	require.NoError(t, store.EnsureExists(ctx, "pending", "t", "kb"))
	_, err = idx.EmbedDocument(ctx, "pending")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "expected READY")

	require.NoError(t, store.EnsureExists(ctx, "empty", "t", "kb"))
	require.NoError(t, store.MarkReady(ctx, "empty", 0))
	_, err = idx.EmbedDocument(ctx, "empty")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "no chunks")
}

func TestEmbedDocumentStopsOnEmbedError(t *testing.T) {
	store := newMemStore()
	seedReadyDoc(t, store, "doc-err", strings.Repeat("z", 3000))
	index := &stubIndex{}
	idx := NewIndexer(store, index, &stubEmbedder{dims: 4, err: NewUpstreamError(ServiceEmbedding, 401, "denied")}, nil)

	_, err := idx.EmbedDocument(context.Background(), "doc-err")
	require.Error(t, err)
	assert.Equal(t, CodeAzureUnauthorized, Classify(err))
	assert.Empty(t, index.points)
}

func TestEmbedDocumentCancelledContext(t *testing.T) {
	store := newMemStore()
	chunks := seedReadyDoc(t, store, "doc-cancel", strings.Repeat("c", 1000))
	require.Len(t, chunks, 2)
	index := &stubIndex{}
	embedder := &stubEmbedder{dims: 4}
	idx := NewIndexer(store, index, embedder, &Config{BackfillPoolSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := idx.EmbedDocument(ctx, "doc-cancel")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, index.points)
	assert.Zero(t, embedder.calls.Load())
}

func TestPointIDDeterministic(t *testing.T) {
	assert.Equal(t, PointID("doc", 1), PointID("doc", 1))
	assert.NotEqual(t, PointID("doc", 1), PointID("doc", 2))
	assert.Len(t, PointID("doc", 1), 36)
}

type memCache struct {
	data map[string][]float32
	sets int
}

func (c *memCache) Get(_ context.Context, text string) ([]float32, bool) {
	v, ok := c.data[text]
	return v, ok
}

func (c *memCache) Set(_ context.Context, text string, v []float32, _ time.Duration) {
	c.sets++
	c.data[text] = v
}

func TestCachingEmbedder(t *testing.T) {
	inner := &stubEmbedder{dims: 3}
	cache := &memCache{data: map[string][]float32{}}
	e := NewCachingEmbedder(inner, cache, time.Minute)

	v1, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, 1, cache.sets)

	assert.Same(t, inner, NewCachingEmbedder(inner, nil, time.Minute))
	assert.Same(t, inner, NewCachingEmbedder(inner, cache, 0))
}

func TestCachingEmbedderPropagatesErrors(t *testing.T) {
	inner := &stubEmbedder{dims: 3, err: errors.New("down")}
	cache := &memCache{data: map[string][]float32{}}
	_, err := NewCachingEmbedder(inner, cache, time.Minute).Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Zero(t, cache.sets)
}

func TestParserRegistry(t *testing.T) {
	r := NewParserRegistry("text/plain")
	p, err := r.Get("text/plain; charset=utf-8")
	require.NoError(t, err)
	text, err := p.Parse([]byte("  raw bytes \n"))
	require.NoError(t, err)
	assert.Equal(t, "  raw bytes \n", text, "text must not be trimmed")

	_, err = r.Get("application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)

	empty := NewParserRegistry("application/pdf")
	_, err = empty.Get("text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}
