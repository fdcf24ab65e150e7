package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragworker/internal/domain/rag"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

type fakeQdrant struct {
	mu          sync.Mutex
	requests    []recorded
	collections map[string]bool
	searchBody  string
	status      int
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body map[string]any
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &body))
		}
		f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, body: body})

		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"status":{"error":"boom"}}`))
			return
		}

		name := r.PathValue("name")
		switch {
		case r.Method == http.MethodGet:
			if !f.collections[name] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"result":{"status":"green"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/"+name:
			f.collections[name] = true
			_, _ = w.Write([]byte(`{"result":true}`))
		case !f.collections[name]:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection doesn't exist"}}`))
		case r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			_, _ = w.Write([]byte(f.searchBody))
		}
	})
}

func newFake(t *testing.T) (*fakeQdrant, *Client) {
	t.Helper()
	f := &fakeQdrant{collections: map[string]bool{}}
	mux := http.NewServeMux()
	mux.Handle("/collections/{name}", f.handler(t))
	mux.Handle("/collections/{name}/points", f.handler(t))
	mux.Handle("/collections/{name}/points/search", f.handler(t))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, NewClient(Config{URL: srv.URL + "/"})
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	f, c := newFake(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureCollection(ctx, "tenant-001__kb-001", 3072))
	require.Len(t, f.requests, 2)
	assert.Equal(t, http.MethodGet, f.requests[0].method)
	assert.Equal(t, http.MethodPut, f.requests[1].method)
	vectors := f.requests[1].body["vectors"].(map[string]any)
	assert.EqualValues(t, 3072, vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])

	require.NoError(t, c.EnsureCollection(ctx, "tenant-001__kb-001", 3072))
	assert.Len(t, f.requests, 3, "existing collection is only checked")
}

func TestUpsertSendsPoints(t *testing.T) {
	f, c := newFake(t)
	f.collections["c"] = true

	err := c.Upsert(context.Background(), "c", []rag.VectorPoint{
		{ID: rag.PointID("doc-1", 0), Vector: []float32{0.1, 0.2}, Payload: map[string]any{"doc_id": "doc-1", "seq_no": 0}},
	})
	require.NoError(t, err)
	require.Len(t, f.requests, 1)
	assert.Equal(t, "/collections/c/points", f.requests[0].path)
	points := f.requests[0].body["points"].([]any)
	require.Len(t, points, 1)
	p := points[0].(map[string]any)
	assert.Equal(t, rag.PointID("doc-1", 0), p["id"])
	assert.Equal(t, "doc-1", p["payload"].(map[string]any)["doc_id"])

	require.NoError(t, c.Upsert(context.Background(), "c", nil))
	assert.Len(t, f.requests, 1, "empty upsert makes no request")
}

func TestSearchParsesHits(t *testing.T) {
	f, c := newFake(t)
	f.collections["tenant-001__kb-001"] = true
	f.searchBody = `{"result":[
		{"id":"a","score":0.91,"payload":{"doc_id":"doc-1","seq_no":0,"content":"Refunds within 30 days","tenant_id":"tenant-001"}},
		{"id":"b","score":0.42,"payload":{"doc_id":"doc-2","seq_no":5,"content":"Shipping"}}
	],"status":"ok"}`

	hits, err := c.Search(context.Background(), "tenant-001__kb-001", []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []rag.SearchHit{
		{Score: 0.91, DocID: "doc-1", SeqNo: 0, Content: "Refunds within 30 days"},
		{Score: 0.42, DocID: "doc-2", SeqNo: 5, Content: "Shipping"},
	}, hits)

	req := f.requests[0].body
	assert.EqualValues(t, 2, req["limit"])
	assert.Equal(t, true, req["with_payload"])
}

func TestSearchMissingCollection(t *testing.T) {
	_, c := newFake(t)
	_, err := c.Search(context.Background(), "tenant-x__kb-y", []float32{1}, 5)
	assert.ErrorIs(t, err, rag.ErrCollectionNotFound)
	assert.Equal(t, rag.CodeCollectionNotFound, rag.Classify(err))
}

func TestSearchMissingPayloadField(t *testing.T) {
	f, c := newFake(t)
	f.collections["c"] = true
	f.searchBody = `{"result":[{"score":0.5,"payload":{"doc_id":"d","content":"x"}}]}`

	_, err := c.Search(context.Background(), "c", []float32{1}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrMalformedResponse)
	assert.Equal(t, rag.CodeQdrantError, rag.Classify(err))
}

func TestServerErrorIsQdrantError(t *testing.T) {
	f, c := newFake(t)
	f.status = http.StatusInternalServerError

	_, err := c.Search(context.Background(), "c", []float32{1}, 5)
	require.Error(t, err)
	assert.Equal(t, rag.CodeQdrantError, rag.Classify(err))

	err = c.EnsureCollection(context.Background(), "c", 4)
	assert.Equal(t, rag.CodeQdrantError, rag.Classify(err))
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Config{URL: srv.URL})

	_, err := c.Search(context.Background(), "c", []float32{1}, 5)
	require.Error(t, err)
	assert.Equal(t, rag.CodeQdrantError, rag.Classify(err))
}
