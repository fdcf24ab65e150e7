package rag

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// memStore 内存版 DocumentStore，语义与 SQL 实现一致
type memStore struct {
	mu     sync.Mutex
	docs   map[string]*Document
	chunks map[string]map[int]Chunk

	upsertCalls atomic.Int32
	failUpsert  error
}

func newMemStore() *memStore {
	return &memStore{
		docs:   make(map[string]*Document),
		chunks: make(map[string]map[int]Chunk),
	}
}

func (s *memStore) EnsureExists(_ context.Context, docID, tenantID, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		s.docs[docID] = &Document{ID: docID, TenantID: tenantID, KBID: kbID, Status: StatusPending, UpdatedAt: time.Now()}
	}
	return nil
}

func (s *memStore) MarkProcessing(_ context.Context, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok || (d.Status != StatusPending && d.Status != StatusError) {
		return false, nil
	}
	d.Status = StatusProcessing
	return true, nil
}

func (s *memStore) MarkReady(_ context.Context, docID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[docID]; ok {
		d.Status, d.ChunkCount, d.ErrorMessage = StatusReady, n, ""
	}
	return nil
}

func (s *memStore) MarkError(_ context.Context, docID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[docID]; ok {
		d.Status, d.ErrorMessage = StatusError, msg
	}
	return nil
}

func (s *memStore) ResetToPending(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, docID)
	if d, ok := s.docs[docID]; ok {
		d.Status, d.ChunkCount = StatusPending, 0
	}
	return nil
}

func (s *memStore) UpsertChunks(_ context.Context, docID, _, _ string, chunks []Chunk) error {
	s.upsertCalls.Add(1)
	if s.failUpsert != nil {
		return s.failUpsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chunks[docID]
	if !ok {
		m = make(map[int]Chunk)
		s.chunks[docID] = m
	}
	for _, c := range chunks {
		if _, exists := m[c.SeqNo]; !exists {
			m[c.SeqNo] = c
		}
	}
	if d, ok := s.docs[docID]; ok {
		d.Status, d.ChunkCount, d.ErrorMessage = StatusReady, len(chunks), ""
	}
	return nil
}

func (s *memStore) FetchDocument(_ context.Context, docID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) FetchChunks(_ context.Context, docID string) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, 0, len(s.chunks[docID]))
	for _, c := range s.chunks[docID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNo < out[j].SeqNo })
	return out, nil
}

func (s *memStore) HasChunks(_ context.Context, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[docID]) > 0, nil
}

func (s *memStore) doc(docID string) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[docID]
}

// memObjects 内存对象存储
type memObjects struct {
	data map[string][]byte
	err  error
}

func (o *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	if o.err != nil {
		return nil, o.err
	}
	b, ok := o.data[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return b, nil
}

func (o *memObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	if o.data == nil {
		o.data = make(map[string][]byte)
	}
	o.data[key] = data
	return nil
}

// stubEmbedder 固定维度的向量
type stubEmbedder struct {
	dims  int
	calls atomic.Int32
	err   error
}

func (e *stubEmbedder) Dims() int { return e.dims }

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, e.dims)
	for i := range v {
		v[i] = float32(len(text)+i) / 10
	}
	return v, nil
}

// stubIndex 记录调用的向量库
type stubIndex struct {
	mu          sync.Mutex
	hits        []SearchHit
	searchErr   error
	collections map[string]int
	points      map[string][]VectorPoint
	searched    []string
	lastTopK    int
}

func (x *stubIndex) EnsureCollection(_ context.Context, collection string, dims int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.collections == nil {
		x.collections = make(map[string]int)
	}
	x.collections[collection] = dims
	return nil
}

func (x *stubIndex) Upsert(_ context.Context, collection string, points []VectorPoint) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.points == nil {
		x.points = make(map[string][]VectorPoint)
	}
	x.points[collection] = append(x.points[collection], points...)
	return nil
}

func (x *stubIndex) Search(_ context.Context, collection string, _ []float32, topK int) ([]SearchHit, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.searched = append(x.searched, collection)
	x.lastTopK = topK
	if x.searchErr != nil {
		return nil, x.searchErr
	}
	if len(x.hits) > topK {
		return x.hits[:topK], nil
	}
	return x.hits, nil
}

// stubChat 记录收到的消息
type stubChat struct {
	calls    int
	messages []ChatMessage
	reply    string
	err      error
}

func (c *stubChat) Complete(_ context.Context, messages []ChatMessage) (string, error) {
	c.calls++
	c.messages = messages
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}
