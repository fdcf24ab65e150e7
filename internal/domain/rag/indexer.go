package rag

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	applog "ragworker/internal/platform/log"
)

// pointNamespace 点 ID 命名空间，保证同一 (doc_id, seq_no) 重复写入覆盖同一个点
var pointNamespace = uuid.MustParse("6f1c2a5e-3b7d-5e8f-9a0b-1c2d3e4f5a6b")

const upsertBatchSize = 64

// PointID 由 doc_id:seq_no 派生的确定性点 ID
func PointID(docID string, seqNo int) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID+":"+strconv.Itoa(seqNo))).String()
}

// Indexer 将 READY 文档的分块向量化写入向量库（embed-doc）
type Indexer struct {
	store    DocumentStore
	index    VectorIndex
	embedder Embedder
	poolSize int
}

// NewIndexer 创建回填器
func NewIndexer(store DocumentStore, index VectorIndex, embedder Embedder, cfg *Config) *Indexer {
	size := 1
	if cfg != nil && cfg.BackfillPoolSize > 0 {
		size = cfg.BackfillPoolSize
	}
	return &Indexer{
		store:    store,
		index:    index,
		embedder: embedder,
		poolSize: size,
	}
}

// EmbedDocument 向量化文档的全部分块并写入 tenant__kb 集合，返回写入数量。
func (idx *Indexer) EmbedDocument(ctx context.Context, docID string) (int, error) {
	start := time.Now()

	doc, err := idx.store.FetchDocument(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("fetch document: %w", err)
	}
	if doc == nil {
		return 0, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if doc.TenantID == "" || doc.KBID == "" {
		return 0, fmt.Errorf("%w: document %s missing tenant/kb metadata", ErrInvalidRequest, docID)
	}
	if doc.Status != StatusReady {
		return 0, fmt.Errorf("%w: document %s status is %s, expected READY", ErrInvalidRequest, docID, doc.Status)
	}

	chunks, err := idx.store.FetchChunks(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("fetch chunks: %w", err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no chunks found for document %s", ErrInvalidRequest, docID)
	}

	collection := Namespace(doc.TenantID, doc.KBID)
	if err := idx.index.EnsureCollection(ctx, collection, idx.embedder.Dims()); err != nil {
		return 0, fmt.Errorf("ensure collection %s: %w", collection, err)
	}

	points, err := idx.embedChunks(ctx, doc, chunks)
	if err != nil {
		return 0, err
	}

	for i := 0; i < len(points); i += upsertBatchSize {
		end := i + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := idx.index.Upsert(ctx, collection, points[i:end]); err != nil {
			return i, fmt.Errorf("upsert points %d-%d: %w", i, end, err)
		}
	}

	applog.Info("[Indexer] Document embedded",
		"doc_id", docID,
		"collection", collection,
		"chunks", len(points),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return len(points), nil
}

func (idx *Indexer) embedChunks(ctx context.Context, doc *Document, chunks []Chunk) ([]VectorPoint, error) {
	pool, err := ants.NewPool(idx.poolSize)
	if err != nil {
		return nil, fmt.Errorf("create embed pool: %w", err)
	}
	defer pool.Release()

	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	points := make([]VectorPoint, len(chunks))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i := range chunks {
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			ch := chunks[i]
			vec, err := idx.embedder.Embed(ctx, ch.Content)
			if err != nil {
				fail(fmt.Errorf("embed chunk %d: %w", ch.SeqNo, err))
				return
			}
			points[i] = VectorPoint{
				ID:     PointID(doc.ID, ch.SeqNo),
				Vector: vec,
				Payload: map[string]any{
					"tenant_id": doc.TenantID,
					"kb_id":     doc.KBID,
					"doc_id":    doc.ID,
					"seq_no":    ch.SeqNo,
					"content":   ch.Content,
				},
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("submit embed task: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	// 父 ctx 取消后跳过的任务会留下零值点位，不能写入向量库
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return points, nil
}
