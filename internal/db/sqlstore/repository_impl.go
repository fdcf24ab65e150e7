package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

// Repository kb_document / kb_chunk 存储，实现 rag.DocumentStore。
// 所有状态变更都是单条语句或单个事务；不做重试。
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ rag.DocumentStore = (*Repository)(nil)

// NewRepository 创建存储
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureTables 确保 kb_document / kb_chunk 存在
func (r *Repository) EnsureTables(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.schema()); err != nil {
		return fmt.Errorf("ensure kb tables: %w", err)
	}
	return nil
}

// Ping 检查连接
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r *Repository) EnsureExists(ctx context.Context, docID, tenantID, kbID string) error {
	_, err := r.exec(ctx,
		`INSERT INTO kb_document (id, tenant_id, kb_id, status, chunk_count, error_message, updated_at)
		 VALUES ($1, $2, $3, $4, 0, NULL, $5)
		 ON CONFLICT (id) DO NOTHING`,
		docID, tenantID, kbID, string(rag.StatusPending), r.now())
	if err != nil {
		return fmt.Errorf("ensure document %s: %w", docID, err)
	}
	return nil
}

// MarkProcessing 单条条件 UPDATE 作为互斥：只有一个并发调用能拿到返回行。
func (r *Repository) MarkProcessing(ctx context.Context, docID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`UPDATE kb_document
		 SET status = $2, error_message = NULL, updated_at = $5
		 WHERE id = $1 AND status IN ($3, $4)
		 RETURNING id`),
		docID, string(rag.StatusProcessing), string(rag.StatusPending), string(rag.StatusError), r.now(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark processing %s: %w", docID, err)
	}
	return true, nil
}

func (r *Repository) MarkReady(ctx context.Context, docID string, chunkCount int) error {
	_, err := r.exec(ctx,
		`UPDATE kb_document
		 SET status = $2, chunk_count = $3, error_message = NULL, updated_at = $4
		 WHERE id = $1`,
		docID, string(rag.StatusReady), chunkCount, r.now())
	if err != nil {
		return fmt.Errorf("mark ready %s: %w", docID, err)
	}
	return nil
}

func (r *Repository) MarkError(ctx context.Context, docID, message string) error {
	_, err := r.exec(ctx,
		`UPDATE kb_document
		 SET status = $2, error_message = $3, updated_at = $4
		 WHERE id = $1`,
		docID, string(rag.StatusError), message, r.now())
	if err != nil {
		return fmt.Errorf("mark error %s: %w", docID, err)
	}
	return nil
}

func (r *Repository) ResetToPending(ctx context.Context, docID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM kb_chunk WHERE doc_id = $1`), docID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		_, err := tx.ExecContext(ctx, r.dialect.rebind(
			`UPDATE kb_document
			 SET status = $2, chunk_count = 0, error_message = NULL, updated_at = $3
			 WHERE id = $1`),
			docID, string(rag.StatusPending), r.now())
		if err != nil {
			return fmt.Errorf("reset document: %w", err)
		}
		return nil
	})
}

// UpsertChunks 冲突忽略写入分块并置 READY，事务提交即为入库提交点。
func (r *Repository) UpsertChunks(ctx context.Context, docID, tenantID, kbID string, chunks []rag.Chunk) error {
	now := r.now()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(
			`INSERT INTO kb_chunk (doc_id, tenant_id, kb_id, seq_no, content, content_sha256, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (doc_id, seq_no) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, docID, tenantID, kbID, c.SeqNo, c.Content, c.ContentDigest, now); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.SeqNo, err)
			}
		}

		_, err = tx.ExecContext(ctx, r.dialect.rebind(
			`UPDATE kb_document
			 SET status = $2, chunk_count = $3, error_message = NULL, updated_at = $4
			 WHERE id = $1`),
			docID, string(rag.StatusReady), len(chunks), now)
		if err != nil {
			return fmt.Errorf("mark ready: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert chunks %s: %w", docID, err)
	}
	applog.Debug("[Store] Chunks committed", "doc_id", docID, "chunk_count", len(chunks))
	return nil
}

// FetchDocument 不存在时返回 nil, nil
func (r *Repository) FetchDocument(ctx context.Context, docID string) (*rag.Document, error) {
	doc := &rag.Document{}
	var (
		status    string
		updatedAt any
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT id, tenant_id, kb_id, status, chunk_count, COALESCE(error_message, ''), updated_at
		 FROM kb_document WHERE id = $1`), docID,
	).Scan(&doc.ID, &doc.TenantID, &doc.KBID, &status, &doc.ChunkCount, &doc.ErrorMessage, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", docID, err)
	}
	doc.Status = rag.DocumentStatus(status)
	doc.UpdatedAt = scanTime(updatedAt)
	return doc, nil
}

func (r *Repository) FetchChunks(ctx context.Context, docID string) ([]rag.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(
		`SELECT seq_no, content, content_sha256
		 FROM kb_chunk WHERE doc_id = $1
		 ORDER BY seq_no ASC`), docID)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks %s: %w", docID, err)
	}
	defer rows.Close()

	chunks := make([]rag.Chunk, 0)
	for rows.Next() {
		var c rag.Chunk
		if err := rows.Scan(&c.SeqNo, &c.Content, &c.ContentDigest); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *Repository) HasChunks(ctx context.Context, docID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT 1 FROM kb_chunk WHERE doc_id = $1 LIMIT 1`), docID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has chunks %s: %w", docID, err)
	}
	return true, nil
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// scanTime 兼容 lib/pq（time.Time）与 sqlite（TEXT）两种返回
func scanTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}
	}
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
