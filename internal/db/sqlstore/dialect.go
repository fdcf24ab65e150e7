package sqlstore

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect SQL 方言：postgres（生产）/ sqlite（本地与测试）
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 解析驱动名
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// DriverName database/sql 驱动名
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// rebind 语句统一用 $n 书写；sqlite 改写为编号参数 ?n
func (d Dialect) rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?$1")
}

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open 打开数据库。sqlite 使用 WAL + busy_timeout，且只保留一个连接。
func Open(d Dialect, dsn string, pool PoolConfig) (*sql.DB, error) {
	if d == DialectSQLite && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}

	if d == DialectSQLite {
		db.SetMaxOpenConns(1)
		return db, nil
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

func (d Dialect) schema() string {
	if d == DialectSQLite {
		return `
	CREATE TABLE IF NOT EXISTS kb_document (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		kb_id         TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'PENDING'
		              CHECK (status IN ('PENDING', 'PROCESSING', 'READY', 'ERROR')),
		chunk_count   INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		updated_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kb_document_scope ON kb_document(tenant_id, kb_id);

	CREATE TABLE IF NOT EXISTS kb_chunk (
		doc_id         TEXT NOT NULL REFERENCES kb_document(id) ON DELETE CASCADE,
		tenant_id      TEXT NOT NULL,
		kb_id          TEXT NOT NULL,
		seq_no         INTEGER NOT NULL,
		content        TEXT NOT NULL,
		content_sha256 TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		PRIMARY KEY (doc_id, seq_no)
	);
	`
	}
	return `
	CREATE TABLE IF NOT EXISTS kb_document (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		kb_id         TEXT NOT NULL,
		status        VARCHAR(16) NOT NULL DEFAULT 'PENDING'
		              CHECK (status IN ('PENDING', 'PROCESSING', 'READY', 'ERROR')),
		chunk_count   INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_kb_document_scope ON kb_document(tenant_id, kb_id);

	CREATE TABLE IF NOT EXISTS kb_chunk (
		doc_id         TEXT NOT NULL REFERENCES kb_document(id) ON DELETE CASCADE,
		tenant_id      TEXT NOT NULL,
		kb_id          TEXT NOT NULL,
		seq_no         INTEGER NOT NULL,
		content        TEXT NOT NULL,
		content_sha256 CHAR(64) NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (doc_id, seq_no)
	);
	`
}
