package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ragworker/internal/adapter/provider/llm/openai"
	"ragworker/internal/db/qdrant"
	redisdb "ragworker/internal/db/redis"
	"ragworker/internal/db/sqlstore"
	"ragworker/internal/domain/rag"
	"ragworker/internal/mq"
	"ragworker/internal/mq/kafka"
	"ragworker/internal/mq/redisstream"
	"ragworker/internal/platform/config"
	applog "ragworker/internal/platform/log"
	"ragworker/internal/storage/minio"
)

// deps 单次命令的依赖装配；Close 逆序释放
type deps struct {
	cfg     *config.AppConfig
	rdb     *redis.Client
	closers []func() error
}

// setup 加载配置并初始化日志
func setup() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	return &deps{cfg: cfg}, nil
}

func (d *deps) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			applog.Warn("close failed", "error", err)
		}
	}
	d.closers = nil
	applog.Sync()
}

// signalContext SIGINT / SIGTERM 取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (d *deps) store(ctx context.Context) (*sqlstore.Repository, error) {
	dialect, err := sqlstore.ParseDialect(d.cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(dialect, d.cfg.Database.URL, sqlstore.PoolConfig{
		MaxOpenConns:    d.cfg.Database.MaxOpenConns,
		MaxIdleConns:    d.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(d.cfg.Database.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	d.onClose(db.Close)

	repo := sqlstore.NewRepository(db, dialect)
	if err := repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := repo.EnsureTables(ctx); err != nil {
		return nil, err
	}
	applog.Info("✅ Document store ready", "driver", string(dialect))
	return repo, nil
}

func (d *deps) redis(ctx context.Context) (*redis.Client, error) {
	if d.rdb != nil {
		return d.rdb, nil
	}
	rdb, err := redisdb.NewClient(ctx, d.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	d.rdb = rdb
	d.onClose(rdb.Close)
	return rdb, nil
}

func (d *deps) llmConfig() openai.Config {
	az := d.cfg.Azure
	return openai.Config{
		APIKey:            az.APIKey,
		EmbeddingURL:      az.EmbeddingURL(),
		ChatURL:           az.ChatURL(),
		ChatDeployment:    az.ChatDeployment,
		Dims:              d.cfg.RAG.VectorSize,
		MaxOutputTokens:   az.MaxOutputTokens,
		EmbeddingTimeout:  time.Duration(az.EmbeddingTimeoutSeconds) * time.Second,
		ChatTimeout:       time.Duration(az.ChatTimeoutSeconds) * time.Second,
		RequestsPerSecond: az.RequestsPerSecond,
		MaxAttempts:       d.cfg.Retry.ClientMaxAttempts,
		BaseDelay:         time.Duration(d.cfg.Retry.ClientBaseDelayMillis) * time.Millisecond,
	}
}

// embedder 启用缓存且 Redis 可用时包一层查询向量缓存
func (d *deps) embedder(ctx context.Context, cached bool) (rag.Embedder, error) {
	client, err := openai.NewEmbeddingClient(d.llmConfig())
	if err != nil {
		return nil, err
	}
	if !cached || !d.cfg.RAG.HasCache() {
		return client, nil
	}
	if d.cfg.Redis.URL == "" {
		applog.Warn("⚠️  RAG_EMBEDDING_CACHE_TTL set without REDIS_URL, cache disabled")
		return client, nil
	}
	rdb, err := d.redis(ctx)
	if err != nil {
		applog.Warn("⚠️  Redis unavailable, embedding cache disabled", "error", err)
		return client, nil
	}
	applog.Info("✅ Embedding cache enabled", "ttl", d.cfg.RAG.CacheTTL())
	cache := redisdb.NewEmbeddingCache(rdb, d.cfg.Azure.EmbeddingDeployment)
	return rag.NewCachingEmbedder(client, cache, d.cfg.RAG.CacheTTL()), nil
}

func (d *deps) vectorIndex() *qdrant.Client {
	return qdrant.NewClient(qdrant.Config{
		URL:      d.cfg.Qdrant.URL,
		Distance: d.cfg.Qdrant.Distance,
		Timeout:  time.Duration(d.cfg.Qdrant.TimeoutSeconds) * time.Second,
	})
}

func (d *deps) retriever(ctx context.Context) (*rag.Retriever, error) {
	emb, err := d.embedder(ctx, true)
	if err != nil {
		return nil, err
	}
	return rag.NewRetriever(d.vectorIndex(), emb, &d.cfg.RAG), nil
}

func (d *deps) answerer(ctx context.Context) (*rag.Answerer, error) {
	retriever, err := d.retriever(ctx)
	if err != nil {
		return nil, err
	}
	chat, err := openai.NewChatClient(d.llmConfig())
	if err != nil {
		return nil, err
	}
	return rag.NewAnswerer(retriever, chat), nil
}

func (d *deps) objectStore() (*minio.Store, error) {
	st := d.cfg.Storage
	return minio.New(minio.Config{
		Endpoint:  st.Endpoint,
		AccessKey: st.AccessKey,
		SecretKey: st.SecretKey,
		Bucket:    st.Bucket,
		Region:    st.Region,
		UseSSL:    st.UseSSL,
	})
}

func (d *deps) consumer(ctx context.Context, group string, topics ...string) (mq.Consumer, error) {
	var (
		c   mq.Consumer
		err error
	)
	switch d.cfg.Broker.Driver {
	case "redis":
		rdb, rerr := d.redis(ctx)
		if rerr != nil {
			return nil, rerr
		}
		c, err = redisstream.NewConsumer(ctx, rdb, redisstream.ConsumerConfig{
			Group:        group,
			Consumer:     d.cfg.Broker.ConsumerName,
			Topics:       topics,
			PollTimeout:  d.cfg.PollTimeout(),
			ClaimMinIdle: d.cfg.ClaimMinIdle(),
		})
	default:
		c, err = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:     kafka.SplitBrokers(d.cfg.Broker.Brokers),
			GroupID:     group,
			Topics:      topics,
			PollTimeout: d.cfg.PollTimeout(),
		})
	}
	if err != nil {
		return nil, err
	}
	d.onClose(c.Close)
	applog.Info("✅ Consumer ready", "driver", d.cfg.Broker.Driver, "group", group, "topics", topics)
	return c, nil
}

func (d *deps) producer(ctx context.Context) (mq.Producer, error) {
	var (
		p   mq.Producer
		err error
	)
	switch d.cfg.Broker.Driver {
	case "redis":
		rdb, rerr := d.redis(ctx)
		if rerr != nil {
			return nil, rerr
		}
		p = redisstream.NewProducer(rdb, d.cfg.Broker.StreamMaxLen)
	default:
		p, err = kafka.NewProducer(kafka.SplitBrokers(d.cfg.Broker.Brokers))
	}
	if err != nil {
		return nil, err
	}
	d.onClose(p.Close)
	return p, nil
}
