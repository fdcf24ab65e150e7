package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ragworker/internal/domain/rag"
)

// AppConfig 服务进程统一配置。
// 加载顺序：默认值 -> APP_CONFIG_FILE(JSON) -> 环境变量 -> normalize -> validate。
type AppConfig struct {
	LogLevel  string         `json:"log_level"`
	LogFormat string         `json:"log_format"`
	Server    ServerConfig   `json:"server"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Broker    BrokerConfig   `json:"broker"`
	Storage   StorageConfig  `json:"storage"`
	Qdrant    QdrantConfig   `json:"qdrant"`
	Azure     AzureConfig    `json:"azure"`
	RAG       rag.Config     `json:"rag"`
	Retry     RetryConfig    `json:"retry"`
	Auth      AuthConfig     `json:"auth"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	// Driver postgres | sqlite
	Driver                 string `json:"driver"`
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// TopicConfig 主题名（Redis Streams 下即 stream 名）
type TopicConfig struct {
	Ingest        string `json:"ingest"`
	SearchRequest string `json:"search_request"`
	AnswerRequest string `json:"answer_request"`
	SearchResult  string `json:"search_result"`
	AnswerResult  string `json:"answer_result"`
	Failure       string `json:"failure"`
}

type BrokerConfig struct {
	// Driver kafka | redis
	Driver            string      `json:"driver"`
	Brokers           string      `json:"brokers"`
	IngestGroup       string      `json:"ingest_group"`
	WorkerGroup       string      `json:"worker_group"`
	ConsumerName      string      `json:"consumer_name"`
	PollTimeoutMillis int         `json:"poll_timeout_millis"`
	// StreamMaxLen Redis Streams 近似裁剪长度，0 不裁剪
	StreamMaxLen int64 `json:"stream_max_len"`
	// ClaimMinIdleMillis 其它消费者的待确认条目空闲超过该值即被接管，0 关闭
	ClaimMinIdleMillis int         `json:"claim_min_idle_millis"`
	Topics             TopicConfig `json:"topics"`
}

type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

type QdrantConfig struct {
	URL            string `json:"url"`
	Distance       string `json:"distance"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type AzureConfig struct {
	Endpoint             string `json:"endpoint"`
	APIKey               string `json:"api_key"`
	APIVersion           string `json:"api_version"`
	EmbeddingDeployment  string `json:"embedding_deployment"`
	ChatDeployment       string `json:"chat_deployment"`
	ChatAPIVersion       string `json:"chat_api_version"`
	ChatEndpointOverride string `json:"chat_endpoint"`

	RequestsPerSecond       float64 `json:"requests_per_second"`
	EmbeddingTimeoutSeconds int     `json:"embedding_timeout_seconds"`
	ChatTimeoutSeconds      int     `json:"chat_timeout_seconds"`
	MaxOutputTokens         int     `json:"max_output_tokens"`
}

type RetryConfig struct {
	ClientMaxAttempts     int `json:"client_max_attempts"`
	ClientBaseDelayMillis int `json:"client_base_delay_millis"`
	WorkerMaxAttempts     int `json:"worker_max_attempts"`
	WorkerUnitDelayMillis int `json:"worker_unit_delay_millis"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// Default 返回默认配置
func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8081,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
		},
		Database: DatabaseConfig{
			Driver:                 "postgres",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Broker: BrokerConfig{
			Driver:             "kafka",
			Brokers:            "redpanda:9092",
			IngestGroup:        "rag-worker",
			WorkerGroup:        "rag-core-worker",
			PollTimeoutMillis:  1000,
			StreamMaxLen:       100000,
			ClaimMinIdleMillis: 300000,
			Topics: TopicConfig{
				Ingest:        "doc_ingest",
				SearchRequest: "rag_search_request",
				AnswerRequest: "rag_answer_request",
				SearchResult:  "rag_search_result",
				AnswerResult:  "rag_answer_result",
				Failure:       "rag_failed",
			},
		},
		Storage: StorageConfig{
			Endpoint: "minio:9000",
			Bucket:   "rag-docs",
		},
		Qdrant: QdrantConfig{
			URL:            "http://qdrant:6333",
			Distance:       "Cosine",
			TimeoutSeconds: 30,
		},
		Azure: AzureConfig{
			EmbeddingTimeoutSeconds: 30,
			ChatTimeoutSeconds:      45,
			MaxOutputTokens:         512,
		},
		RAG: *ragCfg,
		Retry: RetryConfig{
			ClientMaxAttempts:     3,
			ClientBaseDelayMillis: 1000,
			WorkerMaxAttempts:     3,
			WorkerUnitDelayMillis: 500,
		},
	}
}

// Load 从 .env / 配置文件 / 环境变量加载配置
func Load() (*AppConfig, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_DRIVER", &c.Database.Driver)
	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("MQ_DRIVER", &c.Broker.Driver)
	applyString("KAFKA_BROKERS", &c.Broker.Brokers)
	applyString("KAFKA_INGEST_GROUP", &c.Broker.IngestGroup)
	applyString("KAFKA_WORKER_GROUP", &c.Broker.WorkerGroup)
	applyString("MQ_CONSUMER_NAME", &c.Broker.ConsumerName)
	applyInt("MQ_POLL_TIMEOUT_MS", &c.Broker.PollTimeoutMillis)
	applyInt64("MQ_STREAM_MAXLEN", &c.Broker.StreamMaxLen)
	applyInt("MQ_CLAIM_MIN_IDLE_MS", &c.Broker.ClaimMinIdleMillis)
	applyString("TOPIC_DOC_INGEST", &c.Broker.Topics.Ingest)
	applyString("TOPIC_SEARCH_REQUEST", &c.Broker.Topics.SearchRequest)
	applyString("TOPIC_ANSWER_REQUEST", &c.Broker.Topics.AnswerRequest)
	applyString("TOPIC_SEARCH_RESULT", &c.Broker.Topics.SearchResult)
	applyString("TOPIC_ANSWER_RESULT", &c.Broker.Topics.AnswerResult)
	applyString("TOPIC_FAILED", &c.Broker.Topics.Failure)

	applyString("MINIO_ENDPOINT", &c.Storage.Endpoint)
	applyString("MINIO_ROOT_USER", &c.Storage.AccessKey)
	applyString("MINIO_ROOT_PASSWORD", &c.Storage.SecretKey)
	applyString("MINIO_BUCKET", &c.Storage.Bucket)
	applyString("MINIO_REGION", &c.Storage.Region)
	applyBool("MINIO_USE_SSL", &c.Storage.UseSSL)

	applyString("QDRANT_URL", &c.Qdrant.URL)
	applyString("QDRANT_DISTANCE", &c.Qdrant.Distance)
	applyInt("QDRANT_TIMEOUT", &c.Qdrant.TimeoutSeconds)

	applyString("AZURE_OPENAI_ENDPOINT", &c.Azure.Endpoint)
	applyString("AZURE_OPENAI_API_KEY", &c.Azure.APIKey)
	applyString("AZURE_OPENAI_API_VERSION", &c.Azure.APIVersion)
	applyString("AZURE_OPENAI_EMBEDDING_DEPLOYMENT", &c.Azure.EmbeddingDeployment)
	applyString("AZURE_OPENAI_CHAT_DEPLOYMENT", &c.Azure.ChatDeployment)
	applyString("AZURE_OPENAI_CHAT_API_VERSION", &c.Azure.ChatAPIVersion)
	applyString("AZURE_OPENAI_CHAT_ENDPOINT", &c.Azure.ChatEndpointOverride)
	applyFloat64("AZURE_OPENAI_RPS", &c.Azure.RequestsPerSecond)
	applyInt("AZURE_OPENAI_EMBEDDING_TIMEOUT", &c.Azure.EmbeddingTimeoutSeconds)
	applyInt("AZURE_OPENAI_CHAT_TIMEOUT", &c.Azure.ChatTimeoutSeconds)
	applyInt("AZURE_OPENAI_MAX_OUTPUT_TOKENS", &c.Azure.MaxOutputTokens)

	applyInt("RAG_CHUNK_SIZE", &c.RAG.ChunkSize)
	applyInt("RAG_CHUNK_OVERLAP", &c.RAG.ChunkOverlap)
	applyInt("RAG_DEFAULT_TOP_K", &c.RAG.DefaultTopK)
	applyInt("RAG_VECTOR_SIZE", &c.RAG.VectorSize)
	applyInt("RAG_EMBEDDING_CACHE_TTL", &c.RAG.EmbeddingCacheTTL)
	applyInt("RAG_BACKFILL_POOL_SIZE", &c.RAG.BackfillPoolSize)

	applyInt("RETRY_CLIENT_MAX_ATTEMPTS", &c.Retry.ClientMaxAttempts)
	applyInt("RETRY_CLIENT_BASE_DELAY_MS", &c.Retry.ClientBaseDelayMillis)
	applyInt("RETRY_WORKER_MAX_ATTEMPTS", &c.Retry.WorkerMaxAttempts)
	applyInt("RETRY_WORKER_UNIT_DELAY_MS", &c.Retry.WorkerUnitDelayMillis)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)
}

func (c *AppConfig) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	// 未给出 DATABASE_URL 时按 libpq 环境变量拼连接串
	if c.Database.URL == "" && c.Database.Driver == "postgres" {
		c.Database.URL = pgConnInfo()
	}

	c.Broker.Driver = strings.ToLower(strings.TrimSpace(c.Broker.Driver))
	if c.Broker.ConsumerName == "" {
		if host, err := os.Hostname(); err == nil {
			c.Broker.ConsumerName = host
		}
	}
	if c.Azure.ChatAPIVersion == "" {
		c.Azure.ChatAPIVersion = c.Azure.APIVersion
	}
	if c.RAG.VectorSize <= 0 {
		c.RAG.VectorSize = 3072
	}
	if c.RAG.DefaultTopK <= 0 {
		c.RAG.DefaultTopK = 5
	}
	if len(c.RAG.ContentTypes) == 0 {
		c.RAG.ContentTypes = []string{"text/plain"}
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.Database.Driver {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported", c.Database.Driver)
	}
	switch c.Broker.Driver {
	case "kafka":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("REDIS_URL is required when MQ_DRIVER=redis")
		}
	default:
		return fmt.Errorf("MQ_DRIVER %q is not supported", c.Broker.Driver)
	}
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	if c.Retry.ClientMaxAttempts <= 0 || c.Retry.WorkerMaxAttempts <= 0 {
		return fmt.Errorf("retry attempts must be > 0")
	}
	return nil
}

// Addr HTTP 监听地址
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PollTimeout 消费轮询间隔
func (c *AppConfig) PollTimeout() time.Duration {
	return time.Duration(c.Broker.PollTimeoutMillis) * time.Millisecond
}

// ClaimMinIdle Redis Streams 接管空闲待确认条目的阈值
func (c *AppConfig) ClaimMinIdle() time.Duration {
	return time.Duration(c.Broker.ClaimMinIdleMillis) * time.Millisecond
}

// EmbeddingURL 拼出 embeddings 请求地址；endpoint 为空时返回空串
func (a *AzureConfig) EmbeddingURL() string {
	if a.Endpoint == "" {
		return ""
	}
	if strings.Contains(a.Endpoint, "embeddings") {
		return appendVersion(a.Endpoint, a.APIVersion)
	}
	url := strings.TrimRight(a.Endpoint, "/") + "/openai/deployments/" + a.EmbeddingDeployment + "/embeddings"
	return appendVersion(url, a.APIVersion)
}

// ChatURL 拼出 chat 请求地址。优先使用 AZURE_OPENAI_CHAT_ENDPOINT；
// 含 responses / chat/completions 的地址原样使用（补 api-version），
// 含 openai/v1 的基地址补 /chat/completions，其余按部署拼 Responses 地址。
func (a *AzureConfig) ChatURL() string {
	source := a.ChatEndpointOverride
	if source == "" {
		source = a.Endpoint
	}
	if source == "" {
		return ""
	}

	version := a.ChatAPIVersion
	if version == "" {
		version = a.APIVersion
	}

	switch {
	case strings.Contains(source, "responses"):
		return appendVersion(source, version)
	case strings.Contains(source, "chat/completions"):
		if strings.Contains(source, "/openai/v1") {
			return source
		}
		return appendVersion(source, version)
	case strings.Contains(source, "openai/v1"):
		base := strings.TrimRight(source, "/")
		url := base + "/chat/completions"
		if strings.Contains(base, "/openai/v1") {
			return url
		}
		return appendVersion(url, version)
	default:
		if a.ChatDeployment == "" {
			return ""
		}
		url := strings.TrimRight(source, "/") + "/openai/deployments/" + a.ChatDeployment + "/responses"
		return appendVersion(url, version)
	}
}

func appendVersion(url, version string) string {
	if version == "" || strings.Contains(url, "api-version=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "api-version=" + version
}

func pgConnInfo() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		envOr("PGHOST", "postgres"),
		envOr("PGPORT", "5432"),
		envOr("PGDATABASE", "rag_db"),
		envOr("PGUSER", "rag_user"),
		envOr("PGPASSWORD", "rag_pass"),
		envOr("PGSSLMODE", "disable"),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
