package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

// Config MinIO / S3 连接参数
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store 对象存储，实现 rag.ObjectStore
type Store struct {
	client *miniogo.Client
	bucket string
	region string
}

var _ rag.ObjectStore = (*Store)(nil)

// New 创建客户端（不发起网络请求）
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio: endpoint and bucket are required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// Get 读取完整对象
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, wrapErr("get", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, wrapErr("read", key, err)
	}
	applog.Debug("[Storage] Object fetched", "bucket", s.bucket, "key", key, "bytes", len(data))
	return data, nil
}

// Put 上传对象
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return wrapErr("put", key, err)
	}
	applog.Info("[Storage] Object uploaded", "bucket", s.bucket, "key", key, "bytes", len(data))
	return nil
}

// EnsureBucket 桶不存在时创建
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return wrapErr("bucket exists", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{Region: s.region}); err != nil {
		return wrapErr("make bucket", s.bucket, err)
	}
	applog.Info("[Storage] Bucket created", "bucket", s.bucket)
	return nil
}

func wrapErr(op, key string, err error) error {
	resp := miniogo.ToErrorResponse(err)
	status := resp.StatusCode
	if status == 0 && resp.Code == "NoSuchKey" {
		status = http.StatusNotFound
	}
	return &rag.UpstreamError{
		Service: rag.ServiceObjectStore,
		Status:  status,
		Message: fmt.Sprintf("%s %s: %v", op, key, err),
		Err:     err,
	}
}
