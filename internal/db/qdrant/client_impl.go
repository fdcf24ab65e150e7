package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

// Config Qdrant 连接参数
type Config struct {
	URL      string
	Distance string
	Timeout  time.Duration
}

// Client Qdrant REST 客户端，实现 rag.VectorIndex
type Client struct {
	baseURL    string
	distance   string
	httpClient *http.Client
}

var _ rag.VectorIndex = (*Client)(nil)

// NewClient 创建 Qdrant 客户端
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	distance := cfg.Distance
	if distance == "" {
		distance = "Cosine"
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		distance: distance,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// EnsureCollection 确保集合存在，不存在则按 dims 创建
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	status, body, err := c.call(ctx, http.MethodGet, collectionPath(collection), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return rag.NewUpstreamError(rag.ServiceVectorIndex, status, "check collection: "+string(body))
	}

	spec := map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": c.distance,
		},
	}
	status, body, err = c.call(ctx, http.MethodPut, collectionPath(collection), spec)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return rag.NewUpstreamError(rag.ServiceVectorIndex, status, "create collection: "+string(body))
	}
	applog.Info("[Qdrant] Collection created", "collection", collection, "dims", dims, "distance", c.distance)
	return nil
}

// Upsert 写入或覆盖点
func (c *Client) Upsert(ctx context.Context, collection string, points []rag.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	req := struct {
		Points []point `json:"points"`
	}{Points: make([]point, 0, len(points))}
	for _, p := range points {
		req.Points = append(req.Points, point{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}

	status, body, err := c.call(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", rag.ErrCollectionNotFound, collection)
	}
	if status != http.StatusOK {
		return rag.NewUpstreamError(rag.ServiceVectorIndex, status, "upsert points: "+string(body))
	}
	applog.Debug("[Qdrant] Points upserted", "collection", collection, "count", len(points))
	return nil
}

// Search 相似度检索，按分数降序返回至多 topK 条命中
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]rag.SearchHit, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	status, body, err := c.call(ctx, http.MethodPost, collectionPath(collection)+"/points/search", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", rag.ErrCollectionNotFound, collection)
	}
	if status != http.StatusOK {
		return nil, rag.NewUpstreamError(rag.ServiceVectorIndex, status, "search: "+string(body))
	}
	return parseSearchResponse(body)
}

// Ping 检查 Qdrant 连通性
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.call(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return rag.NewUpstreamError(rag.ServiceVectorIndex, status, string(body))
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   *float64 `json:"score"`
		Payload struct {
			DocID   *string `json:"doc_id"`
			SeqNo   *int    `json:"seq_no"`
			Content *string `json:"content"`
		} `json:"payload"`
	} `json:"result"`
}

// parseSearchResponse 任一命中缺少 score / doc_id / seq_no / content 都视为畸形响应
func parseSearchResponse(body []byte) ([]rag.SearchHit, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("parse search response: " + err.Error())
	}

	hits := make([]rag.SearchHit, 0, len(resp.Result))
	for i, r := range resp.Result {
		p := r.Payload
		if r.Score == nil || p.DocID == nil || p.SeqNo == nil || p.Content == nil {
			return nil, malformed(fmt.Sprintf("search hit %d missing score or payload fields", i))
		}
		hits = append(hits, rag.SearchHit{
			Score:   *r.Score,
			DocID:   *p.DocID,
			SeqNo:   *p.SeqNo,
			Content: *p.Content,
		})
	}
	return hits, nil
}

func malformed(msg string) error {
	return &rag.UpstreamError{Service: rag.ServiceVectorIndex, Message: msg, Err: rag.ErrMalformedResponse}
}

func collectionPath(collection string) string {
	return "/collections/" + url.PathEscape(collection)
}

// call 执行请求并读完响应体；传输层失败包装为 vector_index 上游错误
func (c *Client) call(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return 0, nil, &rag.UpstreamError{Service: rag.ServiceVectorIndex, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &rag.UpstreamError{Service: rag.ServiceVectorIndex, Status: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}
	return resp.StatusCode, respBody, nil
}

// doRequest 执行 HTTP 请求
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}
