package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string // 为空时不启用鉴权
	JWTIssuer    string // 可选签发者校验
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8081,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

// Server 同步 search / answer HTTP 服务
type Server struct {
	config   *ServerConfig
	answerer *rag.Answerer
	httpSrv  *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, answerer *rag.Answerer) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{config: config, answerer: answerer}
}

// Start 启动服务器，阻塞直到 Stop 或监听失败
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 RAG HTTP server starting on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := NewRAGHandler(s.answerer)
	r.Group(func(r chi.Router) {
		if s.config.JWTSecret != "" {
			r.Use(authMiddleware(&JWTConfig{Secret: s.config.JWTSecret, Issuer: s.config.JWTIssuer}))
		} else {
			applog.Warn("[API] JWT_SECRET not set, search/answer routes are unauthenticated")
		}
		h.RegisterRoutes(r)
		r.Route("/internal", h.RegisterRoutes)
	})
	return r
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
