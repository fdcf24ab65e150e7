package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"ragworker/internal/domain/rag"
	applog "ragworker/internal/platform/log"
)

// JWTConfig JWT 鉴权配置
type JWTConfig struct {
	Secret string // HMAC 签名密钥
	Issuer string // 可选签发者校验
}

// authMiddleware 校验 Authorization: Bearer <token>，并把 tenant_id 等声明注入 Scope
func authMiddleware(cfg *JWTConfig) func(http.Handler) http.Handler {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, rag.CodeUnauthorizedRequest, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, rag.CodeUnauthorizedRequest, "invalid Authorization header format")
				return
			}

			token, err := jwt.Parse(parts[1], keyFunc, parserOpts...)
			if err != nil || !token.Valid {
				applog.Warn("[Auth] Invalid JWT token", "error", err)
				writeError(w, rag.CodeUnauthorizedRequest, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, rag.CodeUnauthorizedRequest, "invalid token claims")
				return
			}

			scope := &Scope{}
			scope.TenantID, _ = claims["tenant_id"].(string)
			scope.Subject, _ = claims["sub"].(string)

			applog.Debug("[Auth] Scope injected", "tenant_id", scope.TenantID, "subject", scope.Subject)
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}
