package api

import (
	"context"
)

// Scope 令牌携带的调用方作用域（注入到 context）
type Scope struct {
	TenantID string `json:"tenant_id,omitempty"`
	Subject  string `json:"subject"`
}

type scopeContextKey struct{}

// WithScope 注入 Scope 到 context
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFrom 从 context 提取 Scope；未启用鉴权时返回 nil
func ScopeFrom(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return scope
}

// allows 令牌未限定 tenant 时放行任意 tenant
func (s *Scope) allows(tenantID string) bool {
	return s == nil || s.TenantID == "" || s.TenantID == tenantID
}
