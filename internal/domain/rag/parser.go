package rag

import (
	"fmt"
	"mime"
	"sort"
	"strings"
	"sync"
)

// Parser 将对象存储中的原始字节解码为可分块的文本
type Parser interface {
	Parse(data []byte) (string, error)
	// ContentTypes 支持的 media type（小写，不含参数）
	ContentTypes() []string
}

// PlainTextParser text/plain：原样返回字节，分块偏移以原始字节为准
type PlainTextParser struct{}

func (p *PlainTextParser) ContentTypes() []string {
	return []string{"text/plain"}
}

func (p *PlainTextParser) Parse(data []byte) (string, error) {
	return string(data), nil
}

// ParserRegistry 按 content type 查找解析器
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewParserRegistry 创建注册表，allowed 为空时注册全部内置解析器，
// 否则只保留 allowed 中列出的类型。
func NewParserRegistry(allowed ...string) *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[string]Parser)}
	builtin := []Parser{&PlainTextParser{}}

	allow := make(map[string]bool, len(allowed))
	for _, ct := range allowed {
		allow[normalizeContentType(ct)] = true
	}
	for _, p := range builtin {
		for _, ct := range p.ContentTypes() {
			if len(allow) == 0 || allow[ct] {
				r.parsers[ct] = p
			}
		}
	}
	return r
}

// Register 注册解析器
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ct := range p.ContentTypes() {
		r.parsers[normalizeContentType(ct)] = p
	}
}

// Get 根据 content type 获取解析器，不支持时返回 ErrUnsupportedContentType。
func (r *ParserRegistry) Get(contentType string) (Parser, error) {
	ct := normalizeContentType(contentType)

	r.mu.RLock()
	p, ok := r.parsers[ct]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedContentType, contentType, r.SupportedTypes())
	}
	return p, nil
}

// SupportedTypes 返回已注册的 content type
func (r *ParserRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.parsers))
	for ct := range r.parsers {
		types = append(types, ct)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(ct)
}
