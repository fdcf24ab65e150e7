package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 150
)

// Chunker 固定窗口分块器（按字节偏移，窗口之间有重叠）
type Chunker struct {
	chunkSize int // 窗口大小
	overlap   int // 相邻窗口重叠
}

// NewChunker 创建分块器；overlap >= chunkSize 会导致无法前进，视为配置错误。
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be > 0, got %d", ErrInvalidChunkConfig, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must be >= 0, got %d", ErrInvalidChunkConfig, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be < chunk size %d", ErrInvalidChunkConfig, overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Chunk 切分文本。空文本返回空切片；seq_no 从 0 连续递增。
//
// 窗口 [start, min(start+size, len))，到达末尾即停止；
// 下一个 start = end - overlap，若不前进则强制为 end。
// 两端都对齐到 UTF-8 字符边界，多字节字符不会被拆开。
func (c *Chunker) Chunk(text string) []Chunk {
	n := len(text)
	chunks := make([]Chunk, 0, c.estimate(n))
	if n == 0 {
		return chunks
	}

	start := 0
	for start < n {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		end = runeEnd(text, start, end)
		content := text[start:end]
		chunks = append(chunks, Chunk{
			SeqNo:         len(chunks),
			Content:       content,
			ContentDigest: Digest(content),
		})
		if end == n {
			break
		}

		next := end - c.overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func (c *Chunker) estimate(n int) int {
	if n == 0 {
		return 0
	}
	step := c.chunkSize - c.overlap
	return n/step + 1
}

// Digest sha256 十六进制摘要
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// runeEnd 把窗口右端回退到字符边界；窗口小于单个字符时向前推进
func runeEnd(text string, start, end int) int {
	if end >= len(text) {
		return len(text)
	}
	e := end
	for e > start && !utf8.RuneStart(text[e]) {
		e--
	}
	if e > start {
		return e
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return end
}
