package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"ragworker/internal/domain/rag"
)

type chatFlavour int

const (
	flavourResponses chatFlavour = iota + 1
	flavourChatCompletions
)

// ChatClient Azure chat 端点，按 URL 选择 Responses 或 Chat Completions 报文
type ChatClient struct {
	caller     *caller
	flavour    chatFlavour
	deployment string
	maxTokens  int
}

var _ rag.ChatClient = (*ChatClient)(nil)

// NewChatClient URL 既不含 responses 也不含 chat/completions 时返回配置错误
func NewChatClient(cfg Config) (*ChatClient, error) {
	cfg = cfg.withDefaults()
	if cfg.ChatURL == "" {
		return nil, errors.New("missing Azure chat configuration (endpoint/deployment/version)")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("missing AZURE_OPENAI_API_KEY")
	}

	var flavour chatFlavour
	switch {
	case strings.Contains(cfg.ChatURL, "responses"):
		flavour = flavourResponses
	case strings.Contains(cfg.ChatURL, "chat/completions"):
		flavour = flavourChatCompletions
		if cfg.ChatDeployment == "" {
			return nil, errors.New("AZURE_OPENAI_CHAT_DEPLOYMENT required for chat completions")
		}
	default:
		return nil, errors.New("unsupported Azure chat endpoint (must contain /responses or /chat/completions)")
	}

	return &ChatClient{
		caller:     newCaller(rag.ServiceChat, cfg.ChatURL, cfg.ChatTimeout, cfg),
		flavour:    flavour,
		deployment: cfg.ChatDeployment,
		maxTokens:  cfg.MaxOutputTokens,
	}, nil
}

// -- Responses API --

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesInput struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type responsesRequest struct {
	Input           []responsesInput `json:"input"`
	Temperature     float64          `json:"temperature"`
	MaxOutputTokens int              `json:"max_output_tokens"`
}

type responsesResponse struct {
	Output *[]struct {
		Content []struct {
			Type *string `json:"type"`
			Text *string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// -- Chat Completions --

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete 温度固定为 0，输出上限 max tokens
func (c *ChatClient) Complete(ctx context.Context, messages []rag.ChatMessage) (string, error) {
	var payload any
	if c.flavour == flavourResponses {
		req := responsesRequest{Temperature: 0, MaxOutputTokens: c.maxTokens}
		for _, m := range messages {
			req.Input = append(req.Input, responsesInput{Role: m.Role, Content: []contentPart{{Type: "text", Text: m.Content}}})
		}
		payload = req
	} else {
		req := chatRequest{Model: c.deployment, Temperature: 0, MaxTokens: c.maxTokens}
		for _, m := range messages {
			req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
		}
		payload = req
	}

	body, err := c.caller.post(ctx, payload)
	if err != nil {
		return "", err
	}
	if c.flavour == flavourResponses {
		return extractResponsesText(body)
	}
	return extractChatCompletionsText(body)
}

// extractResponsesText 拼接 output[].content[] 中 type=text 的文本，以换行分隔
func extractResponsesText(body []byte) (string, error) {
	var resp responsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", malformed(rag.ServiceChat, "failed to parse azure chat response: %v", err)
	}
	if resp.Output == nil {
		return "", malformed(rag.ServiceChat, "azure chat response missing output array")
	}

	var texts []string
	for _, entry := range *resp.Output {
		for _, block := range entry.Content {
			if block.Type == nil || *block.Type != "text" || block.Text == nil || *block.Text == "" {
				continue
			}
			texts = append(texts, *block.Text)
		}
	}
	combined := strings.Join(texts, "\n")
	if combined == "" {
		return "", malformed(rag.ServiceChat, "azure chat response missing text")
	}
	return combined, nil
}

// extractChatCompletionsText content 可能是字符串，也可能是带 text 的分段数组
func extractChatCompletionsText(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", malformed(rag.ServiceChat, "failed to parse chat completions response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(rag.ServiceChat, "chat completions response missing choices")
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return "", malformed(rag.ServiceChat, "chat completions response missing message")
	}
	if len(msg.Content) == 0 || string(msg.Content) == "null" {
		return "", malformed(rag.ServiceChat, "chat completions message missing content")
	}

	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		return s, nil
	}

	var parts []struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(msg.Content, &parts); err != nil {
		return "", malformed(rag.ServiceChat, "chat completions content not string")
	}
	var texts []string
	for _, p := range parts {
		if p.Text != nil && *p.Text != "" {
			texts = append(texts, *p.Text)
		}
	}
	combined := strings.Join(texts, "\n")
	if combined == "" {
		return "", malformed(rag.ServiceChat, "chat completions content array missing text entries")
	}
	return combined, nil
}
