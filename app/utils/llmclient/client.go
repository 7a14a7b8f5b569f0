package llmclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"podcast-fusion/app/config"

	"resty.dev/v3"
)

// Client LLM调用客户端，对接OpenAI兼容网关（LiteLLM等）
type Client struct {
	cfg    config.LLMConfig
	client *resty.Client
}

// New 创建LLM客户端
func New(cfg config.LLMConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		cfg:    cfg,
		client: client,
	}
}

// Message 聊天消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage token用量
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ChatResult 聊天调用结果
type ChatResult struct {
	Content     string
	Usage       Usage
	Model       string
	ElapsedSecs float64
}

// chatCompletionRequest OpenAI兼容请求体
type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

// chatCompletionResponse OpenAI兼容响应体
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat 发送聊天请求
func (c *Client) Chat(messages []Message, jsonMode bool) (*ChatResult, error) {
	reqBody := chatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]any{"type": "json_object"}
	}

	var result chatCompletionResponse
	startTime := time.Now()

	resp, err := c.client.R().
		SetBody(reqBody).
		SetResult(&result).
		Post("/v1/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("LLM请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("LLM请求失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	elapsed := time.Since(startTime).Seconds()

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("LLM返回空响应（无choices）")
	}

	content := result.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("LLM返回空内容")
	}

	usage := Usage{}
	if result.Usage != nil {
		usage = Usage{
			Prompt:     result.Usage.PromptTokens,
			Completion: result.Usage.CompletionTokens,
			Total:      result.Usage.TotalTokens,
		}
	}

	return &ChatResult{
		Content:     content,
		Usage:       usage,
		Model:       result.Model,
		ElapsedSecs: elapsed,
	}, nil
}

// ChatJSON 发送聊天请求并解析JSON响应
func (c *Client) ChatJSON(messages []Message, out any) (*ChatResult, error) {
	result, err := c.Chat(messages, true)
	if err != nil {
		return nil, err
	}

	content := StripMarkdownFence(result.Content)
	result.Content = content

	if err := json.Unmarshal([]byte(content), out); err != nil {
		preview := content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("LLM返回的JSON无法解析: %w, 内容预览: %q", err, preview)
	}

	return result, nil
}

// StripMarkdownFence 清理响应中可能包裹的markdown代码块
func StripMarkdownFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	lines := strings.Split(content, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
