package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reikadev/reika-onchain/internal/decision"
	"github.com/reikadev/reika-onchain/internal/market"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

const systemPrompt = `你是一个链上资产管理智能体的决策引擎。根据提供的智能体状态与市场观测，
输出一个 JSON 对象，字段为 action（SWAP、PROVIDE_LIQUIDITY、REMOVE_LIQUIDITY、STAKE、
UNSTAKE 或 NONE）、reasoning、expected_outcome、risk_assessment，以及可选的 transaction
（含 to、value、payload、gas_limit、gas_price）。不确定时选择 NONE 并说明理由。
只输出 JSON，不要输出其他内容。`

// Config 描述了调用 OpenAI 兼容接口所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容的对话接口产出决策。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建决策客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Propose 实现 decision.Provider。
func (c *Client) Propose(ctx context.Context, state decision.StateView, snapshot market.Snapshot) (*decision.Decision, error) {
	payload, err := c.buildPayload(state, snapshot)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建决策请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求决策服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("决策服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析决策响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("决策响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("决策响应内容为空")
	}

	return ParseDecision(content)
}

// buildPayload 组装对话请求体，用户消息携带状态与市场观测的 JSON。
func (c *Client) buildPayload(state decision.StateView, snapshot market.Snapshot) ([]byte, error) {
	userContent, err := json.Marshal(map[string]any{
		"state":  state,
		"market": snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化状态失败: %w", err)
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": string(userContent)},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	return payload, nil
}

// ParseDecision 将模型输出解析为不可变的决策值。模型偶尔会把 JSON
// 包在 Markdown 代码块里，这里做一次宽松剥离。
func ParseDecision(content string) (*decision.Decision, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var dec decision.Decision
	if err := json.Unmarshal([]byte(content), &dec); err != nil {
		return nil, fmt.Errorf("决策 JSON 解析失败: %w", err)
	}
	if dec.Action == "" {
		return nil, errors.New("决策缺少 action 字段")
	}
	if !dec.Action.Valid() {
		return nil, fmt.Errorf("未知的决策动作: %s", dec.Action)
	}
	if dec.Action == decision.ActionNone {
		dec.Transaction = nil
	}
	return &dec, nil
}
