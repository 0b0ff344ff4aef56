// Package llm provides the client for the conversation analysis model.
// 分析算法本身对核心是不透明的：这里只定义打分函数的入参与出参。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"support-chat-go/internal/config"
)

// Message 表示一条角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnalysisResult 是分析管道的统一结果类型。
// Preview 为 true 时表示轻量预览，只有 HiddenNeeds/Keywords 可信。
type AnalysisResult struct {
	Preview            bool     `json:"preview"`
	Sentiment          string   `json:"sentiment,omitempty"`
	SentimentScore     float64  `json:"sentiment_score,omitempty"`
	ConfidenceScore    float64  `json:"confidence_score"`
	HiddenNeeds        []string `json:"hidden_needs,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
	PriorityLevel      string   `json:"priority_level,omitempty"`
	EscalationRequired bool     `json:"escalation_required"`
	Evidence           []string `json:"evidence,omitempty"`
}

// Client 定义了分析与回复生成的接口。
type Client interface {
	// AnalyzeConversation 对整段对话做情绪 + 隐性需求分析。
	AnalyzeConversation(ctx context.Context, messages []Message) (*AnalysisResult, error)
	// PreviewNeeds 对最近的用户消息做轻量的需求预览。
	PreviewNeeds(ctx context.Context, messages []Message) (*AnalysisResult, error)
	// GenerateReply 基于对话上下文生成一条助手回复。
	GenerateReply(ctx context.Context, messages []Message) (string, error)
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new analysis client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAIClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

const analysisSystemPrompt = `あなたはカスタマーサポート会話の分析エンジンです。` +
	`会話全体を読み、JSON のみで回答してください: ` +
	`{"sentiment": "positive|neutral|negative|frustrated", "sentiment_score": 0-1, ` +
	`"confidence_score": 0-1, "hidden_needs": [...], "priority_level": "low|medium|high|urgent", ` +
	`"evidence": [...]}`

const previewSystemPrompt = `あなたはカスタマーサポート会話の分析エンジンです。` +
	`直近のユーザー発言からニーズの兆しを抽出し、JSON のみで回答してください: ` +
	`{"keywords": [...], "hidden_needs": [...], "confidence_score": 0-1, "escalation_required": bool}`

// AnalyzeConversation 调用模型做完整分析，并把回答解析为统一结果。
func (c *openAIClient) AnalyzeConversation(ctx context.Context, messages []Message) (*AnalysisResult, error) {
	content, err := c.complete(ctx, analysisSystemPrompt, messages)
	if err != nil {
		return nil, err
	}
	var result AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis result: %w", err)
	}
	result.Preview = false
	if result.PriorityLevel == "urgent" || result.Sentiment == "frustrated" {
		result.EscalationRequired = true
	}
	return &result, nil
}

// PreviewNeeds 调用模型做轻量预览。
func (c *openAIClient) PreviewNeeds(ctx context.Context, messages []Message) (*AnalysisResult, error) {
	content, err := c.complete(ctx, previewSystemPrompt, messages)
	if err != nil {
		return nil, err
	}
	var result AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse preview result: %w", err)
	}
	result.Preview = true
	return &result, nil
}

// GenerateReply 生成一条助手回复文本。
func (c *openAIClient) GenerateReply(ctx context.Context, messages []Message) (string, error) {
	const replyPrompt = `あなたは丁寧なカスタマーサポート担当です。` +
		`会話の流れを踏まえ、お客様の質問に簡潔に答えてください。`
	return c.complete(ctx, replyPrompt, messages)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete 调用 chat completions 接口并返回首个回答内容。
func (c *openAIClient) complete(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: append([]Message{{Role: "system", Content: systemPrompt}}, messages...),
	}
	if c.cfg.Temperature != 0 {
		t := c.cfg.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.MaxTokens != 0 {
		m := c.cfg.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat completion returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
