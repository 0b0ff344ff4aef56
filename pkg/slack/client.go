// Package slack 提供了向 chat-ops Webhook 发送结构化消息的客户端。
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"support-chat-go/internal/config"
)

// Attachment 是 webhook 消息中的一个结构化块。
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// Field 是附件中的一个键值对。
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Payload 是发往 webhook 的完整消息体。
type Payload struct {
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Notifier 定义了 chat-ops 通知的接口。
type Notifier interface {
	Post(ctx context.Context, payload Payload) error
}

type webhookClient struct {
	cfg    config.SlackConfig
	client *http.Client
}

// NewClient 创建一个 webhook 客户端。
func NewClient(cfg config.SlackConfig) Notifier {
	return &webhookClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post 将消息 POST 到配置的 Webhook URL。
// 非 2xx 响应与网络失败都以错误返回，由调用方决定记录或忽略，
// 这里不做内联重试。
func (c *webhookClient) Post(ctx context.Context, payload Payload) error {
	if c.cfg.WebhookURL == "" {
		return fmt.Errorf("slack webhook url is not configured")
	}
	if payload.Channel == "" {
		payload.Channel = c.cfg.Channel
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
