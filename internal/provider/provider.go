package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/teaminbox/internal/config"
)

// Sender 服务商发送接口：成功返回服务商侧消息 id。
// 对本系统而言服务商 API 是黑盒，除此之外不做任何假设。
type Sender interface {
	Send(ctx context.Context, channelExternalID, to, text string) (string, error)
}

// SenderFunc 函数适配器
type SenderFunc func(ctx context.Context, channelExternalID, to, text string) (string, error)

func (f SenderFunc) Send(ctx context.Context, channelExternalID, to, text string) (string, error) {
	return f(ctx, channelExternalID, to, text)
}

// HTTPSender 基于服务商 Graph 风格 HTTP API 的实现
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPSender 创建 HTTP 发送端
func NewHTTPSender(cfg *config.ProviderConfig) *HTTPSender {
	return &HTTPSender{
		baseURL: cfg.BaseURL,
		token:   cfg.AccessToken,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSender) Send(ctx context.Context, channelExternalID, to, text string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, channelExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider send failed: status=%d body=%s", resp.StatusCode, raw)
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("provider response without message id")
	}
	return out.Messages[0].ID, nil
}
