package pyprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client 是Python服务的HTTP客户端接口
type Client interface {
	// Get 发送GET请求
	Get(ctx context.Context, path string, result interface{}) error
	// Post 发送POST请求
	Post(ctx context.Context, path string, data interface{}, result interface{}) error
	// GetConfig 获取客户端配置
	GetConfig() *PyServiceConfig
}

// HTTPClient 实现了Python服务的HTTP客户端
type HTTPClient struct {
	client  *http.Client
	config  *PyServiceConfig
	headers map[string]string
	logger  *logrus.Logger
}

// APIError 表示API调用返回的错误
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status code: %d): %s - %s", e.StatusCode, e.Message, e.Detail)
}

// Temporary 5xx错误可以重试
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// NewClient 创建一个新的Python服务HTTP客户端
func NewClient(config *PyServiceConfig, logger *logrus.Logger) (*HTTPClient, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("python service base url is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPClient{
		client: client,
		config: config,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "Quote-Search-Go-Client/1.0",
		},
		logger: logger,
	}, nil
}

// Get 发送GET请求到Python服务
func (c *HTTPClient) Get(ctx context.Context, path string, result interface{}) error {
	return c.doRequestWithRetry(ctx, http.MethodGet, path, nil, result)
}

// Post 发送POST请求到Python服务
func (c *HTTPClient) Post(ctx context.Context, path string, data interface{}, result interface{}) error {
	var body []byte
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		body = jsonData
	}
	return c.doRequestWithRetry(ctx, http.MethodPost, path, body, result)
}

// doRequestWithRetry 执行HTTP请求并支持重试
// 每次尝试都重新构造请求，保证请求体可以重复发送
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, path string, body []byte, result interface{}) error {
	url := strings.TrimRight(c.config.BaseURL, "/") + path

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("request context canceled: %w", ctx.Err())
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
				// 增加退避时间
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		for key, value := range c.headers {
			req.Header.Set(key, value)
		}

		lastErr = c.do(req, result)
		if lastErr == nil {
			return nil
		}

		if apiErr, ok := lastErr.(*APIError); ok && !apiErr.Temporary() {
			return apiErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("request context canceled: %w", ctx.Err())
		}

		c.logger.WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt + 1,
		}).WithError(lastErr).Warn("Python service request failed")
	}

	return lastErr
}

// do 执行一次请求并解析响应
func (c *HTTPClient) do(req *http.Request, result interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// 读取响应体
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// 检查状态码
	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    "API call failed",
		}

		// 尝试解析错误详情
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			apiErr.Detail = errResp.Detail
		} else {
			apiErr.Detail = string(body)
		}

		return apiErr
	}

	// 解析响应体到结果对象
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response JSON: %w", err)
		}
	}

	return nil
}

// GetConfig 返回客户端配置
func (c *HTTPClient) GetConfig() *PyServiceConfig {
	return c.config
}
