package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/quote-search/internal/pyprovider"
)

const (
	// 本地句向量服务的默认模型
	defaultPythonModel = "all-MiniLM-L6-v2"
)

// PythonEmbeddingClient 使用本地Python句向量服务的嵌入客户端
type PythonEmbeddingClient struct {
	client    *pyprovider.EmbeddingClient // Python嵌入服务客户端
	modelName string                      // 模型名称
}

// NewPythonClient 创建一个新的Python嵌入服务客户端
func NewPythonClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	pyConfig := pyprovider.DefaultConfig()
	if cfg.BaseURL != "" {
		pyConfig.WithBaseURL(cfg.BaseURL)
	}
	pyConfig.WithTimeout(cfg.Timeout)
	pyConfig.WithRetry(cfg.MaxRetries, 500*time.Millisecond)

	httpClient, err := pyprovider.NewClient(pyConfig, nil)
	if err != nil {
		return nil, WrapError(fmt.Errorf("failed to create Python service HTTP client: %w", err), ErrCodeInvalidRequest)
	}

	model := cfg.Model
	if model == "" {
		model = defaultPythonModel
	}

	return &PythonEmbeddingClient{
		client:    pyprovider.NewEmbeddingClient(httpClient),
		modelName: model,
	}, nil
}

// Embed 生成单条文本的向量表示
func (c *PythonEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vec, err := c.client.Embed(ctx, text, c.modelName)
	if err != nil {
		return nil, WrapError(err, pythonErrorCode(err))
	}
	return vec, nil
}

// EmbedBatch 批量生成多条文本的向量表示
func (c *PythonEmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := c.client.EmbedBatch(ctx, texts, c.modelName, false)
	if err != nil {
		return nil, WrapError(err, pythonErrorCode(err))
	}
	return vecs, nil
}

// Name 返回模型名称
func (c *PythonEmbeddingClient) Name() string {
	return c.modelName
}

// Fingerprint 返回服务地址和模型组成的配置标识
func (c *PythonEmbeddingClient) Fingerprint() string {
	return "python|" + c.client.BaseURL() + "|" + c.modelName
}

// Check 通过模型列表接口确认本地服务可以访问
func (c *PythonEmbeddingClient) Check(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return WrapError(fmt.Errorf("python embedding service at %s is unreachable: %w", c.client.BaseURL(), err), pythonErrorCode(err))
	}
	return nil
}

// pythonErrorCode 根据Python服务的错误确定错误码
func pythonErrorCode(err error) int {
	var apiErr *pyprovider.APIError
	if errors.As(err, &apiErr) {
		return codeForStatus(apiErr.StatusCode)
	}
	return ErrCodeNetworkError
}

// 注册Python嵌入客户端
func init() {
	RegisterClient("python", NewPythonClient)
}
