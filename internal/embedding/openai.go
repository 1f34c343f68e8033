package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// 默认OpenAI嵌入模型
	defaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIClient OpenAI嵌入向量客户端
// 也可用于任何兼容OpenAI embeddings接口的服务
type OpenAIClient struct {
	client     *openai.Client // OpenAI API客户端
	model      string         // 使用的嵌入模型
	baseURL    string         // API基础URL
	dimensions int            // 请求的向量维度
	maxRetries int            // 最大重试次数
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 检查必要配置
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	// 如果指定了自定义端点，则使用它
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		baseURL:    clientConfig.BaseURL,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Fingerprint 返回服务、端点、模型和维度组成的配置标识
func (c *OpenAIClient) Fingerprint() string {
	return fmt.Sprintf("openai|%s|%s|%d", c.baseURL, c.model, c.dimensions)
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成嵌入向量
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
		}
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	}

	var resp openai.EmbeddingResponse
	var err error

	// 带重试的嵌入请求，仅对网络错误、限流和服务端错误重试
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, WrapError(ctx.Err(), ErrCodeTimeout)
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		resp, err = c.client.CreateEmbeddings(ctx, req)
		if err == nil || !retryable(classifyOpenAIError(err)) || ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		return nil, WrapError(err, classifyOpenAIError(err))
	}

	if len(resp.Data) != len(texts) {
		return nil, NewEmbeddingError(ErrCodeBadResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	// 按照返回的索引恢复输入顺序
	result := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) || len(item.Embedding) == 0 {
			return nil, NewEmbeddingError(ErrCodeBadResponse,
				fmt.Sprintf("invalid embedding at index %d", item.Index))
		}
		result[item.Index] = item.Embedding
	}
	for i, vec := range result {
		if vec == nil {
			return nil, NewEmbeddingError(ErrCodeBadResponse,
				fmt.Sprintf("missing embedding for input %d", i))
		}
	}

	return result, nil
}

// classifyOpenAIError 将go-openai返回的错误映射为错误码
func classifyOpenAIError(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return codeForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return codeForStatus(reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeNetworkError
}

// retryable 判断错误码是否值得重试
func retryable(code int) bool {
	switch code {
	case ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeServerError:
		return true
	default:
		return false
	}
}

// 注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
