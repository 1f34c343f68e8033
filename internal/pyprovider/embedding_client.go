package pyprovider

import (
	"context"
	"fmt"
	"net/url"
)

// EmbeddingClient 是本地Python句向量服务的客户端
type EmbeddingClient struct {
	client Client
}

// EmbeddingRequest 表示单个文本的嵌入请求
type EmbeddingRequest struct {
	Text string `json:"text"`
}

// BatchEmbeddingRequest 表示批量文本的嵌入请求
type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

// EmbeddingResponse 表示单个文本的嵌入响应
type EmbeddingResponse struct {
	Success       bool      `json:"success"`
	Model         string    `json:"model"`
	Dimension     int       `json:"dimension"`
	Embedding     []float32 `json:"embedding"`
	ProcessTimeMs int       `json:"process_time_ms"`
}

// BatchEmbeddingResponse 表示批量文本的嵌入响应
type BatchEmbeddingResponse struct {
	Success       bool        `json:"success"`
	Model         string      `json:"model"`
	Count         int         `json:"count"`
	Dimension     int         `json:"dimension"`
	Embeddings    [][]float32 `json:"embeddings"`
	Normalized    bool        `json:"normalized"`
	ProcessTimeMs int         `json:"process_time_ms"`
}

// ModelListResponse 表示模型列表响应
type ModelListResponse struct {
	Success bool                     `json:"success"`
	Models  map[string][]interface{} `json:"models"`
}

// NewEmbeddingClient 创建一个新的嵌入客户端
func NewEmbeddingClient(client Client) *EmbeddingClient {
	return &EmbeddingClient{
		client: client,
	}
}

// Embed 使用指定模型将文本转换为嵌入向量
func (c *EmbeddingClient) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text provided for embedding")
	}

	reqPath := "/python/embeddings?" + modelQuery(model, false).Encode()

	var response EmbeddingResponse
	if err := c.client.Post(ctx, reqPath, EmbeddingRequest{Text: text}, &response); err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	// 检查响应是否成功
	if !response.Success {
		return nil, fmt.Errorf("embedding generation failed: API returned failure status")
	}

	return response.Embedding, nil
}

// EmbedBatch 批量将文本转换为嵌入向量
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string, model string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty text list provided for batch embedding")
	}

	reqPath := "/python/embeddings/batch?" + modelQuery(model, normalize).Encode()

	var response BatchEmbeddingResponse
	if err := c.client.Post(ctx, reqPath, BatchEmbeddingRequest{Texts: texts}, &response); err != nil {
		return nil, fmt.Errorf("failed to generate batch embeddings: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("batch embedding generation failed: API returned failure status")
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch embedding returned %d vectors for %d texts", len(response.Embeddings), len(texts))
	}

	return response.Embeddings, nil
}

// BaseURL 返回服务基础URL
func (c *EmbeddingClient) BaseURL() string {
	return c.client.GetConfig().BaseURL
}

// ListModels 获取所有可用的嵌入模型列表
func (c *EmbeddingClient) ListModels(ctx context.Context) (map[string][]interface{}, error) {
	var response ModelListResponse
	if err := c.client.Get(ctx, "/python/embeddings/models", &response); err != nil {
		return nil, fmt.Errorf("failed to get embedding models: %w", err)
	}

	if !response.Success {
		return nil, fmt.Errorf("failed to get embedding models: API returned failure status")
	}

	return response.Models, nil
}

// modelQuery 构造模型相关的查询参数
func modelQuery(model string, normalize bool) url.Values {
	if model == "" {
		model = "default"
	}
	q := url.Values{}
	q.Set("model", model)
	if normalize {
		q.Set("normalize", "true")
	}
	return q
}
