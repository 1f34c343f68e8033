package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// 默认HuggingFace推理端点
	defaultHuggingFaceEndpoint = "https://router.huggingface.co/hf-inference/models"

	// 默认句向量模型
	defaultHuggingFaceModel = "sentence-transformers/all-MiniLM-L6-v2"
)

// huggingFaceRequest feature-extraction请求体
type huggingFaceRequest struct {
	Inputs  []string           `json:"inputs"`
	Options huggingFaceOptions `json:"options"`
}

type huggingFaceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// HuggingFaceClient 调用HuggingFace Inference feature-extraction接口的客户端
type HuggingFaceClient struct {
	token      string       // 访问令牌
	endpoint   string       // 完整请求地址
	model      string       // 模型名称
	httpClient *http.Client // HTTP客户端
	maxRetries int          // 最大重试次数
}

// NewHuggingFaceClient 创建新的HuggingFace嵌入客户端
func NewHuggingFaceClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 验证访问令牌
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = defaultHuggingFaceModel
	}

	base := cfg.BaseURL
	if base == "" {
		base = defaultHuggingFaceEndpoint
	}
	endpoint := strings.TrimRight(base, "/") + "/" + model + "/pipeline/feature-extraction"

	return &HuggingFaceClient{
		token:      cfg.APIKey,
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name 返回模型名称
func (c *HuggingFaceClient) Name() string {
	return c.model
}

// Fingerprint 返回服务和请求地址组成的配置标识，地址中已包含模型
func (c *HuggingFaceClient) Fingerprint() string {
	return "huggingface|" + c.endpoint
}

// Embed 生成单条文本的向量表示
func (c *HuggingFaceClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成文本的向量表示
func (c *HuggingFaceClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
		}
	}

	body, err := c.sendRequest(ctx, huggingFaceRequest{
		Inputs:  texts,
		Options: huggingFaceOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, err
	}

	vectors, err := decodeFeatures(body)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, NewEmbeddingError(ErrCodeBadResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(vectors)))
	}

	return vectors, nil
}

// sendRequest 发送API请求并返回响应体
func (c *HuggingFaceClient) sendRequest(ctx context.Context, reqData interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return nil, WrapError(err, ErrCodeInvalidRequest)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数退避重试
			select {
			case <-ctx.Done():
				return nil, WrapError(ctx.Err(), ErrCodeTimeout)
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
		if err != nil {
			return nil, WrapError(err, ErrCodeInvalidRequest)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = WrapError(err, ErrCodeNetworkError)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = WrapError(err, ErrCodeNetworkError)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		code := codeForStatus(resp.StatusCode)
		lastErr = NewEmbeddingError(code,
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, errorMessage(body)))
		// 客户端错误不重试，503表示模型正在加载
		if !retryable(code) {
			break
		}
	}

	return nil, lastErr
}

// decodeFeatures 解析feature-extraction的输出
// 句向量模型返回[文本][维度]，未池化的模型返回[文本][token][维度]，此时做均值池化
func decodeFeatures(body []byte) ([][]float32, error) {
	var pooled [][]float32
	if err := json.Unmarshal(body, &pooled); err == nil {
		for i, vec := range pooled {
			if len(vec) == 0 {
				return nil, NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("empty embedding for input %d", i))
			}
		}
		return pooled, nil
	}

	var tokens [][][]float32
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, WrapError(err, ErrCodeBadResponse)
	}

	result := make([][]float32, len(tokens))
	for i, seq := range tokens {
		if len(seq) == 0 || len(seq[0]) == 0 {
			return nil, NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("empty embedding for input %d", i))
		}
		mean := make([]float32, len(seq[0]))
		for _, tok := range seq {
			for j := range mean {
				if j < len(tok) {
					mean[j] += tok[j]
				}
			}
		}
		for j := range mean {
			mean[j] /= float32(len(seq))
		}
		result[i] = mean
	}
	return result, nil
}

// errorMessage 尝试从错误响应中提取消息
func errorMessage(body []byte) string {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != "" {
			return errResp.Error
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// 注册HuggingFace客户端
func init() {
	RegisterClient("huggingface", NewHuggingFaceClient)
}
