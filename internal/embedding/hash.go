package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	// 默认哈希向量维度
	defaultHashDimensions = 256
)

// HashClient 基于特征哈希的离线嵌入客户端
// 向量只反映词和字符三元组的重叠，不具备语义能力，适合测试和离线运行
type HashClient struct {
	dimensions int
}

// NewHashClient 创建哈希嵌入客户端
func NewHashClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	dim := cfg.Dimensions
	if dim == 0 {
		dim = defaultHashDimensions
	}
	if dim < 0 {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("invalid dimension: %d", dim))
	}

	return &HashClient{dimensions: dim}, nil
}

// Name 返回模型名称
func (c *HashClient) Name() string {
	return fmt.Sprintf("hash-%d", c.dimensions)
}

// Embed 生成单条文本的向量表示
func (c *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(err, ErrCodeTimeout)
	}
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vec := make([]float32, c.dimensions)
	features := hashFeatures(text)
	if len(features) == 0 {
		// 只有标点或空白时使用原文作为唯一特征
		features = []string{text}
	}
	for _, f := range features {
		c.add(vec, f)
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch 批量生成多条文本的向量表示
func (c *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

// add 将一个特征累加到向量中，符号由哈希的最高位决定
func (c *HashClient) add(vec []float32, feature string) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()

	idx := int(sum % uint32(c.dimensions))
	if sum&(1<<31) != 0 {
		vec[idx] -= 1
	} else {
		vec[idx] += 1
	}
}

// hashFeatures 提取小写词和词内字符三元组
func hashFeatures(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	features := make([]string, 0, len(words)*4)
	for _, w := range words {
		features = append(features, "w:"+w)
		runes := []rune("^" + w + "$")
		for i := 0; i+3 <= len(runes); i++ {
			features = append(features, "t:"+string(runes[i:i+3]))
		}
	}
	return features
}

// normalize 将向量归一化为单位长度
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// 注册哈希客户端
func init() {
	RegisterClient("hash", NewHashClient)
}
