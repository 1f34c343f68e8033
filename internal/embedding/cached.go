package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/fyerfyer/quote-search/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 为嵌入客户端增加向量缓存
// 相同配置下的相同文本只请求一次
type CachedClient struct {
	client Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
	scope  string // 配置标识的摘要，不同配置的向量互不可见
}

// NewCachedClient 创建带缓存的嵌入客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	scope := sha256.Sum256([]byte(Fingerprint(client)))
	return &CachedClient{
		client: client,
		cache:  c,
		ttl:    ttl,
		logger: logger,
		scope:  hex.EncodeToString(scope[:8]),
	}
}

// Name 返回被包装客户端的模型名称
func (c *CachedClient) Name() string {
	return c.client.Name()
}

// Fingerprint 返回被包装客户端的配置标识
func (c *CachedClient) Fingerprint() string {
	return Fingerprint(c.client)
}

// Check 被包装客户端支持时检查服务是否可用
func (c *CachedClient) Check(ctx context.Context) error {
	if checker, ok := c.client.(Checker); ok {
		return checker.Check(ctx)
	}
	return nil
}

// Embed 优先从缓存读取向量
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch 只对未命中缓存的文本发起请求，结果保持输入顺序
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			result[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	vecs, err := c.client.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, NewEmbeddingError(ErrCodeBadResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(missTexts), len(vecs)))
	}

	for j, idx := range missIdx {
		result[idx] = vecs[j]
		c.store(ctx, keys[idx], vecs[j])
	}

	c.logger.WithFields(logrus.Fields{
		"model":  c.client.Name(),
		"hits":   len(texts) - len(missTexts),
		"misses": len(missTexts),
	}).Debug("Embedding cache batch lookup")

	return result, nil
}

// key 生成缓存键，文本使用摘要避免键过长
func (c *CachedClient) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.GenerateCacheKey("emb", c.client.Name(), c.scope, hex.EncodeToString(sum[:]))
}

// lookup 读取缓存，缓存故障只记录日志并视为未命中
func (c *CachedClient) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Embedding cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	vec, ok := decodeVector(data)
	if !ok {
		c.logger.WithField("key", key).Warn("Discarding corrupt embedding cache entry")
		if err := c.cache.Delete(ctx, key); err != nil {
			c.logger.WithError(err).Warn("Embedding cache delete failed")
		}
		return nil, false
	}
	return vec, true
}

// store 写入缓存，失败不影响主流程
func (c *CachedClient) store(ctx context.Context, key string, vec []float32) {
	if err := c.cache.Set(ctx, key, encodeVector(vec), c.ttl); err != nil {
		c.logger.WithError(err).Warn("Embedding cache write failed")
	}
}

// encodeVector 以小端float32序列编码向量
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeVector 解码向量
func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, true
}
