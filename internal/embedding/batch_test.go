package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/quote-search/internal/cache"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClient 记录调用次数的测试客户端，向量第一维为文本长度
type countingClient struct {
	mu      sync.Mutex
	texts   []string
	calls   int32
	failOn  string
	slowFor time.Duration
}

func (c *countingClient) Name() string { return "counting" }

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.slowFor > 0 {
		select {
		case <-time.After(c.slowFor):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if c.failOn != "" && strings.Contains(text, c.failOn) {
			return nil, errors.New("provider rejected input")
		}
		out[i] = []float32{float32(len(text)), 1}
	}
	c.mu.Lock()
	c.texts = append(c.texts, texts...)
	c.mu.Unlock()
	return out, nil
}

func TestBatchProcessorPreservesOrder(t *testing.T) {
	client := &countingClient{}
	processor := NewBatchProcessor(client, 2, 3)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "ggggggg"}
	vecs, err := processor.Process(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0])
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&client.calls))
}

func TestBatchProcessorEmptyInput(t *testing.T) {
	processor := NewBatchProcessor(&countingClient{}, 0, 0)

	vecs, err := processor.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)

	_, err = processor.Process(context.Background(), []string{"ok", ""})
	var embErr EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, ErrCodeEmptyInput, embErr.Code)
}

func TestBatchProcessorAbortsOnError(t *testing.T) {
	client := &countingClient{failOn: "bad"}
	processor := NewBatchProcessor(client, 1, 2)

	vecs, err := processor.Process(context.Background(), []string{"one", "bad two", "three"})
	assert.Nil(t, vecs)
	require.Error(t, err)

	var embErr EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, err.Error(), "provider rejected input")
}

func TestBatchProcessorCancelled(t *testing.T) {
	client := &countingClient{slowFor: time.Second}
	processor := NewBatchProcessor(client, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := processor.Process(ctx, []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSplitIntoBatches(t *testing.T) {
	assert.Equal(t, []batchRange{{0, 2}, {2, 4}, {4, 5}}, splitIntoBatches(5, 2))
	assert.Empty(t, splitIntoBatches(0, 3))
	assert.Len(t, splitIntoBatches(3, 0), 3)
}

func newQuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCachedClientMemory(t *testing.T) {
	c, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	inner := &countingClient{}
	client := NewCachedClient(inner, c, 0, newQuietLogger())
	ctx := context.Background()

	first, err := client.Embed(ctx, "Carpe diem.")
	require.NoError(t, err)
	second, err := client.Embed(ctx, "Carpe diem.")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, "counting", client.Name())

	// 批量请求只发送未命中的文本
	vecs, err := client.EmbedBatch(ctx, []string{"Carpe diem.", "new text", "Carpe diem."})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, first, vecs[0])
	assert.Equal(t, first, vecs[2])
	assert.Equal(t, float32(len("new text")), vecs[1][0])
	assert.Equal(t, []string{"Carpe diem.", "new text"}, inner.texts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestCachedClientRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(cache.Config{Type: "redis", RedisAddr: mr.Addr(), Prefix: "qs"})
	require.NoError(t, err)
	defer c.Close()

	inner := &countingClient{}
	client := NewCachedClient(inner, c, time.Hour, newQuietLogger())
	ctx := context.Background()

	_, err = client.Embed(ctx, "Veni, vidi, vici.")
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	// 新的包装实例共享同一个Redis缓存
	again := NewCachedClient(inner, c, time.Hour, newQuietLogger())
	_, err = again.Embed(ctx, "Veni, vidi, vici.")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
}

func TestCachedClientPropagatesErrors(t *testing.T) {
	c, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	client := NewCachedClient(&countingClient{failOn: "x"}, c, 0, newQuietLogger())
	_, err = client.EmbedBatch(context.Background(), []string{"ok", "x"})
	assert.Error(t, err)

	// 失败的批次不写入缓存
	_, found, err := c.Get(context.Background(), client.key("ok"))
	require.NoError(t, err)
	assert.False(t, found)
}

// newMemoryCache 创建测试用内存缓存
func newMemoryCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestCachedClientDropsCorruptEntries(t *testing.T) {
	c := newMemoryCache(t)
	inner := &countingClient{}
	client := NewCachedClient(inner, c, 0, newQuietLogger())
	ctx := context.Background()

	key := client.key("Carpe diem.")
	require.NoError(t, c.Set(ctx, key, []byte{1, 2, 3}, 0))

	_, ok := client.lookup(ctx, key)
	assert.False(t, ok)

	// 损坏的条目被删除
	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	vec, err := client.Embed(ctx, "Carpe diem.")
	require.NoError(t, err)
	assert.Equal(t, float32(len("Carpe diem.")), vec[0])
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	decoded, ok := decodeVector(encodeVector(vec))
	require.True(t, ok)
	assert.Equal(t, vec, decoded)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}
