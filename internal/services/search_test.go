package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/quote-search/internal/document"
	"github.com/fyerfyer/quote-search/internal/embedding"
	"github.com/fyerfyer/quote-search/internal/models"
	"github.com/fyerfyer/quote-search/internal/quotes"
	"github.com/fyerfyer/quote-search/internal/vectordb"
	"github.com/fyerfyer/quote-search/pkg/storage"
)

// mockEmbedder 基于testify/mock的嵌入客户端
type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	vecs, _ := args.Get(0).([][]float32)
	return vecs, args.Error(1)
}

func (m *mockEmbedder) Name() string { return "mock" }

// tableEmbedder 按文本查表返回固定向量，用于模拟语义相近的文本
type tableEmbedder struct {
	vectors map[string][]float32
}

func (e *tableEmbedder) Name() string { return "table" }

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := e.vectors[text]
	if !ok {
		return nil, embedding.NewEmbeddingError(embedding.ErrCodeInvalidRequest, "unknown text: "+text)
	}
	return vec, nil
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newHashSearcher(t *testing.T, opts ...SearcherOption) (*QuoteSearcher, vectordb.Repository) {
	t.Helper()
	embedder, err := embedding.NewClient("hash")
	require.NoError(t, err)
	repo, err := vectordb.NewRepository(vectordb.Config{Type: "memory"})
	require.NoError(t, err)
	opts = append([]SearcherOption{WithLogger(quietLogger())}, opts...)
	return NewQuoteSearcher(embedder, repo, opts...), repo
}

func makeQuotes(texts ...string) []models.Quote {
	qs := make([]models.Quote, len(texts))
	for i, text := range texts {
		qs[i] = models.Quote{Text: text, Position: i}
	}
	return qs
}

var sampleQuotes = []string{
	"Carpe diem.",
	"Veni, vidi, vici.",
	"Alea iacta est.",
	"Cogito, ergo sum.",
	"Memento mori.",
	"Tempus fugit.",
	"Amor vincit omnia.",
}

// TestSearchSelfQuery 每条名言查询自身时排在第一位
func TestSearchSelfQuery(t *testing.T) {
	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes(sampleQuotes...)))
	assert.Equal(t, len(sampleQuotes), searcher.Size())

	for i, text := range sampleQuotes {
		results, err := searcher.Search(ctx, text, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, text, results[0].Text)
		assert.Equal(t, i, results[0].QuoteIndex)
		assert.InDelta(t, 0, results[0].Distance, 1e-5)
		assert.InDelta(t, 1.0, results[0].Relevance(), 1e-5)
	}
}

// TestSearchResultCountAndOrder 结果数量为 min(k, n) 且按距离升序
func TestSearchResultCountAndOrder(t *testing.T) {
	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes(sampleQuotes...)))

	for _, k := range []int{1, 3, len(sampleQuotes), len(sampleQuotes) + 5} {
		results, err := searcher.Search(ctx, "time flies", k)
		require.NoError(t, err)

		want := k
		if want > len(sampleQuotes) {
			want = len(sampleQuotes)
		}
		assert.Len(t, results, want)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Relevance(), 0.0)
			assert.LessOrEqual(t, r.Relevance(), 1.0)
		}
	}
}

// TestSearchFewerQuotesThanK 两条名言、k=5时返回2条
func TestSearchFewerQuotesThanK(t *testing.T) {
	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.", "Memento mori.")))

	results, err := searcher.Search(ctx, "remember", 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// TestSearchSemanticScenario 语义相近的查询命中对应名言
func TestSearchSemanticScenario(t *testing.T) {
	embedder := &tableEmbedder{vectors: map[string][]float32{
		"Carpe diem.":       {0.9, 0.1, 0.0},
		"Veni, vidi, vici.": {0.0, 1.0, 0.1},
		"Memento mori.":     {0.1, 0.0, 1.0},
		"seize the day":     {1.0, 0.2, 0.0},
	}}
	repo, err := vectordb.NewRepository(vectordb.Config{Type: "memory"})
	require.NoError(t, err)
	searcher := NewQuoteSearcher(embedder, repo, WithLogger(quietLogger()))

	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.", "Veni, vidi, vici.", "Memento mori.")))

	results, err := searcher.Search(ctx, "seize the day", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Carpe diem.", results[0].Text)
	assert.Greater(t, results[0].Relevance(), results[1].Relevance())
}

// TestSearchDeterministic 相同输入得到完全相同的结果
func TestSearchDeterministic(t *testing.T) {
	ctx := context.Background()
	run := func() []models.SearchResult {
		searcher, _ := newHashSearcher(t)
		require.NoError(t, searcher.Build(ctx, makeQuotes(sampleQuotes...)))
		results, err := searcher.Search(ctx, "I think therefore I am", 4)
		require.NoError(t, err)
		return results
	}

	assert.Equal(t, run(), run())
}

// TestBuildEmptyInput 空名言列表和全空白名言都视为格式错误
func TestBuildEmptyInput(t *testing.T) {
	ctx := context.Background()

	searcher, _ := newHashSearcher(t)
	err := searcher.Build(ctx, nil)
	assert.ErrorIs(t, err, models.ErrMalformedInput)
	assert.False(t, searcher.Built())

	searcher, _ = newHashSearcher(t)
	err = searcher.Build(ctx, makeQuotes("", "   ", "\n"))
	assert.ErrorIs(t, err, models.ErrMalformedInput)
}

// TestBuildDropsBlankUnits 空白名言被丢弃，其余正常建索引
func TestBuildDropsBlankUnits(t *testing.T) {
	searcher, repo := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.", "  ", "Memento mori.")))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := searcher.Search(ctx, "Memento mori.", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, results[0].QuoteIndex)
}

// TestBuildOnlyOnce 索引建立后不可再次构建
func TestBuildOnlyOnce(t *testing.T) {
	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.")))
	assert.ErrorIs(t, searcher.Build(ctx, makeQuotes("Memento mori.")), models.ErrAlreadyBuilt)
}

// TestSearchBeforeBuild 未建立索引时查询返回错误
func TestSearchBeforeBuild(t *testing.T) {
	embedder := new(mockEmbedder)
	repo, err := vectordb.NewRepository(vectordb.Config{})
	require.NoError(t, err)
	searcher := NewQuoteSearcher(embedder, repo, WithLogger(quietLogger()))

	_, err = searcher.Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, models.ErrNotBuilt)
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

// TestSearchInvalidQuery 空查询和非正k被拒绝
func TestSearchInvalidQuery(t *testing.T) {
	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.")))

	_, err := searcher.Search(ctx, "   ", 5)
	assert.ErrorIs(t, err, models.ErrInvalidQuery)

	_, err = searcher.Search(ctx, "day", 0)
	assert.ErrorIs(t, err, models.ErrInvalidQuery)
}

// TestBuildEmbeddingFailure 嵌入失败时整体失败且不留下部分索引
func TestBuildEmbeddingFailure(t *testing.T) {
	embedder := new(mockEmbedder)
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, errors.New("quota exceeded"))

	repo, err := vectordb.NewRepository(vectordb.Config{})
	require.NoError(t, err)
	searcher := NewQuoteSearcher(embedder, repo, WithLogger(quietLogger()), WithBatchSize(1), WithWorkers(1))

	err = searcher.Build(context.Background(), makeQuotes("Carpe diem.", "Memento mori."))
	require.Error(t, err)

	var embErr embedding.EmbeddingError
	assert.ErrorAs(t, err, &embErr)
	assert.Contains(t, err.Error(), "quota exceeded")

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.False(t, searcher.Built())

	_, err = searcher.Search(context.Background(), "day", 1)
	assert.ErrorIs(t, err, models.ErrNotBuilt)
}

// TestSearchEmbeddingFailureRecoverable 查询嵌入失败后服务仍然可用
func TestSearchEmbeddingFailureRecoverable(t *testing.T) {
	embedder := new(mockEmbedder)
	embedder.On("EmbedBatch", mock.Anything, []string{"Carpe diem."}).
		Return([][]float32{{1, 0}}, nil)
	embedder.On("Embed", mock.Anything, "offline").
		Return(nil, embedding.NewEmbeddingError(embedding.ErrCodeNetworkError, embedding.ErrMsgNetworkError))
	embedder.On("Embed", mock.Anything, "today").
		Return([]float32{0.8, 0.2}, nil)

	repo, err := vectordb.NewRepository(vectordb.Config{})
	require.NoError(t, err)
	searcher := NewQuoteSearcher(embedder, repo, WithLogger(quietLogger()))
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.")))

	_, err = searcher.Search(ctx, "offline", 5)
	var embErr embedding.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, embedding.ErrCodeNetworkError, embErr.Code)

	results, err := searcher.Search(ctx, "today", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Carpe diem.", results[0].Text)
	embedder.AssertExpectations(t)
}

// TestBuildFromMissingFile 文件不存在时在任何嵌入调用之前失败
func TestBuildFromMissingFile(t *testing.T) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	loader := quotes.NewLoader(store, quietLogger())

	embedder := new(mockEmbedder)
	repo, err := vectordb.NewRepository(vectordb.Config{})
	require.NoError(t, err)
	searcher := NewQuoteSearcher(embedder, repo, WithLogger(quietLogger()))

	err = searcher.BuildFrom(context.Background(), loader, "missing.json")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Contains(t, err.Error(), "missing.json")
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	embedder.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

// TestBuildFromFile 从JSON文件加载并检索
func TestBuildFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"quotes":[{"text":"Carpe diem.","author":"Horace"},{"text":"Memento mori."}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quotes.json"), []byte(content), 0o644))

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: dir})
	require.NoError(t, err)
	loader := quotes.NewLoader(store, quietLogger())

	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.BuildFrom(ctx, loader, "quotes.json"))

	results, err := searcher.Search(ctx, "Carpe diem.", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Carpe diem.", results[0].Text)
}

// TestBuildLongQuoteIsChunked 超长名言被切分为多个单元，都指向同一条名言
func TestBuildLongQuoteIsChunked(t *testing.T) {
	lines := make([]string, 6)
	for i := range lines {
		lines[i] = strings.Repeat(string(rune('a'+i)), 30)
	}
	long := strings.Join(lines, "\n")

	searcher, repo := newHashSearcher(t, WithSplitter(document.SplitterConfig{
		Separator:    "\n",
		ChunkSize:    70,
		ChunkOverlap: 31,
	}))
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes("Carpe diem.", long)))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Greater(t, count, 2)

	results, err := searcher.Search(ctx, lines[5], count)
	require.NoError(t, err)
	for _, r := range results {
		if r.QuoteIndex == 1 {
			assert.Contains(t, long, r.Text)
		}
	}
	assert.Equal(t, 1, results[0].QuoteIndex)
}

// TestConcurrentSearch 建立索引后可并发查询
func TestConcurrentSearch(t *testing.T) {
	searcher, _ := newHashSearcher(t)
	ctx := context.Background()
	require.NoError(t, searcher.Build(ctx, makeQuotes(sampleQuotes...)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := sampleQuotes[i%len(sampleQuotes)]
			results, err := searcher.Search(ctx, text, 1)
			assert.NoError(t, err)
			if assert.Len(t, results, 1) {
				assert.Equal(t, text, results[0].Text)
			}
		}(i)
	}
	wg.Wait()
}
