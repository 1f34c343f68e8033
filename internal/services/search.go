package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyerfyer/quote-search/internal/document"
	"github.com/fyerfyer/quote-search/internal/embedding"
	"github.com/fyerfyer/quote-search/internal/models"
	"github.com/fyerfyer/quote-search/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// QuoteSource 名言数据来源
type QuoteSource interface {
	Load(ctx context.Context, name string) ([]models.Quote, error)
}

// QuoteSearcher 名言检索服务
// 一次性完成分段、嵌入和建索引，之后只读地回答相似度查询
type QuoteSearcher struct {
	embedder  embedding.Client       // 嵌入模型客户端
	vectorDB  vectordb.Repository    // 向量仓库
	splitter  *document.TextSplitter // 文本分段器
	batchSize int                    // 嵌入批大小
	workers   int                    // 嵌入并发数
	logger    *logrus.Logger

	mu    sync.RWMutex
	built bool
	units int
}

// SearcherOption 检索服务配置选项
type SearcherOption func(*QuoteSearcher)

// WithSplitter 设置文本分段配置
func WithSplitter(cfg document.SplitterConfig) SearcherOption {
	return func(s *QuoteSearcher) {
		s.splitter = document.NewTextSplitter(cfg)
	}
}

// WithBatchSize 设置嵌入批大小
func WithBatchSize(size int) SearcherOption {
	return func(s *QuoteSearcher) {
		s.batchSize = size
	}
}

// WithWorkers 设置嵌入并发数
func WithWorkers(workers int) SearcherOption {
	return func(s *QuoteSearcher) {
		s.workers = workers
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) SearcherOption {
	return func(s *QuoteSearcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewQuoteSearcher 创建检索服务实例
func NewQuoteSearcher(embedder embedding.Client, vectorDB vectordb.Repository, opts ...SearcherOption) *QuoteSearcher {
	s := &QuoteSearcher{
		embedder:  embedder,
		vectorDB:  vectorDB,
		splitter:  document.NewTextSplitter(document.DefaultSplitterConfig()),
		batchSize: 16,
		workers:   4,
		logger:    logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BuildFrom 从数据来源加载名言并建立索引
// 加载失败时不会发起任何嵌入请求
func (s *QuoteSearcher) BuildFrom(ctx context.Context, source QuoteSource, name string) error {
	quotes, err := source.Load(ctx, name)
	if err != nil {
		return err
	}
	return s.Build(ctx, quotes)
}

// Build 对名言分段、嵌入并建立索引
// 只能成功执行一次，任意嵌入失败都不会留下部分索引
func (s *QuoteSearcher) Build(ctx context.Context, quotes []models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.built {
		return models.ErrAlreadyBuilt
	}
	if len(quotes) == 0 {
		return fmt.Errorf("%w: no quotes to index", models.ErrMalformedInput)
	}

	start := time.Now()

	units, err := s.segment(quotes)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("%w: all %d quotes are empty", models.ErrMalformedInput, len(quotes))
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}

	processor := embedding.NewBatchProcessor(s.embedder, s.batchSize, s.workers)
	vectors, err := processor.Process(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed quotes: %w", embedding.WrapError(err, embedding.ErrCodeServerError))
	}

	docs := make([]vectordb.Document, len(units))
	for i, u := range units {
		docs[i] = vectordb.Document{
			ID:         vectordb.DocumentID(u.QuoteIndex, u.Chunk, u.Text),
			Position:   i,
			QuoteIndex: u.QuoteIndex,
			Chunk:      u.Chunk,
			Text:       u.Text,
			Vector:     vectors[i],
		}
	}

	if err := s.vectorDB.AddBatch(docs); err != nil {
		return fmt.Errorf("failed to index quotes: %w", err)
	}

	s.built = true
	s.units = len(units)

	s.logger.WithFields(logrus.Fields{
		"quotes":   len(quotes),
		"units":    len(units),
		"model":    s.embedder.Name(),
		"duration": time.Since(start).String(),
	}).Info("Quote index built")

	return nil
}

// segment 将名言切分为文本单元，丢弃空白单元
func (s *QuoteSearcher) segment(quotes []models.Quote) ([]models.TextUnit, error) {
	units := make([]models.TextUnit, 0, len(quotes))
	for i, q := range quotes {
		contents, err := s.splitter.Split(q.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split quote %d: %w", i, err)
		}

		for _, c := range contents {
			if strings.TrimSpace(c.Text) == "" {
				s.logger.WithFields(logrus.Fields{
					"quote": i,
					"chunk": c.Index,
				}).Warn("Skipping empty text unit")
				continue
			}
			units = append(units, models.TextUnit{
				Text:       c.Text,
				QuoteIndex: i,
				Chunk:      c.Index,
			})
		}

		if len(contents) == 0 {
			s.logger.WithField("quote", i).Warn("Skipping empty quote")
		}
	}
	return units, nil
}

// Search 返回与查询最相似的k条结果
// 结果按距离升序排列，数量为 min(k, 索引大小)
func (s *QuoteSearcher) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.built {
		return nil, models.ErrNotBuilt
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", models.ErrInvalidQuery)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", models.ErrInvalidQuery, k)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", embedding.WrapError(err, embedding.ErrCodeServerError))
	}

	hits, err := s.vectorDB.Search(vector, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]models.SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = models.SearchResult{
			Text:       hit.Document.Text,
			Distance:   hit.Distance,
			QuoteIndex: hit.Document.QuoteIndex,
		}
	}

	s.logger.WithFields(logrus.Fields{
		"query":   query,
		"k":       k,
		"results": len(results),
	}).Debug("Quote search completed")

	return results, nil
}

// Built 返回索引是否已建立
func (s *QuoteSearcher) Built() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.built
}

// Size 返回已索引的文本单元数量
func (s *QuoteSearcher) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.units
}
