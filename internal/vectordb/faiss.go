package vectordb

import (
	"fmt"
	"math"
	"sync"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissRepository 基于Faiss扁平索引的向量仓库
// 索引只保存在内存中，检索结果与内存实现一致
type FaissRepository struct {
	mu           sync.RWMutex
	index        faiss.Index
	documents    []Document // 下标即Faiss中的标签
	ids          map[string]struct{}
	dimension    int
	distanceType DistanceType
}

// NewFaissRepository 创建新的Faiss向量仓库
// 维度为0时在第一次添加文档时创建索引
func NewFaissRepository(config Config) (Repository, error) {
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	repo := &FaissRepository{
		ids:          make(map[string]struct{}),
		dimension:    config.Dimension,
		distanceType: distType,
	}

	if config.Dimension > 0 {
		index, err := createFaissIndex(config.Dimension, distType)
		if err != nil {
			return nil, fmt.Errorf("failed to create Faiss index: %w", err)
		}
		repo.index = index
	}

	return repo, nil
}

// createFaissIndex 创建Faiss索引
// 向量已归一化，余弦和点积都使用内积度量
func createFaissIndex(dimension int, distType DistanceType) (faiss.Index, error) {
	var metric int
	switch distType {
	case Cosine, DotProduct:
		metric = faiss.MetricInnerProduct
	default:
		metric = faiss.MetricL2
	}
	return faiss.NewIndexFlat(dimension, metric)
}

// AddBatch 批量添加文档到仓库
func (r *FaissRepository) AddBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dim, err := validateBatch(docs, r.dimension, r.ids)
	if err != nil {
		return err
	}

	if r.index == nil {
		index, err := createFaissIndex(dim, r.distanceType)
		if err != nil {
			return fmt.Errorf("failed to create Faiss index: %w", err)
		}
		r.index = index
		r.dimension = dim
	}

	// Faiss要求连续存放的向量
	vectors := make([]float32, 0, len(docs)*dim)
	normalized := make([]Document, len(docs))
	for i, doc := range docs {
		doc.Vector = normalizeVector(doc.Vector)
		vectors = append(vectors, doc.Vector...)
		normalized[i] = doc
	}

	if err := r.index.Add(vectors); err != nil {
		return fmt.Errorf("failed to add vectors to Faiss index: %w", err)
	}

	for _, doc := range normalized {
		r.documents = append(r.documents, doc)
		if doc.ID != "" {
			r.ids[doc.ID] = struct{}{}
		}
	}

	return nil
}

// Search 检索距离最近的k个文档
// 对全部向量检索后重新稳定排序，保证距离相同时按Position排序
func (r *FaissRepository) Search(vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.index == nil || len(r.documents) == 0 {
		return []SearchResult{}, nil
	}
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	query := normalizeVector(vector)
	total := int64(len(r.documents))

	distances, labels, err := r.index.Search(query, total)
	if err != nil {
		return nil, fmt.Errorf("faiss search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(labels))
	for i, label := range labels {
		if label < 0 || label >= total {
			continue
		}
		results = append(results, SearchResult{
			Document: r.documents[label],
			Distance: r.toDistance(distances[i]),
		})
	}

	SortSearchResults(results)

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// toDistance 将Faiss返回的值转换为与内存实现一致的距离
func (r *FaissRepository) toDistance(raw float32) float32 {
	switch r.distanceType {
	case Cosine, DotProduct:
		// 内积即余弦相似度
		return 1 - raw
	default:
		// IndexFlatL2 返回平方距离
		if raw < 0 {
			raw = 0
		}
		return float32(math.Sqrt(float64(raw)))
	}
}

// Count 获取文档总数
func (r *FaissRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.documents), nil
}

// GetDimension 返回向量维数
func (r *FaissRepository) GetDimension() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dimension
}

// Close 释放Faiss索引
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil {
		r.index.Delete()
		r.index = nil
	}
	r.documents = nil
	return nil
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
