package vectordb

import (
	"runtime"
	"sync"
)

// 文档数量达到该值时并行计算距离
const parallelThreshold = 1024

// MemoryRepository 内存向量仓库实现
// 对全部文档做精确的暴力检索
type MemoryRepository struct {
	mu        sync.RWMutex        // 读写锁，确保并发安全
	dimension int                 // 向量维度
	distType  DistanceType        // 距离计算类型
	documents []Document          // 按插入顺序保存的文档
	ids       map[string]struct{} // 已存在的文档ID
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}

	return &MemoryRepository{
		dimension: config.Dimension,
		distType:  distType,
		ids:       make(map[string]struct{}),
	}, nil
}

// AddBatch 批量添加文档
// 向量在入库时归一化，任一文档无效时整批拒绝
func (r *MemoryRepository) AddBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dim, err := validateBatch(docs, r.dimension, r.ids)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		doc.Vector = normalizeVector(doc.Vector)
		r.documents = append(r.documents, doc)
		if doc.ID != "" {
			r.ids[doc.ID] = struct{}{}
		}
	}
	r.dimension = dim

	return nil
}

// Search 精确检索距离最近的k个文档
func (r *MemoryRepository) Search(vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.documents) == 0 {
		return []SearchResult{}, nil
	}
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}

	query := normalizeVector(vector)
	results := make([]SearchResult, len(r.documents))

	threads := runtime.NumCPU()
	if len(r.documents) < parallelThreshold || threads <= 1 {
		r.scoreRange(query, results, 0, len(results))
	} else {
		r.parallelScore(query, results, threads)
	}

	SortSearchResults(results)

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// scoreRange 计算[start, end)区间内文档与查询向量的距离
func (r *MemoryRepository) scoreRange(query []float32, results []SearchResult, start, end int) {
	for i := start; i < end; i++ {
		doc := r.documents[i]
		// 维度已在入库和查询时校验
		dist, _ := ComputeDistance(query, doc.Vector, r.distType)
		results[i] = SearchResult{Document: doc, Distance: dist}
	}
}

// parallelScore 将距离计算分摊到多个goroutine
// 每个goroutine写入互不重叠的区间，结果顺序与插入顺序一致
func (r *MemoryRepository) parallelScore(query []float32, results []SearchResult, threads int) {
	perThread := (len(results) + threads - 1) / threads

	var wg sync.WaitGroup
	for start := 0; start < len(results); start += perThread {
		end := start + perThread
		if end > len(results) {
			end = len(results)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			r.scoreRange(query, results, start, end)
		}(start, end)
	}
	wg.Wait()
}

// Count 获取文档总数
func (r *MemoryRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.documents), nil
}

// GetDimension 返回向量维数
func (r *MemoryRepository) GetDimension() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dimension
}

// Close 释放文档
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents = nil
	r.ids = make(map[string]struct{})
	return nil
}

func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
