package vectordb

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// 常用错误定义
var (
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
	ErrDuplicateID      = errors.New("duplicate document ID")
	ErrInvalidK         = errors.New("k must be positive")
)

// documentNamespace 文档ID的UUID命名空间
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("quote-search/text-unit"))

// Document 索引中的文本单元
// 包含向量表示及其来源信息
type Document struct {
	ID         string    // 唯一标识符
	Position   int       // 索引顺序，距离相同时按此排序
	QuoteIndex int       // 来源引语的序号
	Chunk      int       // 在来源引语中的分块序号
	Text       string    // 原始文本内容
	Vector     []float32 // 向量表示
}

// DocumentID 为文本单元生成确定性的ID
// 相同来源位置和文本总是得到相同的ID
func DocumentID(quoteIndex, chunk int, text string) string {
	name := fmt.Sprintf("%d:%d:%s", quoteIndex, chunk, text)
	return uuid.NewSHA1(documentNamespace, []byte(name)).String()
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦距离，1 - 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积，转换为 1 - 点积 作为距离
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// ParseDistanceType 解析距离类型名称
func ParseDistanceType(name string) (DistanceType, error) {
	switch DistanceType(name) {
	case Cosine, DotProduct, Euclidean:
		return DistanceType(name), nil
	case "":
		return Cosine, nil
	default:
		return "", fmt.Errorf("unsupported distance type: %s", name)
	}
}

// SearchResult 搜索结果
type SearchResult struct {
	Document Document // 文档对象
	Distance float32  // 与查询向量的距离，越小越相似
}

// Repository 向量仓库接口
// 索引只在内存中存在，构建完成后只读
type Repository interface {
	// AddBatch 批量添加文档，任一文档无效时不添加任何文档
	AddBatch(docs []Document) error

	// Search 返回距离最近的 min(k, n) 个文档，按距离升序，距离相同时按Position升序
	Search(vector []float32, k int) ([]SearchResult, error)

	// Count 获取文档总数
	Count() (int, error)

	// GetDimension 返回向量维数，尚未添加文档时为0
	GetDimension() int

	// Close 释放资源
	Close() error
}

// Config 向量仓库配置
type Config struct {
	Type         string       // 仓库类型，"memory" 或 "faiss"
	Dimension    int          // 向量维度，0表示由第一批文档决定
	DistanceType DistanceType // 距离计算类型
}

// Factory 向量仓库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量仓库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量仓库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量仓库实例
func NewRepository(config Config) (Repository, error) {
	distType, err := ParseDistanceType(string(config.DistanceType))
	if err != nil {
		return nil, err
	}
	config.DistanceType = distType

	if config.Dimension < 0 {
		return nil, fmt.Errorf("invalid dimension: %d", config.Dimension)
	}

	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		if config.Type != "" {
			return nil, fmt.Errorf("unsupported vector repository type: %s", config.Type)
		}
		// 默认使用内存实现
		factory = NewMemoryRepository
	}
	return factory(config)
}
