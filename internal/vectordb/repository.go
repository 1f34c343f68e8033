package vectordb

import (
	"fmt"
	"math"
	"sort"
)

// ComputeDistance 计算两个向量间的距离
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrInvalidDimension, len(v1), len(v2))
	}

	switch distType {
	case Cosine:
		return cosineDistance(v1, v2), nil
	case DotProduct:
		return 1 - dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 计算余弦距离
func cosineDistance(v1, v2 []float32) float32 {
	// 余弦相似度 = 点积 / (||v1|| * ||v2||)
	// 余弦距离 = 1 - 余弦相似度
	dot := dotProduct(v1, v2)
	norm1 := vectorNorm(v1)
	norm2 := vectorNorm(v2)

	if norm1 == 0 || norm2 == 0 {
		return 1.0
	}

	similarity := dot / (norm1 * norm2)
	// 处理浮点精度问题
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}

	return 1.0 - similarity
}

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// euclideanDistance 计算欧几里德距离
func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := 0; i < len(v1); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// vectorNorm 计算向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// normalizeVector 归一化向量（使其长度为1），返回新切片
func normalizeVector(v []float32) []float32 {
	result := make([]float32, len(v))
	norm := vectorNorm(v)
	if norm == 0 {
		copy(result, v) // 零向量无法归一化
		return result
	}

	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}

	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("vector component %d is not finite", i)
		}
	}

	return nil
}

// validateBatch 检查一批文档的向量维度和ID，返回批次确定的维度
func validateBatch(docs []Document, dimension int, seen map[string]struct{}) (int, error) {
	batchIDs := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		if dimension == 0 {
			dimension = len(doc.Vector)
		}
		if err := ValidateVector(doc.Vector, dimension); err != nil {
			return 0, fmt.Errorf("document %d: %w", i, err)
		}
		if doc.ID == "" {
			continue
		}
		if _, ok := seen[doc.ID]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateID, doc.ID)
		}
		if _, ok := batchIDs[doc.ID]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateID, doc.ID)
		}
		batchIDs[doc.ID] = struct{}{}
	}
	return dimension, nil
}

// SortSearchResults 按距离升序稳定排序，距离相同时按Position升序
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Document.Position < results[j].Document.Position
	})
}
