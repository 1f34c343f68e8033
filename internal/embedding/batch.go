package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchProcessor 批处理器
// 将大量文本分批后在工作池中并行嵌入
type BatchProcessor struct {
	client     Client // 嵌入客户端
	batchSize  int    // 每批处理的文本数量
	maxWorkers int    // 最大并行工作线程数
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16 // 默认批量大小
	}

	if maxWorkers <= 0 {
		maxWorkers = 4 // 默认工作线程数
	}

	return &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// Process 处理一批文本，结果与输入一一对应
// 任意批次失败都会取消剩余批次并返回第一个错误
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, NewEmbeddingError(ErrCodeEmptyInput, fmt.Sprintf("%s (index %d)", ErrMsgEmptyInput, i))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := splitIntoBatches(len(texts), p.batchSize)
	results := make([][]float32, len(texts))

	wp := workerpool.New(p.maxWorkers)
	var processingErr error
	var errOnce sync.Once
	fail := func(err error) {
		errOnce.Do(func() {
			processingErr = err
			cancel()
		})
	}

	for i, b := range batches {
		i, b := i, b // 捕获循环变量
		wp.Submit(func() {
			// 检查上下文是否已取消
			if ctx.Err() != nil {
				fail(WrapError(ctx.Err(), ErrCodeTimeout))
				return
			}

			vectors, err := p.client.EmbedBatch(ctx, texts[b.start:b.end])
			if err != nil {
				fail(WrapError(fmt.Errorf("batch %d: %w", i, err), ErrCodeServerError))
				return
			}
			if len(vectors) != b.end-b.start {
				fail(NewEmbeddingError(ErrCodeBadResponse,
					fmt.Sprintf("batch %d: expected %d embeddings, got %d", i, b.end-b.start, len(vectors))))
				return
			}

			// 每个批次写入互不重叠的区间
			copy(results[b.start:b.end], vectors)
		})
	}

	// 等待所有任务完成
	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}
	return results, nil
}

// batchRange 表示一个批次在输入中的区间
type batchRange struct {
	start int
	end   int
}

// splitIntoBatches 将输入按批次大小划分为区间
func splitIntoBatches(n int, batchSize int) []batchRange {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([]batchRange, 0, (n+batchSize-1)/batchSize)
	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}
		batches = append(batches, batchRange{start: i, end: end})
	}
	return batches
}
