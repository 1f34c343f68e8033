package document

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Content 表示分段后的一个文本块
type Content struct {
	Text  string // 分块文本，是原文的逐字子串
	Index int    // 分块序号
}

// SplitterConfig 分段器配置
// 长度均按字符(rune)计算
type SplitterConfig struct {
	Separator    string // 分隔符，优先在此处断开
	ChunkSize    int    // 分块大小上限
	ChunkOverlap int    // 相邻分块的重叠上限
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		Separator:    "\n",
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Validate 校验配置
func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// TextSplitter 文本分段器
// 短文本原样返回，超长文本在分隔符处切成有重叠的分块
type TextSplitter struct {
	config SplitterConfig
}

// NewTextSplitter 创建新的文本分段器
func NewTextSplitter(config SplitterConfig) *TextSplitter {
	return &TextSplitter{
		config: config,
	}
}

// Config 返回分段器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文本分割成内容段落
// 不修改文本内容，也不去除空白
func (s *TextSplitter) Split(text string) ([]Content, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return []Content{}, nil
	}

	var chunks []string
	switch {
	case utf8.RuneCountInString(text) <= s.config.ChunkSize:
		chunks = []string{text}
	case s.config.Separator == "":
		chunks = s.splitByLength(text)
	default:
		chunks = s.mergePieces(strings.Split(text, s.config.Separator))
	}

	contents := make([]Content, 0, len(chunks))
	for i, chunk := range chunks {
		contents = append(contents, Content{
			Text:  chunk,
			Index: i,
		})
	}

	return contents, nil
}

// mergePieces 将分隔符切出的片段合并为不超过ChunkSize的分块
// 新分块以上一分块末尾不超过ChunkOverlap长度的片段开头
func (s *TextSplitter) mergePieces(pieces []string) []string {
	sep := s.config.Separator
	sepLen := utf8.RuneCountInString(sep)

	var chunks []string
	var current []string
	total := 0 // strings.Join(current, sep) 的长度

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, sep))
		}
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)

		// 单个片段已超长，只能按长度硬切
		if pieceLen > s.config.ChunkSize {
			flush()
			current, total = nil, 0
			chunks = append(chunks, s.splitByLength(piece)...)
			continue
		}

		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}

		if len(current) > 0 && total+extra+pieceLen > s.config.ChunkSize {
			flush()

			// 从头部丢弃片段，直到剩余部分可以作为重叠保留
			for total > s.config.ChunkOverlap || (total > 0 && total+sepLen+pieceLen > s.config.ChunkSize) {
				total -= utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}

		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, piece)
		total += pieceLen
	}

	flush()
	return chunks
}

// splitByLength 按固定长度分割文本，相邻窗口恰好重叠ChunkOverlap个字符
func (s *TextSplitter) splitByLength(text string) []string {
	runes := []rune(text)
	step := s.config.ChunkSize - s.config.ChunkOverlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.config.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, string(runes[start:end]))

		// 如果已经到达文本末尾，跳出循环
		if end == len(runes) {
			break
		}
	}

	return chunks
}
