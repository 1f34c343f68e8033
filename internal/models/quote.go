package models

// Quote 从名言文件中解析出的一条名言
// 解析后不可修改
type Quote struct {
	Text     string                 // 名言原文
	Position int                    // 在源文件中的顺序
	Extra    map[string]interface{} // 其余字段（来源、作者等），核心逻辑不使用
}

// TextUnit 实际被嵌入和索引的文本单元
// 可能是整条名言，也可能是超长名言的一个分块
type TextUnit struct {
	Text       string // 原文的逐字子串
	QuoteIndex int    // 来源名言的下标
	Chunk      int    // 在来源名言内的分块序号
}

// SearchResult 一条查询结果
type SearchResult struct {
	Text       string  // 匹配的文本
	Distance   float32 // 与查询向量的距离，越小越相关
	QuoteIndex int     // 来源名言的下标
}

// Relevance 将距离转换为用于展示的相关度
// 公式为 1 - distance/2，并截断到[0, 1]
// 向量在入库时已归一化，距离落在[0, 2]内
func (r SearchResult) Relevance() float64 {
	rel := 1 - float64(r.Distance)/2
	if rel < 0 {
		return 0
	}
	if rel > 1 {
		return 1
	}
	return rel
}
