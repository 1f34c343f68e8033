package quotes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/quote-search/internal/models"
	"github.com/fyerfyer/quote-search/pkg/storage"
)

// Loader 名言文件加载器
// 只负责读取和校验，不做嵌入和索引
type Loader struct {
	storage storage.Storage
	logger  *logrus.Logger
}

// NewLoader 创建加载器
func NewLoader(s storage.Storage, logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{
		storage: s,
		logger:  logger,
	}
}

// Load 读取并解析名言文件，保持源文件顺序
func (l *Loader) Load(ctx context.Context, name string) ([]models.Quote, error) {
	data, err := storage.ReadAll(ctx, l.storage, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load quotes from %s: %w", name, models.ErrNotFound)
		}
		return nil, fmt.Errorf("load quotes from %s: %w", name, err)
	}

	quotes, err := ParseQuotes(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load quotes from %s: %w", name, err)
	}

	l.logger.WithFields(logrus.Fields{
		"source": name,
		"count":  len(quotes),
	}).Info("Quotes loaded")

	return quotes, nil
}

// ParseQuotes 解析形如 {"quotes":[{"text":"..."}]} 的文档
// 每个元素至少要有字符串类型的text字段，其他字段保留在Extra中
func ParseQuotes(r io.Reader) ([]models.Quote, error) {
	dec := json.NewDecoder(r)
	var root map[string]json.RawMessage
	if err := dec.Decode(&root); err != nil {
		return nil, malformed("invalid JSON document: %v", err)
	}
	// 文档之后只允许空白
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("trailing data after JSON document")
	}
	if root == nil {
		return nil, malformed("top-level value must be an object")
	}

	raw, ok := root["quotes"]
	if !ok {
		return nil, malformed(`missing "quotes" field`)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return nil, malformed(`"quotes" must be a list`)
	}

	quotes := make([]models.Quote, 0, len(entries))
	for i, entry := range entries {
		var fields map[string]interface{}
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			return nil, malformed("quote %d must be an object", i)
		}

		text, ok := fields["text"].(string)
		if !ok {
			return nil, malformed(`quote %d has no "text" string`, i)
		}
		delete(fields, "text")

		quotes = append(quotes, models.Quote{
			Text:     text,
			Position: i,
			Extra:    fields,
		})
	}

	return quotes, nil
}

// malformed 构造带原因的格式错误
func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrMalformedInput, fmt.Sprintf(format, args...))
}
