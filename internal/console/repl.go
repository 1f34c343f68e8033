package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fyerfyer/quote-search/internal/embedding"
	"github.com/fyerfyer/quote-search/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTopK 默认返回的结果数量
	DefaultTopK = 5

	separatorWidth = 80
	maxLineBytes   = 1024 * 1024
)

// 退出命令，不区分大小写
var exitCommands = map[string]struct{}{
	"exit": {},
	"quit": {},
	"q":    {},
}

// Searcher 名言检索接口
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.SearchResult, error)
}

// REPL 交互式查询循环
type REPL struct {
	searcher Searcher
	topK     int
	logger   *logrus.Logger
}

// Option REPL配置选项
type Option func(*REPL)

// WithTopK 设置每次查询返回的结果数量
func WithTopK(k int) Option {
	return func(r *REPL) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(r *REPL) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewREPL 创建交互式查询循环
func NewREPL(searcher Searcher, opts ...Option) *REPL {
	r := &REPL{
		searcher: searcher,
		topK:     DefaultTopK,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 读取查询并输出结果，直到输入退出命令、输入结束或上下文取消
// 单次查询失败只输出错误信息，循环继续
func (r *REPL) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	done := make(chan struct{})
	defer close(done)
	lines, scanErr := readLines(in, done)

	fmt.Fprintln(out, "Quote search initialized successfully!")
	fmt.Fprintln(out, "Type 'exit' to quit.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Enter your search query (or type 'exit', 'quit', 'q' to quit):")

	for {
		fmt.Fprint(out, "\nSearch: ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\n\nExiting quote search. Goodbye!")
			return nil
		case line, ok = <-lines:
		}

		if !ok {
			fmt.Fprintln(out, "\n\nExiting quote search. Goodbye!")
			if err := <-scanErr; err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		}

		query := strings.TrimSpace(line)
		if _, exit := exitCommands[strings.ToLower(query)]; exit {
			fmt.Fprintln(out, "\nExiting quote search. Goodbye!")
			return nil
		}
		if query == "" {
			fmt.Fprintln(out, "Please enter a search query or type 'exit' to quit.")
			continue
		}

		r.handle(ctx, query, out)
	}
}

// handle 执行一次查询并输出结果
func (r *REPL) handle(ctx context.Context, query string, out io.Writer) {
	results, err := r.searcher.Search(ctx, query, r.topK)
	if err != nil {
		entry := r.logger.WithError(err).WithField("query", query)
		var embErr embedding.EmbeddingError
		if errors.As(err, &embErr) {
			entry = entry.WithField("code", embErr.Code)
		}
		entry.Debug("Query failed")
		fmt.Fprintf(out, "An error occurred: %s\n", describeError(err))
		return
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No matching quotes found.")
		fmt.Fprintln(out)
		return
	}

	fmt.Fprintln(out, "\nTop matching quotes (type 'exit' to quit):")
	for i, res := range results {
		fmt.Fprintln(out, FormatResult(i+1, res))
	}
	fmt.Fprintln(out, "\n"+strings.Repeat("-", separatorWidth))
}

// describeError 返回展示给用户的错误描述，不包含内部错误码
func describeError(err error) string {
	var embErr embedding.EmbeddingError
	if !errors.As(err, &embErr) {
		return err.Error()
	}
	if embErr.Err != nil {
		return fmt.Sprintf("%s: %v", embErr.Message, embErr.Err)
	}
	return embErr.Message
}

// FormatResult 格式化单条结果
func FormatResult(rank int, res models.SearchResult) string {
	return fmt.Sprintf("%d. %s (Relevance: %.1f%%)", rank, res.Text, res.Relevance()*100)
}

// readLines 在独立的goroutine中逐行读取输入
// 输入结束时关闭lines，并通过errc返回读取错误；done关闭后停止发送
func readLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errc <- scanner.Err()
	}()

	return lines, errc
}
