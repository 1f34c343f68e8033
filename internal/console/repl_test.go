package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/quote-search/internal/embedding"
	"github.com/fyerfyer/quote-search/internal/models"
)

// fakeSearcher 记录查询并返回预设结果
type fakeSearcher struct {
	queries []string
	ks      []int
	results map[string][]models.SearchResult
	errs    map[string]error
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) ([]models.SearchResult, error) {
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	return f.results[query], nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func runREPL(t *testing.T, s Searcher, input string, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	opts = append(opts, WithLogger(quietLogger()))
	err := NewREPL(s, opts...).Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	return out.String()
}

func TestREPLPrintsResults(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]models.SearchResult{
		"seize the day": {
			{Text: "Carpe diem.", Distance: 0.2},
			{Text: "Tempus fugit.", Distance: 1.0},
		},
	}}

	out := runREPL(t, searcher, "seize the day\nexit\n")

	assert.Contains(t, out, "Top matching quotes (type 'exit' to quit):")
	assert.Contains(t, out, "1. Carpe diem. (Relevance: 90.0%)")
	assert.Contains(t, out, "2. Tempus fugit. (Relevance: 50.0%)")
	assert.Contains(t, out, strings.Repeat("-", 80))
	assert.Contains(t, out, "Exiting quote search. Goodbye!")
	assert.Equal(t, []string{"seize the day"}, searcher.queries)
	assert.Equal(t, []int{DefaultTopK}, searcher.ks)
}

func TestREPLExitCommands(t *testing.T) {
	for _, cmd := range []string{"exit", "quit", "q", "EXIT", "  Quit  ", "Q"} {
		t.Run(cmd, func(t *testing.T) {
			searcher := &fakeSearcher{}
			out := runREPL(t, searcher, cmd+"\nnever searched\n")
			assert.Contains(t, out, "Goodbye!")
			assert.Empty(t, searcher.queries)
		})
	}
}

func TestREPLEmptyLine(t *testing.T) {
	searcher := &fakeSearcher{}
	out := runREPL(t, searcher, "\n   \nq\n")
	assert.Equal(t, 2, strings.Count(out, "Please enter a search query or type 'exit' to quit."))
	assert.Empty(t, searcher.queries)
}

func TestREPLNoResults(t *testing.T) {
	out := runREPL(t, &fakeSearcher{}, "nothing\nq\n")
	assert.Contains(t, out, "No matching quotes found.")
}

func TestREPLErrorContinues(t *testing.T) {
	searcher := &fakeSearcher{
		errs: map[string]error{"broken": errors.New("embedding service unavailable")},
		results: map[string][]models.SearchResult{
			"works": {{Text: "Memento mori.", Distance: 0}},
		},
	}

	out := runREPL(t, searcher, "broken\nworks\nq\n")
	assert.Contains(t, out, "An error occurred: embedding service unavailable")
	assert.Contains(t, out, "1. Memento mori. (Relevance: 100.0%)")
	assert.Equal(t, []string{"broken", "works"}, searcher.queries)
}

func TestREPLHidesErrorCodes(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:8000: connection refused")
	searcher := &fakeSearcher{
		errs: map[string]error{
			"offline": fmt.Errorf("failed to embed query: %w", embedding.WrapError(cause, embedding.ErrCodeNetworkError)),
		},
	}

	out := runREPL(t, searcher, "offline\nq\n")
	assert.Contains(t, out, "An error occurred: "+embedding.ErrMsgNetworkError+": "+cause.Error())
	assert.NotContains(t, out, "code=")
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "invalid query", describeError(models.ErrInvalidQuery))
	assert.Equal(t, embedding.ErrMsgEmptyInput,
		describeError(embedding.NewEmbeddingError(embedding.ErrCodeEmptyInput, embedding.ErrMsgEmptyInput)))
}

func TestREPLEndOfInput(t *testing.T) {
	searcher := &fakeSearcher{}
	out := runREPL(t, searcher, "first")
	assert.Equal(t, []string{"first"}, searcher.queries)
	assert.Contains(t, out, "Goodbye!")
}

func TestREPLTopK(t *testing.T) {
	searcher := &fakeSearcher{}
	runREPL(t, searcher, "query\n", WithTopK(3))
	assert.Equal(t, []int{3}, searcher.ks)

	searcher = &fakeSearcher{}
	runREPL(t, searcher, "query\n", WithTopK(0))
	assert.Equal(t, []int{DefaultTopK}, searcher.ks)
}

func TestREPLContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	errc := make(chan error, 1)
	go func() {
		errc <- NewREPL(&fakeSearcher{}, WithLogger(quietLogger())).Run(ctx, pr, &out)
	}()

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("REPL did not stop after cancel")
	}
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "3. Alea iacta est. (Relevance: 75.0%)",
		FormatResult(3, models.SearchResult{Text: "Alea iacta est.", Distance: 0.5}))
	// 超出范围的距离被截断
	assert.Equal(t, "1. x (Relevance: 0.0%)", FormatResult(1, models.SearchResult{Text: "x", Distance: 2.5}))
}
