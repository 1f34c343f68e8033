package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/quote-search/config"
	"github.com/fyerfyer/quote-search/internal/cache"
	"github.com/fyerfyer/quote-search/internal/console"
	"github.com/fyerfyer/quote-search/internal/document"
	"github.com/fyerfyer/quote-search/internal/embedding"
	"github.com/fyerfyer/quote-search/internal/logging"
	"github.com/fyerfyer/quote-search/internal/models"
	"github.com/fyerfyer/quote-search/internal/quotes"
	"github.com/fyerfyer/quote-search/internal/services"
	"github.com/fyerfyer/quote-search/internal/vectordb"
	"github.com/fyerfyer/quote-search/pkg/storage"
)

// 命令行参数，非空时覆盖配置文件
type flags struct {
	ConfigFile string
	QuotesPath string
	TopK       int
	Provider   string
	LogLevel   string
	ClearCache bool
}

// 嵌入服务可用性检查的超时时间
const checkTimeout = 30 * time.Second

func main() {
	// .env文件可选，不存在时忽略
	_ = godotenv.Load()

	f := parseFlags()

	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}
	applyFlags(cfg, f)

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			fail("%v\nAlternatively choose a local provider with -provider python or -provider hash.", err)
		}
		fail("%v", err)
	}

	logger := setupLogger(cfg)
	logger.WithFields(logrus.Fields{
		"provider": cfg.Embed.Provider,
		"quotes":   cfg.Quotes.Path,
		"distance": cfg.VectorDB.Distance,
	}).Info("Starting quote search")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileStorage, err := setupStorage(cfg)
	if err != nil {
		fatal(logger, "Failed to initialize storage: %v", err)
	}

	embeddingClient, closeCache, err := setupEmbedding(ctx, cfg, f.ClearCache, logger)
	if err != nil {
		fatal(logger, "Failed to initialize embedding client: %v", err)
	}
	defer closeCache()

	if err := checkEmbedding(ctx, embeddingClient); err != nil {
		fatal(logger, "Embedding service check failed: %v\nStart the service configured as embed.endpoint, or choose another provider with -provider.", err)
	}

	vectorDB, err := setupVectorDB(cfg)
	if err != nil {
		fatal(logger, "Failed to initialize vector database: %v", err)
	}
	defer vectorDB.Close()

	searcher := services.NewQuoteSearcher(embeddingClient, vectorDB,
		services.WithSplitter(document.SplitterConfig{
			Separator:    cfg.Document.Separator,
			ChunkSize:    cfg.Document.ChunkSize,
			ChunkOverlap: cfg.Document.ChunkOverlap,
		}),
		services.WithBatchSize(cfg.Embed.BatchSize),
		services.WithWorkers(cfg.Embed.Workers),
		services.WithLogger(logger),
	)

	loader := quotes.NewLoader(fileStorage, logger)
	if err := searcher.BuildFrom(ctx, loader, cfg.Quotes.Path); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fatal(logger, "Quotes file %s not found: %v", cfg.Quotes.Path, err)
		}
		fatal(logger, "Failed to build quote index: %v", err)
	}

	repl := console.NewREPL(searcher,
		console.WithTopK(cfg.Search.TopK),
		console.WithLogger(logger),
	)
	if err := repl.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Errorf("Console stopped with error: %v", err)
	}
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	var f flags

	flag.StringVar(&f.ConfigFile, "config", "", "Path to config file (default config.yaml if present)")
	flag.StringVar(&f.QuotesPath, "quotes", "", "Path to the quotes JSON file")
	flag.IntVar(&f.TopK, "k", 0, "Number of results per query")
	flag.StringVar(&f.Provider, "provider", "", "Embedding provider: "+fmt.Sprint(embedding.Providers()))
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&f.ClearCache, "clear-cache", false, "Drop cached embeddings before building the index")

	flag.Parse()
	return f
}

// applyFlags 用命令行参数覆盖配置
func applyFlags(cfg *config.Config, f flags) {
	if f.QuotesPath != "" {
		cfg.Quotes.Path = f.QuotesPath
	}
	if f.TopK != 0 {
		cfg.Search.TopK = f.TopK
	}
	if f.Provider != "" && f.Provider != cfg.Embed.Provider {
		cfg.Embed.Provider = f.Provider
		// 换了服务后重新按新服务查找密钥
		cfg.Embed.APIKey = ""
		config.ResolveCredentials(cfg)
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
}

// 启动失败时的输出和退出方式，测试中替换
var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// fail 打印启动错误并退出
func fail(format string, args ...interface{}) {
	fmt.Fprintf(stderr, "quote-search: "+format+"\n", args...)
	exit(1)
}

// fatal 记录日志后打印到标准错误并退出
// 日志可能被配置为不输出，启动失败必须对用户可见
func fatal(logger *logrus.Logger, format string, args ...interface{}) {
	logger.Errorf(format, args...)
	fail(format, args...)
}

// checkEmbedding 在加载名言前确认嵌入服务可以访问
func checkEmbedding(ctx context.Context, client embedding.Client) error {
	checker, ok := client.(embedding.Checker)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return checker.Check(ctx)
}

// setupLogger 设置日志记录器
func setupLogger(cfg *config.Config) *logrus.Logger {
	return logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console,
	})
}

// setupStorage 设置名言文件存储
func setupStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.New(storage.Config{
		Type:      cfg.Storage.Type,
		Path:      cfg.Storage.Path,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
}

// setupEmbedding 设置嵌入客户端，启用缓存时包装一层缓存
// clearCache为true时先清空已缓存的向量，返回的函数用于关闭缓存连接
func setupEmbedding(ctx context.Context, cfg *config.Config, clearCache bool, logger *logrus.Logger) (embedding.Client, func(), error) {
	opts := []embedding.Option{
		embedding.WithAPIKey(cfg.Embed.APIKey),
		embedding.WithTimeout(cfg.Embed.Timeout),
		embedding.WithMaxRetries(cfg.Embed.MaxRetries),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	}
	if cfg.Embed.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Embed.Endpoint))
	}
	if cfg.Embed.Model != "" {
		opts = append(opts, embedding.WithModel(cfg.Embed.Model))
	}

	client, err := embedding.NewClient(cfg.Embed.Provider, opts...)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Cache.Enable {
		return client, func() {}, nil
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Cache.Type
	cacheConfig.RedisAddr = cfg.Cache.Address
	cacheConfig.RedisPassword = cfg.Cache.Password
	cacheConfig.RedisDB = cfg.Cache.DB
	if cfg.Cache.Prefix != "" {
		cacheConfig.Prefix = cfg.Cache.Prefix
	}
	if cfg.Cache.TTL > 0 {
		cacheConfig.DefaultTTL = cfg.Cache.TTL
	}

	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		// 缓存不可用时不影响搜索
		logger.Warnf("Embedding cache unavailable, continuing without it: %v", err)
		return client, func() {}, nil
	}

	if clearCache {
		if err := c.Clear(ctx); err != nil {
			logger.Warnf("Failed to clear embedding cache: %v", err)
		} else {
			logger.Info("Embedding cache cleared")
		}
	}

	closeCache := func() {
		if err := c.Close(); err != nil {
			logger.Warnf("Failed to close embedding cache: %v", err)
		}
	}
	return embedding.NewCachedClient(client, c, cacheConfig.DefaultTTL, logger), closeCache, nil
}

// setupVectorDB 设置向量仓库
func setupVectorDB(cfg *config.Config) (vectordb.Repository, error) {
	distance, err := vectordb.ParseDistanceType(cfg.VectorDB.Distance)
	if err != nil {
		return nil, err
	}
	return vectordb.NewRepository(vectordb.Config{
		Type:         cfg.VectorDB.Type,
		DistanceType: distance,
	})
}
