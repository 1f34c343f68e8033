package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultPath 默认配置文件路径，文件不存在时使用默认值
const DefaultPath = "config.yaml"

// ErrMissingCredential 所选嵌入服务缺少API密钥
var ErrMissingCredential = errors.New("missing embedding API credential")

// 各嵌入服务可用的密钥环境变量，按优先级排列
var credentialEnv = map[string][]string{
	"openai":      {"EMBED_API_KEY", "OPENAI_API_KEY"},
	"huggingface": {"EMBED_API_KEY", "HF_TOKEN"},
}

// Config 应用程序配置结构体
type Config struct {
	Quotes   QuotesConfig   `mapstructure:"quotes"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Cache    CacheConfig    `mapstructure:"cache"`
	VectorDB VectorDBConfig `mapstructure:"vectordb"`
	Document DocumentConfig `mapstructure:"document"`
	Search   SearchConfig   `mapstructure:"search"`
	Log      LogConfig      `mapstructure:"log"`
}

// QuotesConfig 名言文件配置
type QuotesConfig struct {
	Path string `mapstructure:"path" validate:"required"` // 名言JSON文件，相对于存储根目录
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储根目录
	Bucket    string `mapstructure:"bucket" validate:"required_if=Type minio"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Type minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=openai huggingface python hash"`
	Model      string        `mapstructure:"model"`                        // 模型名称，为空时使用服务默认模型
	APIKey     string        `mapstructure:"api_key"`                      // API密钥
	Endpoint   string        `mapstructure:"endpoint"`                     // API端点
	BatchSize  int           `mapstructure:"batch_size" validate:"gt=0"`   // 批处理大小
	Workers    int           `mapstructure:"workers" validate:"gt=0"`      // 并发请求数
	Dimensions int           `mapstructure:"dimensions" validate:"gte=0"`  // 向量维度，0表示模型默认
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`      // 请求超时时间
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"` // 最大重试次数
}

// CacheConfig 嵌入缓存配置
type CacheConfig struct {
	Enable   bool          `mapstructure:"enable"`                                    // 是否启用缓存
	Type     string        `mapstructure:"type" validate:"oneof=memory redis"`        // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address" validate:"required_if=Type redis"` // Redis地址
	Password string        `mapstructure:"password"`                                  // Redis密码
	DB       int           `mapstructure:"db"`                                        // Redis数据库
	Prefix   string        `mapstructure:"prefix"`                                    // Redis键前缀
	TTL      time.Duration `mapstructure:"ttl"`                                       // 缓存有效期
}

// VectorDBConfig 向量仓库配置
type VectorDBConfig struct {
	Type     string `mapstructure:"type" validate:"oneof=memory faiss"`      // 仓库类型
	Distance string `mapstructure:"distance" validate:"oneof=cosine l2 dot"` // 距离度量方式
}

// DocumentConfig 文本分段配置
type DocumentConfig struct {
	Separator    string `mapstructure:"separator"`                                        // 分隔符
	ChunkSize    int    `mapstructure:"chunk_size" validate:"gt=0"`                       // 分块大小
	ChunkOverlap int    `mapstructure:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"` // 分块重叠大小
}

// SearchConfig 搜索配置
type SearchConfig struct {
	TopK int `mapstructure:"top_k" validate:"gt=0"` // 每次查询返回的结果数量
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

// Load 从文件和环境变量加载配置
// path为空时读取默认路径，默认文件不存在时只使用默认值；显式指定的文件必须存在
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)

	// 支持环境变量覆盖，例如 QUOTES_PATH、EMBED_PROVIDER
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	processEnvironmentVariables(&cfg)
	ResolveCredentials(&cfg)

	return &cfg, nil
}

// Validate 校验配置取值和嵌入服务凭据
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return c.checkCredentials()
}

// checkCredentials 检查远程嵌入服务是否配置了密钥
func (c *Config) checkCredentials() error {
	envs, needsKey := credentialEnv[c.Embed.Provider]
	if !needsKey || c.Embed.APIKey != "" {
		return nil
	}
	return fmt.Errorf("%w: embedding provider %q requires an API key; set %s in the environment or in a .env file",
		ErrMissingCredential, c.Embed.Provider, strings.Join(envs, " or "))
}

// ResolveCredentials 未配置密钥时从服务对应的环境变量读取
func ResolveCredentials(cfg *Config) {
	if cfg.Embed.APIKey != "" {
		return
	}
	for _, name := range credentialEnv[cfg.Embed.Provider] {
		if val := os.Getenv(name); val != "" {
			cfg.Embed.APIKey = val
			return
		}
	}
}

// processEnvironmentVariables 展开形如 ${VAR} 的配置值
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.Embed.Endpoint,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Quotes.Path,
	} {
		*field = expandEnv(*field)
	}
}

// expandEnv 展开整个值为 ${VAR} 的配置，变量未设置时置空
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// setDefaults 设置配置的默认值
// 每个键都需要默认值，AutomaticEnv才能在Unmarshal时生效
func setDefaults(v *viper.Viper) {
	// 名言文件
	v.SetDefault("quotes.path", "quotes.json")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", ".")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)

	// Embedding默认配置
	v.SetDefault("embed.provider", "python")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.endpoint", "")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.workers", 4)
	v.SetDefault("embed.dimensions", 0)
	v.SetDefault("embed.timeout", "30s")
	v.SetDefault("embed.max_retries", 3)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "quote-search")
	v.SetDefault("cache.ttl", "24h")

	// 向量仓库默认配置
	v.SetDefault("vectordb.type", "memory")
	v.SetDefault("vectordb.distance", "l2")

	// 文本分段默认配置
	v.SetDefault("document.separator", "\n")
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)

	// 搜索默认配置
	v.SetDefault("search.top_k", 5)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.console", true)
}
