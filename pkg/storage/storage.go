package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound 请求的对象不存在
var ErrNotFound = errors.New("object not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	Name string // 对象名称
	Size int64  // 文件大小(字节)
	Path string // 内部存储路径(实现相关)
}

// Storage 只读文件存储接口
// 名言文件可能来自本地文件系统，也可能来自MinIO等对象存储
type Storage interface {
	// Open 打开对象并返回读取流，对象不存在时返回ErrNotFound
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Stat 获取对象元数据，对象不存在时返回ErrNotFound
	Stat(ctx context.Context, name string) (FileInfo, error)
}

// Config 存储配置
type Config struct {
	Type      string // 存储类型：local 或 minio
	Path      string // 本地存储根目录
	Endpoint  string // MinIO端点
	AccessKey string // MinIO访问密钥ID
	SecretKey string // MinIO秘密访问密钥
	Bucket    string // MinIO桶名称
	UseSSL    bool   // 是否使用SSL
}

// New 根据配置创建存储实例
func New(cfg Config) (Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		return NewLocalStorage(LocalConfig{Path: cfg.Path})
	case "minio":
		return NewMinioStorage(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ReadAll 读取整个对象内容
func ReadAll(ctx context.Context, s Storage, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
