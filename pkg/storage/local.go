package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径，相对路径基于此解析
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径，为空时使用当前工作目录
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	base := cfg.Path
	if base == "" {
		base = "."
	}

	// 确保路径是绝对路径
	absPath, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %v", err)
	}

	return &LocalStorage{
		basePath: absPath,
	}, nil
}

// resolve 将对象名解析为文件路径
// 绝对路径原样使用
func (s *LocalStorage) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.basePath, name)
}

// Open 打开本地文件
func (s *LocalStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.resolve(name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat file: %v", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	return file, nil
}

// Stat 获取本地文件信息
func (s *LocalStorage) Stat(ctx context.Context, name string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	path := s.resolve(name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return FileInfo{}, fmt.Errorf("failed to stat file: %v", err)
	}

	return FileInfo{
		Name: filepath.Base(path),
		Size: info.Size(),
		Path: path,
	}, nil
}
