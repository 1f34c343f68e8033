package models

import "errors"

var (
	// ErrNotFound 名言文件不存在
	ErrNotFound = errors.New("quote file not found")

	// ErrMalformedInput 名言文件无法解析或结构不符合预期
	ErrMalformedInput = errors.New("malformed quote input")

	// ErrNotBuilt 索引尚未构建就发起查询
	ErrNotBuilt = errors.New("similarity index not built")

	// ErrAlreadyBuilt 索引构建后不可再次构建
	ErrAlreadyBuilt = errors.New("similarity index already built")

	// ErrInvalidQuery 查询文本为空或k不合法
	ErrInvalidQuery = errors.New("invalid query")
)
