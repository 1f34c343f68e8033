package embedding

import (
	"context"
	"errors"
	"fmt"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
	Err     error  // 原始错误
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding error (code=%d): %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e EmbeddingError) Unwrap() error {
	return e.Err
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
	ErrCodeBadResponse    = 1008 // 响应内容不符合预期
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
	ErrMsgBadResponse    = "unexpected embedding response"
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: message,
	}
}

// WrapError 将任意错误包装为嵌入错误
// 已经是EmbeddingError的错误原样返回，上下文取消映射为超时
func WrapError(err error, code int) error {
	if err == nil {
		return nil
	}

	var embErr EmbeddingError
	if errors.As(err, &embErr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return EmbeddingError{Code: ErrCodeTimeout, Message: ErrMsgTimeout, Err: err}
	}

	return EmbeddingError{Code: code, Message: messageForCode(code), Err: err}
}

// messageForCode 根据错误码返回默认错误消息
func messageForCode(code int) string {
	switch code {
	case ErrCodeInvalidAPIKey:
		return ErrMsgInvalidAPIKey
	case ErrCodeInvalidRequest:
		return ErrMsgInvalidRequest
	case ErrCodeNetworkError:
		return ErrMsgNetworkError
	case ErrCodeRateLimited:
		return ErrMsgRateLimited
	case ErrCodeTimeout:
		return ErrMsgTimeout
	case ErrCodeEmptyInput:
		return ErrMsgEmptyInput
	case ErrCodeBadResponse:
		return ErrMsgBadResponse
	default:
		return ErrMsgServerError
	}
}

// codeForStatus 将HTTP状态码映射为错误码
func codeForStatus(status int) int {
	switch {
	case status == 401 || status == 403:
		return ErrCodeInvalidAPIKey
	case status == 429:
		return ErrCodeRateLimited
	case status == 408 || status == 504:
		return ErrCodeTimeout
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeInvalidRequest
	}
}
