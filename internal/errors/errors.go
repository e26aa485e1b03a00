// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeError        ErrorType = "processing_error"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"

	// 编排引擎错误类型
	ErrorTypeConfig              ErrorType = "config_error"
	ErrorTypeContextTooSmall     ErrorType = "context_too_small"
	ErrorTypeGenerationTimeout   ErrorType = "generation_timeout"
	ErrorTypeGenerationRefused   ErrorType = "generation_refused"
	ErrorTypeGenerationTransport ErrorType = "generation_transport"
	ErrorTypeTimelineWrite       ErrorType = "timeline_write"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewConfigError 创建故事/角色数据配置错误
func NewConfigError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfig, message, originalError)
}

// NewContextTooSmallError 人设本身已超出上下文预算
func NewContextTooSmallError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeContextTooSmall, message, originalError)
}

// NewGenerationTimeoutError 创建生成超时错误
func NewGenerationTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGenerationTimeout, message, originalError)
}

// NewGenerationRefusedError 创建生成被拒错误
func NewGenerationRefusedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGenerationRefused, message, originalError)
}

// NewGenerationTransportError 创建生成传输错误
func NewGenerationTransportError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGenerationTransport, message, originalError)
}

// NewTimelineWriteError 创建时间线持久化错误
func NewTimelineWriteError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimelineWrite, message, originalError)
}

// TypeOf 返回错误链中第一个 AppError 的类型
func TypeOf(err error) (ErrorType, bool) {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type, true
	}
	return "", false
}

func isType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsConfigError 检查是否为配置错误
func IsConfigError(err error) bool {
	return isType(err, ErrorTypeConfig)
}

// IsContextTooSmall 检查是否为上下文预算不足
func IsContextTooSmall(err error) bool {
	return isType(err, ErrorTypeContextTooSmall)
}

// IsTimelineWriteError 检查是否为时间线写入错误
func IsTimelineWriteError(err error) bool {
	return isType(err, ErrorTypeTimelineWrite)
}

// IsGenerationError 检查是否为单个行动者的生成失败（超时、拒绝、传输）
func IsGenerationError(err error) bool {
	t, ok := TypeOf(err)
	if !ok {
		return false
	}
	switch t {
	case ErrorTypeGenerationTimeout, ErrorTypeGenerationRefused, ErrorTypeGenerationTransport:
		return true
	}
	return false
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	case ErrorTypeForbidden:
		return "FORBIDDEN"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeConfig:
		return "CONFIG_ERROR"
	case ErrorTypeContextTooSmall:
		return "CONTEXT_TOO_SMALL"
	case ErrorTypeGenerationTimeout:
		return "GENERATION_TIMEOUT"
	case ErrorTypeGenerationRefused:
		return "GENERATION_REFUSED"
	case ErrorTypeGenerationTransport:
		return "GENERATION_TRANSPORT"
	case ErrorTypeTimelineWrite:
		return "TIMELINE_WRITE"
	default:
		return "UNKNOWN_ERROR"
	}
}
