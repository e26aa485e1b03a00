// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorStoryNotFound   = "STORY_NOT_FOUND"
	ErrorStoryInvalid    = "STORY_INVALID"
	ErrorMessageInvalid  = "MESSAGE_INVALID"

	// 编排相关错误
	ErrorContextTooSmall = "CONTEXT_TOO_SMALL"
	ErrorTimelineWrite   = "TIMELINE_WRITE_FAILED"
	ErrorGeneration      = "GENERATION_FAILED"
)

// errorStatus 将领域错误类型映射为HTTP状态码和错误代码
func errorStatus(err error) (int, string) {
	errType, ok := apperrors.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError, ErrorInternalError
	}

	switch errType {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeConfig:
		return http.StatusUnprocessableEntity, ErrorStoryInvalid
	case apperrors.ErrorTypeContextTooSmall:
		return http.StatusUnprocessableEntity, ErrorContextTooSmall
	case apperrors.ErrorTypeTimelineWrite:
		return http.StatusInternalServerError, ErrorTimelineWrite
	case apperrors.ErrorTypeGenerationTimeout, apperrors.ErrorTypeGenerationRefused, apperrors.ErrorTypeGenerationTransport:
		return http.StatusBadGateway, ErrorGeneration
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorInternalError
	}
	return http.StatusInternalServerError, ErrorInternalError
}
