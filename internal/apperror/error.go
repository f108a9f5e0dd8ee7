package apperror

import (
	"errors"
	"fmt"
)

// AppError はビジネスロジックのエラー（クライアントにメッセージを返しても安全なエラー）
type AppError struct {
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return e.Message
}

// New は AppError を生成する（デフォルト 400 Bad Request）
func New(message string) *AppError {
	return &AppError{Message: message, StatusCode: 400}
}

// WithStatus は指定したステータスコードの AppError を生成する
func WithStatus(statusCode int, message string) *AppError {
	return &AppError{Message: message, StatusCode: statusCode}
}

// Newf はフォーマット付き AppError を生成する
func Newf(format string, args ...any) *AppError {
	return &AppError{Message: fmt.Sprintf(format, args...), StatusCode: 400}
}

// NotFound は 404 の AppError を生成する
func NotFound(format string, args ...any) *AppError {
	return &AppError{Message: fmt.Sprintf(format, args...), StatusCode: 404}
}

// Unauthorized は 401 の AppError を生成する
func Unauthorized(message string) *AppError {
	return &AppError{Message: message, StatusCode: 401}
}

// As は err の連鎖から AppError を取り出す
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Conflict は 409 の AppError を生成する
func Conflict(message string) *AppError {
	return &AppError{Message: message, StatusCode: 409}
}

// StatusOf は err が AppError ならそのステータスコードを、それ以外は 500 を返す
func StatusOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return 500
}
