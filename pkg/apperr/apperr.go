package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类，在核心边界上以带标签的值暴露
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindNotFound
	KindUnauthorized
	KindConflict
	KindTransientStorage
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...any) *Error {
	return New(KindInvalid, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// TransientStorage 标记 blob 读写失败：数据库状态已提交，不回滚，
// 调用方可以重试存储这一步
func TransientStorage(err error, message string) *Error {
	return &Error{Kind: KindTransientStorage, Message: message, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTransientStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
