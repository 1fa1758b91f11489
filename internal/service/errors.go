package service

import "fmt"

// Error 带 HTTP 状态的业务错误，handler 层据此决定响应码。
// 不在这几类里的错误一律视为基础设施故障，返回 5xx 并允许重试。
type Error struct {
	Status int
	Code   string
	Msg    string
}

func (e *Error) Error() string {
	return e.Msg
}

// NewValidationError 参数错误 400
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Status: 400, Code: "validation_error", Msg: fmt.Sprintf(format, args...)}
}

// NewForbiddenError 权限不足 403
func NewForbiddenError(format string, args ...interface{}) *Error {
	return &Error{Status: 403, Code: "forbidden", Msg: fmt.Sprintf(format, args...)}
}

// NewNotFoundError 资源不存在 404
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Status: 404, Code: "not_found", Msg: fmt.Sprintf(format, args...)}
}

// NewConflictError 抢占冲突 409
func NewConflictError(format string, args ...interface{}) *Error {
	return &Error{Status: 409, Code: "conflict", Msg: fmt.Sprintf(format, args...)}
}
