package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），也支持 errors.Is（按 Module + Code 匹配）
//
// 使用场景：
//   - Store 错误：NOT_FOUND, VERSION_CONFLICT
//   - Gateway 错误：UNAVAILABLE
//   - Pipeline 错误：PARTIAL_DATA
//   - Feedback 错误：INVALID_INPUT
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "VERSION_CONFLICT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "gateway", "pipeline"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 使 errors.Is 可以按 Module + Code 匹配哨兵错误。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// IsDomainError 检查错误链中是否有 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound        = "NOT_FOUND"        // 资源不存在
	ErrorCodeNotSupported    = "NOT_SUPPORTED"    // 操作不支持
	ErrorCodeUnavailable     = "UNAVAILABLE"      // 上游不可用（重试耗尽 / 熔断）
	ErrorCodeInvalidInput    = "INVALID_INPUT"    // 输入无效
	ErrorCodeVersionConflict = "VERSION_CONFLICT" // CAS 写入版本冲突
	ErrorCodePartialData     = "PARTIAL_DATA"     // 必需数据源失败
	ErrorCodeInternalError   = "INTERNAL_ERROR"   // 内部错误
)

// 模块名称常量
const (
	ModuleStore    = "store"
	ModuleGateway  = "gateway"
	ModulePipeline = "pipeline"
	ModuleFeedback = "feedback"
	ModuleVector   = "vector"
	ModuleConfig   = "config"
)

// 哨兵错误
var (
	ErrNotFound          = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: not found")
	ErrVersionConflict   = NewDomainError(ModuleStore, ErrorCodeVersionConflict, "store: preference vector version conflict")
	ErrUnavailable       = NewDomainError(ModuleGateway, ErrorCodeUnavailable, "gateway: upstream unavailable")
	ErrPartialData       = NewDomainError(ModulePipeline, ErrorCodePartialData, "pipeline: partial data")
	ErrInvalidFeedback   = NewDomainError(ModuleFeedback, ErrorCodeInvalidInput, "feedback: malformed record")
	ErrDimensionMismatch = NewDomainError(ModuleVector, ErrorCodeInvalidInput, "vector: dimension mismatch")
	ErrInvalidConfig     = NewDomainError(ModuleConfig, ErrorCodeInvalidInput, "config: invalid")
)

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeUnavailable
	}
	return false
}

// IsVersionConflict 检查错误是否为 VERSION_CONFLICT
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
