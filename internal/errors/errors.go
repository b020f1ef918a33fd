package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 错误码按照故障分类划分：配置类错误在启动前致命且不可重试，
// 连接类错误是瞬态的，执行类错误通过事件上报但绝不终止主循环。
const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeInvalidSecret       Code = "INVALID_SECRET"
	CodeInvalidKeyFormat    Code = "INVALID_KEY_FORMAT"
	CodeDecryptionFailure   Code = "DECRYPTION_FAILURE"
	CodeChainMismatch       Code = "CHAIN_MISMATCH"
	CodeNetworkFailure      Code = "NETWORK_FAILURE"
	CodeUnhealthy           Code = "UNHEALTHY"
	CodeReconnectExhausted  Code = "RECONNECT_EXHAUSTED"
	CodeConnectionFailure   Code = "CONNECTION_FAILURE"
	CodePreconditionFailure Code = "PRECONDITION_FAILURE"
	CodeEstimationFailure   Code = "ESTIMATION_FAILURE"
	CodeSubmissionFailure   Code = "SUBMISSION_FAILURE"
	CodeAlreadyRunning      Code = "ALREADY_RUNNING"
	CodeProviderFailure     Code = "PROVIDER_FAILURE"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:             {Message: "unknown error", Severity: SeverityCritical, Retryable: false},
		CodeInvalidArgument:     {Message: "invalid argument", Severity: SeverityInfo, Retryable: false},
		CodeInvalidSecret:       {Message: "master secret rejected", Severity: SeverityCritical, Retryable: false},
		CodeInvalidKeyFormat:    {Message: "signing key malformed", Severity: SeverityCritical, Retryable: false},
		CodeDecryptionFailure:   {Message: "key decryption failed", Severity: SeverityCritical, Retryable: false},
		CodeChainMismatch:       {Message: "chain id mismatch", Severity: SeverityCritical, Retryable: false},
		CodeNetworkFailure:      {Message: "ledger transport failure", Severity: SeverityWarning, Retryable: true},
		CodeUnhealthy:           {Message: "connection unhealthy", Severity: SeverityWarning, Retryable: true},
		CodeReconnectExhausted:  {Message: "reconnect attempts exhausted", Severity: SeverityCritical, Retryable: true},
		CodeConnectionFailure:   {Message: "connectivity validation failed", Severity: SeverityWarning, Retryable: true},
		CodePreconditionFailure: {Message: "execution precondition not met", Severity: SeverityWarning, Retryable: true},
		CodeEstimationFailure:   {Message: "gas estimation rejected", Severity: SeverityWarning, Retryable: false},
		CodeSubmissionFailure:   {Message: "transaction submission failed", Severity: SeverityWarning, Retryable: true},
		CodeAlreadyRunning:      {Message: "agent already running", Severity: SeverityInfo, Retryable: false},
		CodeProviderFailure:     {Message: "decision provider failure", Severity: SeverityWarning, Retryable: true},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型，保留底层原因。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
