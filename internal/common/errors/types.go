// Package errors defines the typed application errors shared by the bridge
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeInternal   ErrorType = "internal"
	ErrTypeUpstream   ErrorType = "upstream"

	// ErrTypeCacheUnavailable means the token document store could not be reached or refused the operation
	ErrTypeCacheUnavailable ErrorType = "cache_unavailable"
	// ErrTypeSigning means the client assertion could not be built or signed
	ErrTypeSigning ErrorType = "signing_failed"
	// ErrTypeTokenExchange means the token endpoint answered with a failure or an unreadable body
	ErrTypeTokenExchange ErrorType = "token_exchange_failed"
)

// AppError is a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error renders "type: message[: code=..][: cause=..][: context={..}]"
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns e
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode sets a short machine-readable code and returns e
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func newError(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: errType, Message: msg, Cause: cause}
}

func ValidationError(msg string) *AppError {
	return newError(ErrTypeValidation, msg, nil)
}

func ConfigError(msg string) *AppError {
	return newError(ErrTypeConfig, msg, nil)
}

func InternalError(msg string, cause error) *AppError {
	return newError(ErrTypeInternal, msg, cause)
}

// UpstreamError reports a failed call to a third-party API
func UpstreamError(msg string, cause error) *AppError {
	return newError(ErrTypeUpstream, msg, cause)
}

// CacheUnavailableError reports a document store failure
func CacheUnavailableError(msg string, cause error) *AppError {
	return newError(ErrTypeCacheUnavailable, msg, cause)
}

// SigningError reports a key or signing failure
func SigningError(msg string, cause error) *AppError {
	return newError(ErrTypeSigning, msg, cause)
}

// TokenExchangeError reports a failed client-credentials exchange
func TokenExchangeError(msg string, cause error) *AppError {
	return newError(ErrTypeTokenExchange, msg, cause)
}

// IsType reports whether any AppError in err's chain has the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetType returns the type of the outermost AppError in err's chain,
// ErrTypeInternal for foreign errors and "" for nil
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeInternal
}
