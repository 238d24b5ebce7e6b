package signature

import (
	stderrors "errors"
	"fmt"
)

// VerificationError is returned when a webhook delivery carries a missing
// or wrong signature. Callers answer it with 401.
type VerificationError struct {
	Header string
	Reason string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Header, e.Reason)
}

func NewVerificationError(header, format string, args ...interface{}) VerificationError {
	return VerificationError{Header: header, Reason: fmt.Sprintf(format, args...)}
}

// IsVerificationError reports whether err means the caller sent a bad
// signature, as opposed to the bridge lacking a secret to check it with.
func IsVerificationError(err error) bool {
	var verr VerificationError
	return stderrors.As(err, &verr)
}
