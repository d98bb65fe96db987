package tools

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrorCode classifies tool failures.
type ErrorCode string

const (
	ErrTimeout     ErrorCode = "TIMEOUT"
	ErrConnection  ErrorCode = "CONNECTION_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrAuth        ErrorCode = "AUTH_ERROR"
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrUnknown     ErrorCode = "UNKNOWN_ERROR"
)

// Recoverable reports whether a retry may succeed.
func (c ErrorCode) Recoverable() bool {
	switch c {
	case ErrTimeout, ErrConnection, ErrRateLimited:
		return true
	default:
		return false
	}
}

// classifier maps message patterns to a code. Order matters: the first
// matching entry wins. Status codes and short tokens only match as whole
// words so ids like "14290" are not mistaken for them.
var classifier = []struct {
	code    ErrorCode
	pattern *regexp.Regexp
}{
	{ErrTimeout, regexp.MustCompile(`timeout|timed out|deadline exceeded|etimedout`)},
	{ErrRateLimited, regexp.MustCompile(`rate ?limit|too many requests|\b429\b|quota`)},
	{ErrAuth, regexp.MustCompile(`unauthorized|forbidden|\b40[13]\b|api key|authentication|permission denied|invalid token`)},
	{ErrConnection, regexp.MustCompile(`connection refused|connection reset|econnrefused|econnreset|no such host|enotfound|network|dial tcp|broken pipe|\beof\b`)},
	{ErrNotFound, regexp.MustCompile(`not found|\b404\b|does not exist|no such`)},
	{ErrValidation, regexp.MustCompile(`invalid|validation|required|missing|must be|malformed`)},
}

// Classify maps an error to a code by inspecting its message.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range classifier {
		if entry.pattern.MatchString(msg) {
			return entry.code
		}
	}
	return ErrUnknown
}

// newErrorInfo builds an ErrorInfo for a code.
func newErrorInfo(code ErrorCode, details string) *ErrorInfo {
	return &ErrorInfo{Code: code, Details: details, Recoverable: code.Recoverable()}
}
