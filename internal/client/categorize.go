package client

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorCategory is a stable label for transfer error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout  ErrorCategory = "timeout"
	ErrorCategoryCanceled ErrorCategory = "canceled"
	ErrorCategoryNetwork  ErrorCategory = "network"
	ErrorCategoryProxy    ErrorCategory = "proxy"
	ErrorCategoryFile     ErrorCategory = "file"
	ErrorCategoryUnknown  ErrorCategory = "unknown"
)

// CategorizeError maps a transfer error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCanceled
	}
	if errors.Is(err, ErrInvalidProxy) {
		return ErrorCategoryProxy
	}
	if errors.Is(err, errWriteFile) {
		return ErrorCategoryFile
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "no such host") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
