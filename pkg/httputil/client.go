// Package httputil provides shared HTTP client utilities for the vendor adapters.
package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout is used when a caller passes a zero timeout.
const DefaultTimeout = 30 * time.Second

// NewRestyClient returns a resty client bound to baseURL.
// Retries stay disabled: callers treat a failed call as terminal for that invocation.
func NewRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}
