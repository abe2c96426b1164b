// Package httputil provides a security-hardened HTTP client and input sanitization utilities.
package httputil

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewClient creates a hardened HTTP client with secure defaults.
// timeout bounds the whole exchange including the body; pass 0 when callers
// bound every request with a context instead (long polls, large uploads).
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  false,
			MaxIdleConnsPerHost: 5,
		},
	}
}
