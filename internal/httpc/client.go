// Package httpc provides HTTP clients with explicit connect and read bounds.
// Use this instead of http.DefaultClient so every outbound call has a timeout.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Client is a shared HTTP client using the default bounds.
var Client = NewClient(DefaultConnectTimeout, DefaultReadTimeout)

// NewClient creates a client whose dial (and TLS handshake) is bounded by
// connect and whose wait for response headers is bounded by read.
// The overall request deadline is connect+read.
func NewClient(connect, read time.Duration) *http.Client {
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	if read <= 0 {
		read = DefaultReadTimeout
	}
	return &http.Client{
		Timeout: connect + read,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connect,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   connect,
			ResponseHeaderTimeout: read,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
