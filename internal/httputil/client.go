// Package httputil builds the pooled HTTP clients used for upstream
// generation calls and media fetches. Connection reuse matters here:
// every completion hits the same handful of provider hosts.
package httputil

import (
	"net"
	"net/http"
	"time"
)

type ClientConfig struct {
	// Timeout bounds the whole exchange, including reading a streamed
	// body. Zero disables it; callers then bound requests via context.
	Timeout               time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:               120 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
}

func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// UpstreamClient is the client for provider completion calls, buffered
// and streamed alike, with the operator-configured overall timeout.
// The header timeout stays fixed: a provider that takes 30 seconds to
// even start answering is down for our purposes.
func UpstreamClient(timeout time.Duration) *http.Client {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	return NewClient(cfg)
}

// MediaClient fetches referenced media for inlining. These are small
// downloads on the request path, so the budget is much tighter than a
// generation call.
func MediaClient() *http.Client {
	cfg := DefaultConfig()
	cfg.Timeout = 15 * time.Second
	cfg.ResponseHeaderTimeout = 10 * time.Second
	return NewClient(cfg)
}

func DefaultClient() *http.Client {
	return NewClient(DefaultConfig())
}
