// Package httpclient builds the HTTP client used to fetch lesson assets.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// DefaultUserAgent identifies asset fetches.
const DefaultUserAgent = "learnperf-loader/1.0"

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections to keep per-host
	MaxIdleConnsPerHost int

	IdleConnTimeout time.Duration

	// Timeout is a hard cap on a whole request. Per-chunk deadlines come from
	// the request context and are usually shorter.
	Timeout time.Duration

	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout specifies the amount of time to wait for a server's response headers
	ResponseHeaderTimeout time.Duration

	// UserAgent is sent on every request unless the request sets one.
	UserAgent string

	// AcceptEncoding, when set, is advertised on every request. The caller is
	// then responsible for decoding the body, since the transport no longer
	// decompresses transparently.
	AcceptEncoding string
}

// getEnvDuration reads a duration from an environment variable, returning the default if not set or invalid.
// Accepts either plain integers (interpreted as seconds) or Go duration strings (e.g., "10m", "1h30m").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}

// DefaultConfig returns a ClientConfig tuned for many small asset fetches.
// Can be overridden via environment variables (values in seconds, or Go duration format):
//   - LOADER_HTTP_TIMEOUT: overall request timeout (default: 120)
//   - LOADER_HTTP_HEADER_TIMEOUT: time to wait for response headers (default: 30)
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               getEnvDuration("LOADER_HTTP_TIMEOUT", 120*time.Second),
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: getEnvDuration("LOADER_HTTP_HEADER_TIMEOUT", 30*time.Second),
		UserAgent:             DefaultUserAgent,
		AcceptEncoding:        "br, gzip",
	}
}

// NewHTTPClient creates a new HTTP client with the provided configuration.
// If config is nil, DefaultConfig() is used.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if config.UserAgent != "" || config.AcceptEncoding != "" {
		rt = &headerTransport{
			base:           transport,
			userAgent:      config.UserAgent,
			acceptEncoding: config.AcceptEncoding,
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   config.Timeout,
	}
}

// headerTransport adds default headers without mutating the caller's request.
type headerTransport struct {
	base           http.RoundTripper
	userAgent      string
	acceptEncoding string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	needUA := t.userAgent != "" && req.Header.Get("User-Agent") == ""
	needAE := t.acceptEncoding != "" && req.Header.Get("Accept-Encoding") == ""
	if !needUA && !needAE {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if needUA {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	if needAE {
		clone.Header.Set("Accept-Encoding", t.acceptEncoding)
	}
	return t.base.RoundTrip(clone)
}
