package httptransport

import (
	"net/http"
	"time"

	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// ServerOption is a function that configures a ServerOptions struct
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxRequestSize = size
	}
}

// WithMaxDecompressedSize sets the maximum allowed size of decompressed request bodies
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxDecompressedSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithRequestTimeout sets the maximum duration for processing a single request
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(opts *ServerOptions) {
		opts.RequestTimeout = timeout
	}
}

// WithMiddlewares appends middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(opts *ServerOptions) {
		opts.Middlewares = append(opts.Middlewares, mw...)
	}
}

// ClientOption configures a Client using the functional options pattern
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.http = cl
	}
}

// WithRetryConfig sets the retry configuration for failed requests
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *Client) {
		c.options.RetryMax = maxRetries
		c.options.RetryWaitMin = waitMin
		c.options.RetryWaitMax = waitMax
	}
}

// WithClientTimeout sets the timeout for a single attempt
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.options.RequestTimeout = timeout
	}
}

// WithClientCompression enables or disables gzip request bodies
func WithClientCompression(enabled bool, minBytes int) ClientOption {
	return func(c *Client) {
		c.options.CompressionEnabled = enabled
		c.options.GzipMinBytes = minBytes
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies
func WithMaxResponseSize(size int64) ClientOption {
	return func(c *Client) {
		c.options.MaxResponseSize = size
	}
}

// WithClientLogger sets the client's logger
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
