// Package httptransport exposes a crm.Authority over HTTP and provides the
// matching client.
//
// Routes:
//
//	GET  /healthz
//	GET  /customers/{id}
//	POST /changes
//	POST /interactions
package httptransport

import (
	"net/http"
	"time"
)

// ServerOptions configures the HTTP handler.
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request bodies in bytes (compressed)
	// If 0, defaults to 10MB
	MaxRequestSize int64

	// MaxDecompressedSize is the maximum allowed size of decompressed request bodies in bytes
	// This prevents zip-bomb attacks when handling gzip-compressed requests
	// If 0, defaults to 20MB
	MaxDecompressedSize int64

	// CompressionEnabled enables gzip compression for responses of at least CompressionThreshold bytes
	CompressionEnabled   bool
	CompressionThreshold int64

	// RequestTimeout bounds each request. Zero disables the timeout.
	RequestTimeout time.Duration

	// Middlewares run after the built-in request id, recoverer and logging middleware.
	Middlewares []func(http.Handler) http.Handler
}

// DefaultServerOptions returns the default server options
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       10 * 1024 * 1024, // 10MB
		MaxDecompressedSize:  20 * 1024 * 1024, // 20MB
		CompressionEnabled:   true,
		CompressionThreshold: 1024, // 1KB
		RequestTimeout:       30 * time.Second,
	}
}

// ClientOptions configures the HTTP client.
type ClientOptions struct {
	// CompressionEnabled gzips request bodies of at least GzipMinBytes.
	CompressionEnabled bool
	GzipMinBytes       int

	// MaxResponseSize is the maximum accepted response body in bytes.
	// If 0, defaults to 10MB
	MaxResponseSize int64

	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration

	// RetryMax is the number of retries after the first attempt.
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the exponential backoff.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled: true,
		GzipMinBytes:       1024,             // 1KB
		MaxResponseSize:    10 * 1024 * 1024, // 10MB
		RequestTimeout:     30 * time.Second,
		RetryMax:           3,
		RetryWaitMin:       200 * time.Millisecond,
		RetryWaitMax:       5 * time.Second,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
