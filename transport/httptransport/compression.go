package httptransport

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Request body failures, mapped to status codes by mapErrorToHTTPStatus.
var (
	errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")
	errBodyTooLarge         = errors.New("request body too large")
	errUnsupportedMediaType = errors.New("unsupported media type")
	errUnsupportedEncoding  = errors.New("unsupported content encoding")
	errInvalidGzip          = errors.New("invalid gzip data")
)

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// Only an error if more data follows.
		var probe [1]byte
		if n, _ := r.reader.Read(probe[:]); n > 0 {
			return 0, errDecompressedTooLarge
		}
		return 0, io.EOF
	}
	if remaining := r.limit - r.consumed; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// createSafeRequestReader returns a reader over the request body that
// enforces the compressed and decompressed size limits. The cleanup
// function must be called when the body has been consumed.
func createSafeRequestReader(w http.ResponseWriter, r *http.Request, options *ServerOptions) (io.Reader, func(), error) {
	maxRequestSize := options.MaxRequestSize
	if maxRequestSize == 0 {
		maxRequestSize = 10 * 1024 * 1024
	}
	maxDecompressedSize := options.MaxDecompressedSize
	if maxDecompressedSize == 0 {
		maxDecompressedSize = 20 * 1024 * 1024
	}
	noop := func() {}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, noop, fmt.Errorf("%w: %s", errUnsupportedMediaType, contentType)
	}
	if r.ContentLength > maxRequestSize {
		return nil, noop, fmt.Errorf("%w: %d bytes (max %d)", errBodyTooLarge, r.ContentLength, maxRequestSize)
	}

	contentEncoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	switch contentEncoding {
	case "":
		return http.MaxBytesReader(w, r.Body, min(maxRequestSize, maxDecompressedSize)), noop, nil
	case "gzip":
	default:
		return nil, noop, fmt.Errorf("%w: %s (only gzip is supported)", errUnsupportedEncoding, contentEncoding)
	}

	gzReader, err := gzip.NewReader(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		return nil, noop, fmt.Errorf("%w: %v", errInvalidGzip, err)
	}
	return &maxDecompressedReader{reader: gzReader, limit: maxDecompressedSize}, func() { gzReader.Close() }, nil
}

// mapErrorToHTTPStatus maps request body errors to status codes.
func mapErrorToHTTPStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errDecompressedTooLarge), errors.Is(err, errBodyTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMediaType), errors.Is(err, errUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

// gzipBytes compresses a request body.
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
