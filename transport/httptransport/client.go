package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"github.com/cenkalti/backoff/v5"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
	"github.com/c0deZ3R0/go-crm-sync/logging"
)

// Client implements crm.Authority against a server built with NewHandler.
//
// Server errors (5xx, 429) and network failures are retried with
// exponential backoff. 404 maps to crm.ErrRemoteNotFound and 409/422 to
// *crm.RejectedError; neither is retried.
type Client struct {
	baseURL string
	http    *http.Client
	options ClientOptions
	logger  *logging.Logger
}

var _ crm.Authority = (*Client)(nil)

// NewClient creates a client for the authority served at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		options: *DefaultClientOptions(),
		logger:  logging.WithComponent(logging.Component("http-client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.options.RequestTimeout}
	}
	if c.options.MaxResponseSize <= 0 {
		c.options.MaxResponseSize = 10 * 1024 * 1024
	}
	return c, nil
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchSnapshot implements crm.Authority.
func (c *Client) FetchSnapshot(ctx context.Context, customerID string) (*crm.Customer, error) {
	var out crm.Customer
	if err := c.do(ctx, crmErrors.OpFetch, http.MethodGet, "/customers/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PushChange implements crm.Authority.
func (c *Client) PushChange(ctx context.Context, change crm.Change) error {
	return c.do(ctx, crmErrors.OpPushChange, http.MethodPost, "/changes", change, nil)
}

// PushInteraction implements crm.Authority.
func (c *Client) PushInteraction(ctx context.Context, interaction crm.Interaction) error {
	return c.do(ctx, crmErrors.OpPushInter, http.MethodPost, "/interactions", interaction, nil)
}

// Health calls GET /healthz once, without retries.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(crmErrors.OpGet, err)
	}
	defer resp.Body.Close()
	var out HealthResponse
	if err := c.readResponse(resp, &out); err != nil {
		return nil, c.classify(crmErrors.OpGet, err)
	}
	return &out, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.options.RetryWaitMin > 0 {
		b.InitialInterval = c.options.RetryWaitMin
	}
	if c.options.RetryWaitMax > 0 {
		b.MaxInterval = c.options.RetryWaitMax
	}
	return b
}

func (c *Client) do(ctx context.Context, op crmErrors.Operation, method, path string, in, out any) error {
	var body []byte
	var encoding string
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return crmErrors.E(op, crmErrors.Component("remote"), crmErrors.KindInvalid, err)
		}
		body = data
		if c.options.CompressionEnabled && len(body) >= c.options.GzipMinBytes {
			if body, err = gzipBytes(data); err != nil {
				return crmErrors.E(op, crmErrors.Component("remote"), crmErrors.KindInternal, err)
			}
			encoding = "gzip"
		}
	}

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			c.logger.DebugContext(ctx, "Request failed, retrying",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return struct{}{}, err
		}
		defer resp.Body.Close()
		return struct{}{}, c.readResponse(resp, out)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.options.RetryMax+1)),
	)
	if err != nil {
		return c.classify(op, err)
	}
	return nil
}

// statusError is a non-2xx response.
type statusError struct {
	Status int
	Body   ErrorResponse
}

func (e *statusError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body.Error)
	}
	return fmt.Sprintf("remote returned %d", e.Status)
}

// readResponse decodes a successful response into out, or returns the
// error for a failed one, marked permanent when a retry cannot help.
func (c *Client) readResponse(resp *http.Response, out any) error {
	limited := io.LimitReader(resp.Body, c.options.MaxResponseSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return err
	}
	if int64(len(data)) > c.options.MaxResponseSize {
		return backoff.Permanent(fmt.Errorf("response body exceeds %d bytes", c.options.MaxResponseSize))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	se := &statusError{Status: resp.StatusCode}
	_ = json.Unmarshal(data, &se.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", crm.ErrRemoteNotFound, se.Error()))
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusUnprocessableEntity:
		reason := se.Body.Reason
		if reason == "" {
			reason = se.Body.Error
		}
		return backoff.Permanent(&crm.RejectedError{Reason: reason})
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return backoff.RetryAfter(secs)
		}
		return se
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", crm.ErrAuthorityUnavailable, se.Error())
	case resp.StatusCode >= 500:
		return se
	default:
		return backoff.Permanent(se)
	}
}

// classify converts a final error into the error contract of crm.Authority.
func (c *Client) classify(op crmErrors.Operation, err error) error {
	switch {
	case errors.Is(err, crm.ErrRemoteNotFound), crm.IsRejected(err):
		return err
	case errors.Is(err, syscall.ECONNREFUSED):
		return crmErrors.NewTransportError(op, fmt.Errorf("%w: %v", crm.ErrAuthorityUnavailable, err))
	default:
		return crmErrors.NewTransportError(op, err)
	}
}
