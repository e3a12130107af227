package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
)

// Client reads an event stream served by Server.
type Client struct {
	URL    string
	Client *http.Client
}

// NewClient creates a client for the stream at streamURL.
func NewClient(streamURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		URL:    streamURL,
		Client: httpClient,
	}
}

// Subscribe calls handler for every event until ctx is cancelled, the
// server ends the stream or handler returns an error. Types and customer
// narrow the stream and may be empty.
func (c *Client) Subscribe(ctx context.Context, customer string, types []string, handler func(WireEvent) error) error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return crmErrors.E(crmErrors.Op("sse.Subscribe"), crmErrors.Component("transport/sse"), crmErrors.KindInvalid, err)
	}
	q := u.Query()
	if customer != "" {
		q.Set("customer", customer)
	}
	for _, t := range types {
		q.Add("type", t)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return crmErrors.E(crmErrors.Op("sse.Subscribe"), crmErrors.Component("transport/sse"), crmErrors.KindInvalid, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return crmErrors.E(crmErrors.Op("sse.Subscribe"), crmErrors.Component("transport/sse"), crmErrors.KindTransport, err, "http request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return crmErrors.E(crmErrors.Op("sse.Subscribe"), crmErrors.Component("transport/sse"), crmErrors.KindTransport,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 10<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		var ev WireEvent
		if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &ev); err != nil {
			return crmErrors.E(crmErrors.Op("sse.Subscribe"), crmErrors.Component("transport/sse"), crmErrors.KindInvalid, err, "decode payload")
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return crmErrors.E(crmErrors.Op("sse.Subscribe"), crmErrors.Component("transport/sse"), crmErrors.KindTransport, err, "scan")
	}
	return ctx.Err()
}
