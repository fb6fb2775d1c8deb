package xmlrpc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Client issues methodCall requests against a single endpoint URL.
// A zero timeout leaves the transport unbounded and relies on the
// per-call context for cancellation.
type Client struct {
	url string
	hc  *http.Client
}

// NewClient creates a client for the endpoint at rawurl.
func NewClient(rawurl string, timeout time.Duration) *Client {
	return &Client{
		url: rawurl,
		hc:  &http.Client{Timeout: timeout},
	}
}

// URL returns the endpoint this client talks to.
func (c *Client) URL() string {
	return c.url
}

// Call invokes method with the given positional arguments and returns the
// decoded result value. A remote fault is returned as a *Fault error.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	payload, err := EncodeRequest(method, args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return DecodeResponse(resp.Body)
}
