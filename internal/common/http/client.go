// internal/common/http/client.go
package http

import (
	"context"
	"net/http"
	"time"
)

// Client bounds every outbound provider call with a single timeout. PSP
// status checks go through it so a slow provider cannot stall a worker
// beyond the job timeout.
type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}
