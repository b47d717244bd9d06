package provider

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

// Caller executes a prepared Descriptor. Network I/O is injected through
// this interface so the orchestrator and its tests never touch the wire
// directly.
type Caller interface {
	Do(ctx context.Context, d *Descriptor) (*http.Response, error)
}

type httpCaller struct {
	client *http.Client
}

// NewCaller returns the production Caller. The timeout is the hard request
// ceiling; per-stream idle supervision cancels earlier through the context.
func NewCaller(timeout time.Duration) Caller {
	return &httpCaller{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *httpCaller) Do(ctx context.Context, d *Descriptor) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
