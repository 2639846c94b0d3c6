package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artpar/mockengine/domain/mockhttp"
	"github.com/artpar/mockengine/ports"
)

// UpstreamClient forwards requests to an external upstream when the proxy
// decider sends them out of the mock.
type UpstreamClient struct {
	client *http.Client
}

// UpstreamConfig contains configuration for the upstream client.
type UpstreamConfig struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// NewUpstreamClient creates a new upstream HTTP client.
func NewUpstreamClient(cfg UpstreamConfig) *UpstreamClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  false,
	}

	return &UpstreamClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// CallExternal forwards the request to url and returns the upstream
// response untouched, including error statuses.
func (u *UpstreamClient) CallExternal(ctx context.Context, url, method string, headers map[string][]string, body []byte) (mockhttp.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return mockhttp.Response{}, fmt.Errorf("create request: %w", err)
	}

	for name, values := range headers {
		// Hop-by-hop and addressing headers belong to this leg, not the
		// forwarded one.
		if name == "Host" || name == "Connection" || name == "Transfer-Encoding" {
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return mockhttp.Response{}, fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		return mockhttp.Response{}, fmt.Errorf("read upstream body: %w", err)
	}

	respHeaders := make(map[string][]string, len(resp.Header))
	for name, values := range resp.Header {
		respHeaders[name] = values
	}

	return mockhttp.Response{
		Status:  resp.StatusCode,
		Headers: respHeaders,
		Body:    respBody,
	}, nil
}

// Ensure interface compliance.
var _ ports.ProxyClient = (*UpstreamClient)(nil)
