// Package client provides the HTTP transport used by the request
// executor: a thin wrapper over net/http with timeout, proxy, and
// header defaults applied per request.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Request describes one API call: the target URL plus optional query
// parameters and headers layered over the client defaults.
type Request struct {
	URL     string
	Params  map[string]string
	Headers http.Header
}

// Response is the transport-level result. StatusCode is meaningful
// only when the request reached the server; transport failures are
// returned as errors instead.
type Response struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration
}

// Config controls the underlying http.Client.
type Config struct {
	Timeout   time.Duration
	ProxyURL  string
	UserAgent string
	MaxBody   int64
}

// Validate enforces the configuration invariants.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
	}
	return nil
}

const defaultMaxBody = 16 << 20

// Client issues HTTP GET requests with the configured defaults. Safe
// for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	logger    *zap.Logger
}

// New builds a Client. The proxy, when set, routes every request.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			// Redirects are classified by the executor, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBody,
		logger:    logger,
	}, nil
}

// Send issues one GET and measures its latency. A non-nil error means
// the request never produced an HTTP response (timeout, DNS, refused
// connection); status-code interpretation is left to the caller.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}

	if len(req.Params) > 0 {
		query := httpReq.URL.Query()
		for key, value := range req.Params {
			query.Set(key, value)
		}
		httpReq.URL.RawQuery = query.Encode()
	}
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody))
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	return Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Latency:    time.Since(start),
	}, nil
}
