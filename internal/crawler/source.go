package crawler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/JakeFAU/adaptive-crawler/internal/client"
)

// SourceConfig describes a paginated JSON API endpoint.
type SourceConfig struct {
	BaseURL    string
	PageParam  string
	LimitParam string
	Limit      int
	StartPage  int
	MaxPages   int
	Params     map[string]string
	Headers    http.Header
}

// Validate enforces the configuration invariants.
func (c SourceConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("source base_url is required")
	}
	if c.Limit < 1 {
		return fmt.Errorf("source limit must be >= 1, got %d", c.Limit)
	}
	if c.StartPage < 0 {
		return fmt.Errorf("source start_page must be >= 0, got %d", c.StartPage)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("source max_pages must be >= 0, got %d", c.MaxPages)
	}
	return nil
}

// PageSource emits batches of page requests with advancing offsets.
// Paging past the end of the data produces not-found responses, which
// the circuit breaker interprets as completion; MaxPages is only a
// safety stop. Not safe for concurrent use; the orchestrator is the
// single caller.
type PageSource struct {
	cfg  SourceConfig
	page int
}

// NewPageSource builds a PageSource starting at cfg.StartPage.
func NewPageSource(cfg SourceConfig) (*PageSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("source config: %w", err)
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if cfg.LimitParam == "" {
		cfg.LimitParam = "limit"
	}
	return &PageSource{cfg: cfg, page: cfg.StartPage}, nil
}

// NextBatch returns up to size request descriptors for the next pages.
// An empty batch means the page budget is spent.
func (s *PageSource) NextBatch(size int) []client.Request {
	if size < 1 {
		size = 1
	}
	if s.cfg.MaxPages > 0 {
		remaining := s.cfg.StartPage + s.cfg.MaxPages - s.page
		if remaining <= 0 {
			return nil
		}
		if size > remaining {
			size = remaining
		}
	}

	requests := make([]client.Request, 0, size)
	for i := 0; i < size; i++ {
		params := make(map[string]string, len(s.cfg.Params)+2)
		for key, value := range s.cfg.Params {
			params[key] = value
		}
		params[s.cfg.PageParam] = strconv.Itoa(s.page)
		params[s.cfg.LimitParam] = strconv.Itoa(s.cfg.Limit)

		requests = append(requests, client.Request{
			URL:     s.cfg.BaseURL,
			Params:  params,
			Headers: s.cfg.Headers,
		})
		s.page++
	}
	return requests
}

// Page returns the next page offset to be requested.
func (s *PageSource) Page() int {
	return s.page
}
