package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrDisabled is returned when web search is switched off.
var ErrDisabled = errors.New("search: disabled")

// Freshness windows accepted by the provider.
const (
	FreshnessDay   = "oneDay"
	FreshnessWeek  = "oneWeek"
	FreshnessMonth = "oneMonth"
	FreshnessYear  = "oneYear"
	FreshnessAny   = "noLimit"
)

const maxKeptResults = 5

// Options tunes one web search call.
type Options struct {
	Count     int
	Freshness string
	Summary   bool
}

// DefaultOptions are used when the caller passes a zero Options.
func DefaultOptions() Options {
	return Options{Count: 5, Freshness: FreshnessWeek, Summary: true}
}

// Result is one web page hit.
type Result struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Summary       string `json:"summary,omitempty"`
	SiteName      string `json:"siteName,omitempty"`
	DatePublished string `json:"datePublished,omitempty"`
}

// Results is the formatted outcome of a search.
type Results struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message,omitempty"`
	Query        string   `json:"query,omitempty"`
	TotalResults int64    `json:"totalResults"`
	Results      []Result `json:"results"`
	Summary      string   `json:"summary,omitempty"`
}

// Status describes the adapter configuration without leaking the key.
type Status struct {
	Enabled      bool `json:"enabled"`
	HasAPIKey    bool `json:"hasApiKey"`
	APIKeyLength int  `json:"apiKeyLength"`
}

// Searcher is what the reply flow and weather resolver need.
type Searcher interface {
	WebSearch(ctx context.Context, query string, opts Options) (*Results, error)
}

// Config configures the HTTP client.
type Config struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client calls the Bocha web-search API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a client. A zero timeout defaults to 10s.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Status reports whether search is usable.
func (c *Client) Status() Status {
	return Status{
		Enabled:      c.cfg.Enabled,
		HasAPIKey:    c.cfg.APIKey != "",
		APIKeyLength: len(c.cfg.APIKey),
	}
}

type searchRequest struct {
	Query     string `json:"query"`
	Count     int    `json:"count"`
	Freshness string `json:"freshness"`
	Summary   bool   `json:"summary"`
}

// WebSearch runs query against the provider and returns formatted results.
// A provider answer without pages is not an error: it yields Success=false.
func (c *Client) WebSearch(ctx context.Context, query string, opts Options) (*Results, error) {
	if !c.cfg.Enabled {
		return nil, ErrDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search: empty query")
	}
	if opts.Count <= 0 {
		opts = DefaultOptions()
	}
	if opts.Freshness == "" {
		opts.Freshness = FreshnessWeek
	}

	body, err := json.Marshal(searchRequest{
		Query:     query,
		Count:     opts.Count,
		Freshness: opts.Freshness,
		Summary:   opts.Summary,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/web-search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("search: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("search: upstream status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return Format(raw, query)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
