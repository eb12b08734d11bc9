package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/flemzord/scout/internal/security"
)

// maxResponseSize caps the search response body (4 MB).
const maxResponseSize = 4 * 1024 * 1024

// DefaultTavilyURL is the public Tavily API endpoint.
const DefaultTavilyURL = "https://api.tavily.com"

// TavilyConfig configures the Tavily client.
type TavilyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each HTTP call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Limiter throttles outgoing searches. Nil means unlimited.
	Limiter *rate.Limiter `yaml:"-"`

	// Filter drops hits whose URL it rejects. Nil keeps every http(s) hit.
	Filter *security.URLFilter `yaml:"-"`

	HTTPClient *http.Client `yaml:"-"`
	Logger     *slog.Logger `yaml:"-"`
}

// Tavily is a Searcher backed by the Tavily search API.
type Tavily struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	filter  *security.URLFilter
	logger  *slog.Logger
}

// NewTavily creates a Tavily client. An empty API key is an error.
func NewTavily(cfg TavilyConfig) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: tavily api_key is required", ErrUnauthorized)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTavilyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tavily{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  client,
		limiter: cfg.Limiter,
		filter:  cfg.Filter,
		logger:  logger,
	}, nil
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	Topic             string `json:"topic"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

type tavilyError struct {
	Detail struct {
		Error string `json:"error"`
	} `json:"detail"`
}

// Search implements Searcher.
func (t *Tavily) Search(ctx context.Context, q Query) ([]Result, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}

	body, err := json.Marshal(tavilyRequest{
		Query:             q.Query,
		MaxResults:        q.MaxResults,
		Topic:             string(q.Topic),
		IncludeRawContent: q.IncludeRawContent,
	})
	if err != nil {
		return nil, fmt.Errorf("search: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("search: read response: %w", err)
	}
	if err := mapStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("search: unmarshal response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if err := t.filter.Check(r.URL); err != nil {
			t.logger.Debug("search result dropped", "url", r.URL, "error", err)
			continue
		}
		results = append(results, r)
		if len(results) == q.MaxResults {
			break
		}
	}
	return results, nil
}

func mapStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}

	msg := string(body)
	var apiErr tavilyError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail.Error != "" {
		msg = apiErr.Detail.Error
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, code, msg)
	default:
		return fmt.Errorf("search: HTTP %d: %s", code, msg)
	}
}
