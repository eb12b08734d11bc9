// Package search runs web searches for the research agent and formats the
// hits for the planner.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Topic is the search category understood by the search backend.
type Topic string

// Supported topics.
const (
	TopicGeneral Topic = "general"
	TopicNews    Topic = "news"
	TopicFinance Topic = "finance"
)

// Topics lists every supported topic in display order.
func Topics() []string {
	return []string{string(TopicGeneral), string(TopicNews), string(TopicFinance)}
}

// DefaultMaxResults is used when a query leaves MaxResults unset.
const DefaultMaxResults = 5

// Errors returned by search backends.
var (
	ErrEmptyQuery   = errors.New("search: empty query")
	ErrUnauthorized = errors.New("search: authentication failed")
	ErrRateLimited  = errors.New("search: rate limited")
	ErrUnavailable  = errors.New("search: backend unavailable")
)

// Query describes one search.
type Query struct {
	Query             string
	MaxResults        int
	Topic             Topic
	IncludeRawContent bool
}

// Result is one hit, in backend order.
type Result struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Searcher is implemented by search backends.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// normalize fills defaults and rejects empty queries.
func (q Query) normalize() (Query, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return q, ErrEmptyQuery
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.Topic == "" {
		q.Topic = TopicGeneral
	}
	return q, nil
}

// Format renders results the way the planner expects them:
//
//	Search results for: <query>
//
//	1. <title>
//	   URL: <url>
//	   <content>
//
// Missing fields are replaced by placeholders. When raw content is present
// it follows the snippet.
func Format(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, orDefault(r.Title, "No title"))
		fmt.Fprintf(&b, "   URL: %s\n", orDefault(r.URL, "No URL"))
		fmt.Fprintf(&b, "   %s\n", orDefault(r.Content, "No content"))
		if r.RawContent != "" {
			fmt.Fprintf(&b, "   Raw content: %s\n", r.RawContent)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
