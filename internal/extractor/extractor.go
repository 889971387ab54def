// Package extractor fetches a URL and turns the response into plain text
// plus optional metadata and image references.
package extractor

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFetchTimeout covers upstream deadlines and caller cancellation.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrFetchFailed covers every other upstream failure.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrCircuitOpen is returned wrapped in ErrFetchFailed while a host's
	// breaker is open.
	ErrCircuitOpen = errors.New("upstream circuit open")
	ErrInvalidURL  = errors.New("invalid url")
)

type Options struct {
	IncludeImages   bool
	IncludeMetadata bool
	IsPDF           bool
	Timeout         time.Duration // zero means the fetcher default
}

type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Published   string `json:"published_date,omitempty"`
	Lang        string `json:"lang,omitempty"`
}

type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

type Result struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"final_url"`
	ContentType string        `json:"content_type"`
	Title       string        `json:"title,omitempty"`
	Content     string        `json:"content"`
	Metadata    *Metadata     `json:"metadata,omitempty"`
	Images      []Image       `json:"images,omitempty"`
	SizeBytes   int64         `json:"size_bytes"`
	IsPDF       bool          `json:"is_pdf"`
	FetchedAt   time.Time     `json:"fetched_at"`
	Duration    time.Duration `json:"-"`
}

// Extractor is the upstream collaborator of the gatekeeper.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, opts Options) (Result, error)
}
