// Package store persists the raw, clean, and enriched record layers in a
// vector-capable search index and serves the read side of the API.
package store

import (
	"context"
	"time"

	"github.com/feedforge/newsetl/internal/document"
)

// Index names, one per persisted layer.
const (
	IndexNewsRaw       = "news_raw"
	IndexNewsClean     = "news_clean"
	IndexNewsEnriched  = "news_enriched"
	IndexFilesRaw      = "files_raw"
	IndexFilesEnriched = "files_enriched"
)

// knownURLLimit caps how many already-indexed URLs one differential pass
// reads back.
const knownURLLimit = 10000

// ArticleQuery selects a page of enriched articles.
type ArticleQuery struct {
	Page       int
	PageSize   int
	SourceType string
	Language   string
}

// ArticleList is one page of enriched articles with vectors and bodies
// stripped.
type ArticleList struct {
	Total    int                       `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"page_size"`
	Articles []document.EnrichedRecord `json:"articles"`
}

// FileList is one page of file records.
type FileList struct {
	Total int                   `json:"total"`
	Files []document.FileRecord `json:"files"`
}

// FileDetail is a file record with its chunks in index order, vectors
// stripped.
type FileDetail struct {
	document.FileRecord

	Chunks []document.Chunk `json:"chunks"`
}

// TrendPoint is one day's article count and average sentiment.
type TrendPoint struct {
	Date         string  `json:"date"`
	Count        int     `json:"count"`
	SentimentAvg float64 `json:"sentiment_avg"`
}

// SearchQuery is a filtered nearest-neighbor search over the enriched
// layers.
type SearchQuery struct {
	Vector      []float32
	TopK        int
	SourceTypes []string
	Language    string
	Sentiment   string
	Topic       string
	DateFrom    time.Time
	DateTo      time.Time
}

// SearchHit is one search result row.
type SearchHit struct {
	ID             string  `json:"id"`
	SourceType     string  `json:"source_type"`
	Score          float64 `json:"score"`
	URL            string  `json:"url,omitempty"`
	Title          string  `json:"title,omitempty"`
	Summary        string  `json:"summary,omitempty"`
	SentimentLabel string  `json:"sentiment_label,omitempty"`
	Topic          string  `json:"topic,omitempty"`
	Language       string  `json:"language,omitempty"`
	Published      string  `json:"published,omitempty"`
	Filename       string  `json:"filename,omitempty"`
}

// SearchResult is the full response of one search.
type SearchResult struct {
	Total int         `json:"total"`
	Hits  []SearchHit `json:"results"`
}

// Provider is the persistence surface consumed by the pipeline and the
// read-side service. All writes are upserts keyed by record id, so any
// stage can be retried without creating duplicates.
type Provider interface {
	// EnsureIndices creates any missing indices.
	EnsureIndices(ctx context.Context) error

	UpsertRaw(ctx context.Context, rec document.RawRecord) error
	UpsertClean(ctx context.Context, rec document.CleanRecord) error
	UpsertEnriched(ctx context.Context, rec document.EnrichedRecord) error
	UpsertFile(ctx context.Context, rec document.FileRecord) error
	UpsertChunk(ctx context.Context, chunk document.Chunk) error

	// KnownURLs returns the source URLs already present in the raw layer,
	// up to the differential read cap.
	KnownURLs(ctx context.Context) (map[string]struct{}, error)

	ListArticles(ctx context.Context, q ArticleQuery) (*ArticleList, error)
	// GetArticle returns nil when the article does not exist.
	GetArticle(ctx context.Context, id string) (*document.EnrichedRecord, error)
	ListFiles(ctx context.Context, page, pageSize int) (*FileList, error)
	// GetFile returns nil when the file does not exist.
	GetFile(ctx context.Context, id string) (*FileDetail, error)

	// Trends buckets enriched articles by publication day over the last
	// days days.
	Trends(ctx context.Context, days int) ([]TrendPoint, error)
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)

	Close() error
}
