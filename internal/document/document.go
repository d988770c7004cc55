// Package document defines the record types exchanged between connectors,
// the cleaning and enrichment stages, and the search store.
package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source type values carried through every persisted layer.
const (
	SourceGdelt     = "gdelt"
	SourceSiteCrawl = "site_crawl"
	SourceFile      = "file"
)

// Sentiment labels produced by the enrichment stage.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// IDForURL derives the stable document identifier from a canonical source
// URL. It is a UUIDv5 in the URL namespace, so re-discovering the same URL
// always yields the same id.
func IDForURL(rawURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()
}

// ChunkID derives a chunk identifier from its parent document id and the
// chunk's position.
func ChunkID(parentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", parentID, index)
}

// Normalized is the single interchange type produced by every connector and
// consumed by the pipeline. It is owned by the pipeline for the duration of
// one processing pass and not retained beyond indexing.
type Normalized struct {
	ID          string
	Name        string
	ContentType string
	Content     []byte
	SourceURL   string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Metadata    map[string]string
}

// RawRecord is the first persisted projection of an item, written once per
// newly discovered document and never mutated.
type RawRecord struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	SourceType string            `json:"source_type"`
	CrawledAt  time.Time         `json:"crawled_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CleanRecord is the normalized projection produced by the cleaner. A
// filtered item (too short, wrong language) has no CleanRecord at all.
type CleanRecord struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Body         string    `json:"clean_body"`
	Published    time.Time `json:"published"`
	Language     string    `json:"language"`
	SourceType   string    `json:"source_type"`
	SiteCategory string    `json:"site_category,omitempty"`
	CrawlTarget  string    `json:"crawl_target,omitempty"`
}

// Entity is one named entity extracted by the enrichment model.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EnrichedRecord extends a CleanRecord with the AI-generated fields and the
// embedding vector.
type EnrichedRecord struct {
	CleanRecord

	Summary        string    `json:"summary"`
	SentimentLabel string    `json:"sentiment_label"`
	SentimentScore float64   `json:"sentiment_score"`
	Entities       []Entity  `json:"entities"`
	Topic          string    `json:"topic"`
	Vector         []float32 `json:"vector,omitempty"`
	EnrichModel    string    `json:"enrich_model"`
	EmbedModel     string    `json:"embed_model"`
}

// FileRecord is the raw projection of a multi-part (file) document.
type FileRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SourceType  string    `json:"source_type"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is one paragraph-sized piece of a multi-part document.
type Chunk struct {
	ID          string    `json:"id"`
	FileID      string    `json:"file_id"`
	Index       int       `json:"chunk_index"`
	Text        string    `json:"clean_text"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SourceType  string    `json:"source_type"`
	Vector      []float32 `json:"vector,omitempty"`
	EmbedModel  string    `json:"embed_model,omitempty"`
}
