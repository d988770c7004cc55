// Package service exposes the trigger, status, and read-side operations
// consumed by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/pipeline"
	"github.com/feedforge/newsetl/internal/store"
)

// QueryEmbedder turns free text into a vector for search.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SchedulerState reports whether the background scheduler is active.
type SchedulerState interface {
	Running() bool
}

// Status is the ETL status snapshot. Zero timestamps serialize as null.
type Status struct {
	GdeltLastRun     *time.Time `json:"gdelt_last_run"`
	CrawlLastRun     *time.Time `json:"crawl_last_run"`
	FilesLastRun     *time.Time `json:"files_last_run"`
	SchedulerRunning bool       `json:"scheduler_running"`
}

// SearchRequest is the API-facing search input; the service embeds the
// query text before delegating to the store.
type SearchRequest struct {
	Query       string    `json:"query"`
	TopK        int       `json:"top_k"`
	SourceTypes []string  `json:"source_types"`
	Language    string    `json:"language"`
	Sentiment   string    `json:"sentiment"`
	Topic       string    `json:"topic"`
	DateFrom    time.Time `json:"date_from"`
	DateTo      time.Time `json:"date_to"`
}

// Service mediates between the HTTP surface, the pipeline, and the store.
type Service struct {
	pipeline  *pipeline.Pipeline
	store     store.Provider
	embedder  QueryEmbedder
	scheduler SchedulerState
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	lastRun map[string]time.Time
}

// New wires a Service. scheduler may be nil when no scheduler was started.
func New(p *pipeline.Pipeline, st store.Provider, embedder QueryEmbedder, sched SchedulerState, logger *zap.Logger) *Service {
	return &Service{
		pipeline:  p,
		store:     st,
		embedder:  embedder,
		scheduler: sched,
		logger:    logger,
		now:       time.Now,
		lastRun:   make(map[string]time.Time),
	}
}

// TriggerETL runs the full pipeline and returns per-source processed
// counts. It always returns normally; a failed source reports zero.
func (s *Service) TriggerETL(ctx context.Context) map[string]int {
	counts := s.pipeline.RunAll(ctx)
	s.RecordRun(document.SourceGdelt)
	s.RecordRun(document.SourceSiteCrawl)
	return counts
}

// RecordRun stamps the last-run time of one source.
func (s *Service) RecordRun(source string) {
	s.mu.Lock()
	s.lastRun[source] = s.now().UTC()
	s.mu.Unlock()
}

// ETLStatus reports last-run timestamps and scheduler liveness. It never
// fails; an unstarted scheduler reads as not running.
func (s *Service) ETLStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		GdeltLastRun: lastRunPtr(s.lastRun, document.SourceGdelt),
		CrawlLastRun: lastRunPtr(s.lastRun, document.SourceSiteCrawl),
		FilesLastRun: lastRunPtr(s.lastRun, document.SourceFile),
	}
	if s.scheduler != nil {
		status.SchedulerRunning = s.scheduler.Running()
	}
	return status
}

func lastRunPtr(runs map[string]time.Time, source string) *time.Time {
	if ts, ok := runs[source]; ok {
		return &ts
	}
	return nil
}

// ListArticles pages through the enriched layer.
func (s *Service) ListArticles(ctx context.Context, q store.ArticleQuery) (*store.ArticleList, error) {
	return s.store.ListArticles(ctx, q)
}

// GetArticle returns one enriched article, or nil when absent.
func (s *Service) GetArticle(ctx context.Context, id string) (*document.EnrichedRecord, error) {
	return s.store.GetArticle(ctx, id)
}

// ListFiles pages through the file layer.
func (s *Service) ListFiles(ctx context.Context, page, pageSize int) (*store.FileList, error) {
	return s.store.ListFiles(ctx, page, pageSize)
}

// GetFile returns one file with its chunks, or nil when absent.
func (s *Service) GetFile(ctx context.Context, id string) (*store.FileDetail, error) {
	return s.store.GetFile(ctx, id)
}

// Trends returns daily counts and average sentiment over the last days.
func (s *Service) Trends(ctx context.Context, days int) ([]store.TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	return s.store.Trends(ctx, days)
}

// Search embeds the query text and runs a filtered nearest-neighbor
// search over the enriched layers.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*store.SearchResult, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.store.Search(ctx, store.SearchQuery{
		Vector:      vector,
		TopK:        req.TopK,
		SourceTypes: req.SourceTypes,
		Language:    req.Language,
		Sentiment:   req.Sentiment,
		Topic:       req.Topic,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
	})
}
