// Package pipeline sequences discovery, cleaning, enrichment, and
// persistence for every source, isolating item-level failures so one bad
// document never aborts a run.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feedforge/newsetl/internal/archive"
	"github.com/feedforge/newsetl/internal/cleaner"
	"github.com/feedforge/newsetl/internal/crawler"
	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/enricher"
	"github.com/feedforge/newsetl/internal/metrics"
	"github.com/feedforge/newsetl/internal/publisher"
	"github.com/feedforge/newsetl/internal/store"
)

// FeedConnector discovers recent articles from the keyword feed.
type FeedConnector interface {
	FetchArticles(ctx context.Context) ([]document.Normalized, error)
}

// SiteCrawler discovers new articles on one crawl target.
type SiteCrawler interface {
	Crawl(ctx context.Context, target crawler.Target, known map[string]struct{}) []document.Normalized
}

// Pipeline drives the discovery, clean, enrich, persist sequence.
type Pipeline struct {
	feed     FeedConnector
	crawler  SiteCrawler
	targets  []crawler.Target
	cleaner  *cleaner.Cleaner
	enricher *enricher.Enricher
	store    store.Provider
	events   publisher.Publisher
	blobs    archive.BlobStore // optional raw-payload archive
	logger   *zap.Logger
	now      func() time.Time
}

// New wires a Pipeline. events and blobs may be nil-equivalent
// (publisher.Noop, nil archive) when those concerns are disabled.
func New(
	feed FeedConnector,
	siteCrawler SiteCrawler,
	targets []crawler.Target,
	clean *cleaner.Cleaner,
	enrich *enricher.Enricher,
	st store.Provider,
	events publisher.Publisher,
	blobs archive.BlobStore,
	logger *zap.Logger,
) *Pipeline {
	if events == nil {
		events = publisher.Noop{}
	}
	return &Pipeline{
		feed:     feed,
		crawler:  siteCrawler,
		targets:  targets,
		cleaner:  clean,
		enricher: enrich,
		store:    st,
		events:   events,
		blobs:    blobs,
		logger:   logger,
		now:      time.Now,
	}
}

// Targets returns the configured crawl targets.
func (p *Pipeline) Targets() []crawler.Target {
	return p.targets
}

// RunFeed fetches recent feed articles and processes the previously unseen
// ones. It returns the number of articles that made it through enrichment.
func (p *Pipeline) RunFeed(ctx context.Context) (int, error) {
	start := p.now()
	defer func() { metrics.ObserveRunDuration(document.SourceGdelt, p.now().Sub(start).Seconds()) }()
	p.logger.Info("starting feed pipeline")

	docs, err := p.feed.FetchArticles(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching feed articles: %w", err)
	}
	known, err := p.store.KnownURLs(ctx)
	if err != nil {
		p.logger.Warn("could not load known urls", zap.Error(err))
		known = map[string]struct{}{}
	}

	processed := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		if _, seen := known[doc.SourceURL]; seen {
			continue
		}
		if p.processArticle(ctx, doc) {
			processed++
		}
	}
	p.logger.Info("feed pipeline complete", zap.Int("processed", processed))
	return processed, nil
}

// RunCrawl crawls every enabled target in sequence, carrying the known-URL
// set forward so a URL crawled under one target is not refetched by the
// next.
func (p *Pipeline) RunCrawl(ctx context.Context) (int, error) {
	start := p.now()
	defer func() { metrics.ObserveRunDuration(document.SourceSiteCrawl, p.now().Sub(start).Seconds()) }()
	p.logger.Info("starting crawl pipeline", zap.Int("targets", len(p.targets)))

	known, err := p.store.KnownURLs(ctx)
	if err != nil {
		p.logger.Warn("could not load known urls", zap.Error(err))
		known = map[string]struct{}{}
	}

	total := 0
	for _, target := range p.targets {
		if ctx.Err() != nil {
			break
		}
		total += p.crawlOne(ctx, target, known)
	}
	p.logger.Info("crawl pipeline complete", zap.Int("processed", total))
	return total, nil
}

// RunCrawlTarget crawls a single target, for per-target scheduled jobs.
func (p *Pipeline) RunCrawlTarget(ctx context.Context, target crawler.Target) (int, error) {
	start := p.now()
	defer func() { metrics.ObserveRunDuration(document.SourceSiteCrawl, p.now().Sub(start).Seconds()) }()

	known, err := p.store.KnownURLs(ctx)
	if err != nil {
		p.logger.Warn("could not load known urls", zap.Error(err))
		known = map[string]struct{}{}
	}
	return p.crawlOne(ctx, target, known), nil
}

func (p *Pipeline) crawlOne(ctx context.Context, target crawler.Target, known map[string]struct{}) int {
	docs := p.crawler.Crawl(ctx, target, known)
	processed := 0
	for _, doc := range docs {
		if p.processArticle(ctx, doc) {
			processed++
		}
	}
	// Every crawled URL becomes known within this run, processed or not.
	for _, doc := range docs {
		known[doc.SourceURL] = struct{}{}
	}
	return processed
}

// processArticle runs one document through raw persistence, cleaning,
// enrichment, and enriched persistence. It reports whether the document
// reached the enriched layer; a filtered document is a normal false.
func (p *Pipeline) processArticle(ctx context.Context, doc document.Normalized) bool {
	sourceType := doc.Metadata["source_type"]

	raw := document.RawRecord{
		ID:         doc.ID,
		URL:        doc.SourceURL,
		Title:      doc.Metadata["title"],
		Body:       string(doc.Content),
		SourceType: sourceType,
		CrawledAt:  p.now().UTC(),
		Metadata:   doc.Metadata,
	}
	if err := p.store.UpsertRaw(ctx, raw); err != nil {
		p.logger.Warn("raw upsert failed", zap.String("id", doc.ID), zap.Error(err))
	}
	p.archiveRaw(ctx, doc, sourceType)

	clean := p.cleaner.CleanArticle(doc)
	if clean == nil {
		return false
	}
	if err := p.store.UpsertClean(ctx, *clean); err != nil {
		p.logger.Warn("clean upsert failed", zap.String("id", doc.ID), zap.Error(err))
	}

	enriched := p.enricher.Enrich(ctx, *clean)
	if err := p.store.UpsertEnriched(ctx, enriched); err != nil {
		p.logger.Warn("enriched upsert failed", zap.String("id", doc.ID), zap.Error(err))
		return false
	}

	if _, err := p.events.Publish(ctx, publisher.TopicDocumentIndexed, map[string]string{
		"id":          enriched.ID,
		"url":         enriched.URL,
		"source_type": enriched.SourceType,
	}); err != nil {
		p.logger.Warn("publish failed", zap.String("id", doc.ID), zap.Error(err))
	}
	metrics.ObserveProcessed(sourceType)
	return true
}

func (p *Pipeline) archiveRaw(ctx context.Context, doc document.Normalized, sourceType string) {
	if p.blobs == nil {
		return
	}
	blobPath := path.Join("raw", sourceType, doc.ID+extensionFor(doc.ContentType))
	if _, err := archive.Put(ctx, p.blobs, blobPath, doc.ContentType, doc.Content); err != nil {
		p.logger.Warn("raw archive failed", zap.String("id", doc.ID), zap.Error(err))
	}
}

// RunFiles processes pre-fetched multi-part documents: file metadata into
// the raw layer, then each paragraph chunk embedded and indexed. It
// returns the number of chunks indexed.
func (p *Pipeline) RunFiles(ctx context.Context, docs []document.Normalized) (int, error) {
	start := p.now()
	defer func() { metrics.ObserveRunDuration(document.SourceFile, p.now().Sub(start).Seconds()) }()
	p.logger.Info("starting file pipeline", zap.Int("docs", len(docs)))

	totalChunks := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		rec := document.FileRecord{
			ID:          doc.ID,
			Filename:    doc.Name,
			ContentType: doc.ContentType,
			SourceType:  document.SourceFile,
			UpdatedAt:   doc.ModifiedAt,
		}
		if err := p.store.UpsertFile(ctx, rec); err != nil {
			p.logger.Warn("file upsert failed", zap.String("id", doc.ID), zap.Error(err))
		}

		for _, chunk := range p.cleaner.CleanChunks(doc) {
			enriched := p.enricher.EnrichChunk(ctx, chunk)
			if err := p.store.UpsertChunk(ctx, enriched); err != nil {
				p.logger.Warn("chunk upsert failed", zap.String("id", chunk.ID), zap.Error(err))
				continue
			}
			totalChunks++
		}
		metrics.ObserveProcessed(document.SourceFile)
	}
	p.logger.Info("file pipeline complete", zap.Int("chunks", totalChunks))
	return totalChunks, nil
}

// RunAll runs the feed and crawl pipelines concurrently. A failed source
// reports a zero count instead of aborting its sibling.
func (p *Pipeline) RunAll(ctx context.Context) map[string]int {
	counts := map[string]int{
		document.SourceGdelt:     0,
		document.SourceSiteCrawl: 0,
	}

	var g errgroup.Group
	var feedCount, crawlCount int
	g.Go(func() error {
		n, err := p.RunFeed(ctx)
		if err != nil {
			p.logger.Error("feed pipeline failed", zap.Error(err))
			return nil
		}
		feedCount = n
		return nil
	})
	g.Go(func() error {
		n, err := p.RunCrawl(ctx)
		if err != nil {
			p.logger.Error("crawl pipeline failed", zap.Error(err))
			return nil
		}
		crawlCount = n
		return nil
	})
	_ = g.Wait()

	counts[document.SourceGdelt] = feedCount
	counts[document.SourceSiteCrawl] = crawlCount

	if _, err := p.events.Publish(ctx, publisher.TopicRunCompleted, counts); err != nil {
		p.logger.Warn("publish failed", zap.Error(err))
	}
	return counts
}

func extensionFor(contentType string) string {
	switch {
	case contentType == "text/plain":
		return ".txt"
	case contentType == "text/html":
		return ".html"
	default:
		return ""
	}
}
