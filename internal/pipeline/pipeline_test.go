package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/archive"
	"github.com/feedforge/newsetl/internal/cleaner"
	"github.com/feedforge/newsetl/internal/crawler"
	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/enricher"
	"github.com/feedforge/newsetl/internal/publisher"
	"github.com/feedforge/newsetl/internal/store"
)

type fakeFeed struct {
	docs []document.Normalized
	err  error
}

func (f *fakeFeed) FetchArticles(context.Context) ([]document.Normalized, error) {
	return f.docs, f.err
}

type fakeCrawler struct {
	byTarget map[string][]document.Normalized
	seen     []map[string]struct{}
}

func (f *fakeCrawler) Crawl(_ context.Context, target crawler.Target, known map[string]struct{}) []document.Normalized {
	snapshot := make(map[string]struct{}, len(known))
	for k := range known {
		snapshot[k] = struct{}{}
	}
	f.seen = append(f.seen, snapshot)

	var fresh []document.Normalized
	for _, doc := range f.byTarget[target.Name] {
		if _, ok := known[doc.SourceURL]; !ok {
			fresh = append(fresh, doc)
		}
	}
	return fresh
}

type fakeModel struct {
	generated string
}

func (f *fakeModel) Generate(context.Context, string) (string, error) {
	if f.generated == "" {
		return `{"summary":"s","sentiment_label":"positive","sentiment_score":0.5,"entities":[],"topic":"ai"}`, nil
	}
	return f.generated, nil
}

func (f *fakeModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2}
	}
	return vectors, nil
}

const articleBody = "This article body is deliberately long enough to clear the one " +
	"hundred character cleaning threshold used by the pipeline under test."

func articleDoc(url, title string) document.Normalized {
	return document.Normalized{
		ID:          document.IDForURL(url),
		Name:        title + ".txt",
		ContentType: "text/plain",
		Content:     []byte(articleBody),
		SourceURL:   url,
		CreatedAt:   time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC),
		Metadata: map[string]string{
			"source_type": document.SourceGdelt,
			"title":       title,
			"language":    "en",
		},
	}
}

func crawlDoc(url, title, target string) document.Normalized {
	doc := articleDoc(url, title)
	doc.ContentType = "text/html"
	doc.Content = []byte("<html><body><p>" + articleBody + "</p></body></html>")
	doc.Metadata["source_type"] = document.SourceSiteCrawl
	doc.Metadata["crawl_target"] = target
	return doc
}

type pipelineParts struct {
	pipeline *Pipeline
	store    *store.Memory
	events   *publisher.Memory
	blobs    *archive.Memory
}

func newTestPipeline(t *testing.T, feedConn FeedConnector, siteCrawler SiteCrawler, targets []crawler.Target) pipelineParts {
	t.Helper()
	logger := zap.NewNop()
	mem := store.NewMemory()
	events := publisher.NewMemory()
	blobs := archive.NewMemory()
	p := New(
		feedConn,
		siteCrawler,
		targets,
		cleaner.New(100, []string{"en", "ja"}, logger),
		enricher.New(&fakeModel{}, "gen-model", "embed-model", 4000, logger),
		mem,
		events,
		blobs,
		logger,
	)
	return pipelineParts{pipeline: p, store: mem, events: events, blobs: blobs}
}

func TestRunFeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	feedConn := &fakeFeed{docs: []document.Normalized{
		articleDoc("https://example.com/a", "Article A"),
		articleDoc("https://example.com/b", "Article B"),
	}}
	parts := newTestPipeline(t, feedConn, &fakeCrawler{}, nil)

	n, err := parts.pipeline.RunFeed(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	list, err := parts.store.ListArticles(ctx, store.ArticleQuery{})
	require.NoError(t, err)
	require.Equal(t, 2, list.Total)
	require.Equal(t, "s", list.Articles[0].Summary)
	require.Equal(t, "gen-model", list.Articles[0].EnrichModel)

	require.Len(t, parts.events.Messages(), 2)
	require.NotNil(t, parts.blobs.Get("raw/gdelt/"+document.IDForURL("https://example.com/a")+".txt"))
}

func TestRunFeed_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	feedConn := &fakeFeed{docs: []document.Normalized{articleDoc("https://example.com/a", "Article A")}}
	parts := newTestPipeline(t, feedConn, &fakeCrawler{}, nil)

	first, err := parts.pipeline.RunFeed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first)

	second, err := parts.pipeline.RunFeed(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second, "known urls are skipped on the second run")

	list, err := parts.store.ListArticles(ctx, store.ArticleQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
}

func TestRunFeed_FetchFailurePropagates(t *testing.T) {
	t.Parallel()

	feedConn := &fakeFeed{err: errors.New("boom")}
	parts := newTestPipeline(t, feedConn, &fakeCrawler{}, nil)

	n, err := parts.pipeline.RunFeed(context.Background())
	require.Error(t, err)
	require.Zero(t, n)
}

func TestRunFeed_FilteredItemStopsWithoutError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	short := articleDoc("https://example.com/short", "Short")
	short.Content = []byte("tiny")
	feedConn := &fakeFeed{docs: []document.Normalized{
		short,
		articleDoc("https://example.com/ok", "OK"),
	}}
	parts := newTestPipeline(t, feedConn, &fakeCrawler{}, nil)

	n, err := parts.pipeline.RunFeed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "filtered item does not count as processed")

	// The filtered item still reaches the raw layer.
	known, err := parts.store.KnownURLs(ctx)
	require.NoError(t, err)
	require.Contains(t, known, "https://example.com/short")

	list, err := parts.store.ListArticles(ctx, store.ArticleQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total, "filtered item never reaches the enriched layer")
}

func TestRunCrawl_SharesKnownSetAcrossTargets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shared := crawlDoc("https://example.com/shared", "Shared", "one")
	sharedAgain := crawlDoc("https://example.com/shared", "Shared", "two")
	targets := []crawler.Target{{Name: "one"}, {Name: "two"}}
	crawl := &fakeCrawler{byTarget: map[string][]document.Normalized{
		"one": {shared},
		"two": {sharedAgain, crawlDoc("https://example.com/other", "Other", "two")},
	}}
	parts := newTestPipeline(t, &fakeFeed{}, crawl, targets)

	n, err := parts.pipeline.RunCrawl(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n, "url crawled by the first target is known to the second")

	require.Len(t, crawl.seen, 2)
	require.NotContains(t, crawl.seen[0], "https://example.com/shared")
	require.Contains(t, crawl.seen[1], "https://example.com/shared")
}

func TestRunCrawlTarget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	targets := []crawler.Target{{Name: "one"}, {Name: "two"}}
	crawl := &fakeCrawler{byTarget: map[string][]document.Normalized{
		"one": {crawlDoc("https://example.com/a", "A", "one")},
		"two": {crawlDoc("https://example.com/b", "B", "two")},
	}}
	parts := newTestPipeline(t, &fakeFeed{}, crawl, targets)

	n, err := parts.pipeline.RunCrawlTarget(ctx, targets[0])
	require.NoError(t, err)
	require.Equal(t, 1, n)

	list, err := parts.store.ListArticles(ctx, store.ArticleQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total, "only the requested target ran")
	require.Equal(t, "one", list.Articles[0].CrawlTarget)
}

func TestRunFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	parts := newTestPipeline(t, &fakeFeed{}, &fakeCrawler{}, nil)

	paraA := "The first paragraph of the report, long enough to become a chunk."
	paraB := "The second paragraph of the report, also long enough to keep."
	doc := document.Normalized{
		ID:          "file-1",
		Name:        "report.pdf",
		ContentType: "application/pdf",
		Content:     []byte(paraA + "\n\n" + paraB),
		ModifiedAt:  time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC),
	}

	n, err := parts.pipeline.RunFiles(ctx, []document.Normalized{doc})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	detail, err := parts.store.GetFile(ctx, "file-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Equal(t, "report.pdf", detail.Filename)
	require.Len(t, detail.Chunks, 2)
	require.Equal(t, "embed-model", detail.Chunks[0].EmbedModel)
}

func TestRunAll_FailedSourceReportsZero(t *testing.T) {
	t.Parallel()

	feedConn := &fakeFeed{err: errors.New("feed down")}
	targets := []crawler.Target{{Name: "one"}}
	crawl := &fakeCrawler{byTarget: map[string][]document.Normalized{
		"one": {crawlDoc("https://example.com/a", "A", "one")},
	}}
	parts := newTestPipeline(t, feedConn, crawl, targets)

	counts := parts.pipeline.RunAll(context.Background())
	require.Equal(t, 0, counts[document.SourceGdelt], "failed source reports zero")
	require.Equal(t, 1, counts[document.SourceSiteCrawl], "sibling source unaffected")

	msgs := parts.events.Messages()
	require.Equal(t, publisher.TopicRunCompleted, msgs[len(msgs)-1].Topic)
}
