package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/cleaner"
	"github.com/feedforge/newsetl/internal/crawler"
	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/enricher"
	"github.com/feedforge/newsetl/internal/pipeline"
	"github.com/feedforge/newsetl/internal/store"
)

type fakeFeed struct {
	docs []document.Normalized
}

func (f *fakeFeed) FetchArticles(context.Context) ([]document.Normalized, error) {
	return f.docs, nil
}

type fakeCrawler struct{}

func (fakeCrawler) Crawl(context.Context, crawler.Target, map[string]struct{}) []document.Normalized {
	return nil
}

type fakeModel struct{}

func (fakeModel) Generate(context.Context, string) (string, error) {
	return `{"summary":"s","sentiment_label":"positive","sentiment_score":0.4,"entities":[],"topic":"ai"}`, nil
}

func (fakeModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

type fakeScheduler struct{ running bool }

func (f fakeScheduler) Running() bool { return f.running }

const feedBody = "A body comfortably past the one hundred character minimum used " +
	"by the cleaning stage of this service test fixture."

func feedDoc(url string) document.Normalized {
	return document.Normalized{
		ID:          document.IDForURL(url),
		Name:        "doc.txt",
		ContentType: "text/plain",
		Content:     []byte(feedBody),
		SourceURL:   url,
		CreatedAt:   time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC),
		Metadata: map[string]string{
			"source_type": document.SourceGdelt,
			"title":       "Doc",
			"language":    "en",
		},
	}
}

func newTestService(t *testing.T, sched SchedulerState) (*Service, *store.Memory) {
	t.Helper()
	logger := zap.NewNop()
	mem := store.NewMemory()
	enrich := enricher.New(fakeModel{}, "gen", "embed", 4000, logger)
	p := pipeline.New(
		&fakeFeed{docs: []document.Normalized{feedDoc("https://example.com/a")}},
		fakeCrawler{},
		nil,
		cleaner.New(100, []string{"en", "ja"}, logger),
		enrich,
		mem,
		nil,
		nil,
		logger,
	)
	return New(p, mem, enrich, sched, logger), mem
}

func TestTriggerETLAndStatus(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, fakeScheduler{running: true})

	before := svc.ETLStatus()
	require.Nil(t, before.GdeltLastRun)
	require.Nil(t, before.CrawlLastRun)
	require.True(t, before.SchedulerRunning)

	counts := svc.TriggerETL(context.Background())
	require.Equal(t, 1, counts[document.SourceGdelt])
	require.Equal(t, 0, counts[document.SourceSiteCrawl])

	after := svc.ETLStatus()
	require.NotNil(t, after.GdeltLastRun)
	require.NotNil(t, after.CrawlLastRun)
}

func TestETLStatus_NilSchedulerReadsNotRunning(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	require.False(t, svc.ETLStatus().SchedulerRunning)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	svc.TriggerETL(ctx)

	res, err := svc.Search(ctx, SearchRequest{Query: "example"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, document.IDForURL("https://example.com/a"), res.Hits[0].ID)

	_, err = svc.Search(ctx, SearchRequest{})
	require.Error(t, err, "empty query is rejected")
}

func TestReadAccessors(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	svc.TriggerETL(ctx)

	list, err := svc.ListArticles(ctx, store.ArticleQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)

	article, err := svc.GetArticle(ctx, list.Articles[0].ID)
	require.NoError(t, err)
	require.NotNil(t, article)

	missing, err := svc.GetArticle(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	trends, err := svc.Trends(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, trends, "published date outside the default window")
}
