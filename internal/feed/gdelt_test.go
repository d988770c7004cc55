package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/document"
)

const sampleResponse = `{
	"articles": [
		{
			"url": "https://example.com/ibm-article-1",
			"title": "IBM Announces New AI Model",
			"domain": "example.com",
			"language": "English",
			"seendate": "20260221T120000Z",
			"socialimage": ""
		},
		{
			"url": "https://example.com/ibm-article-2",
			"title": "IBM Cloud Expansion",
			"domain": "example.com",
			"language": "English",
			"seendate": "20260221T130000Z",
			"socialimage": ""
		}
	]
}`

func newTestConnector(srv *httptest.Server) *Connector {
	c := NewConnector(srv.Client(), srv.URL, "IBM", 250, "15min", zap.NewNop())
	c.backoffBase = time.Millisecond
	return c
}

func TestFetchArticles(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		fmt.Fprint(w, sampleResponse)
	}))
	defer srv.Close()

	docs, err := newTestConnector(srv).FetchArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	require.Equal(t, "query=IBM&mode=ArtList&maxrecords=250&format=json&timespan=15min", gotQuery.Load())

	first := docs[0]
	require.Equal(t, document.IDForURL("https://example.com/ibm-article-1"), first.ID)
	require.Equal(t, "IBM Announces New AI Model.txt", first.Name)
	require.Equal(t, "text/plain", first.ContentType)
	require.Equal(t, "https://example.com/ibm-article-1", first.SourceURL)
	require.Equal(t, time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC), first.CreatedAt)
	require.Equal(t, document.SourceGdelt, first.Metadata["source_type"])
	require.Equal(t, "example.com", first.Metadata["domain"])

	want := "# IBM Announces New AI Model\n\n" +
		"URL: https://example.com/ibm-article-1\n" +
		"Domain: example.com\n" +
		"Seen: 20260221T120000Z\n"
	require.Equal(t, want, string(first.Content))
}

func TestFetchArticles_SkipsEmptyURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"articles":[{"url":"","title":"orphan"},{"url":"https://example.com/a","title":"kept","seendate":"20260221T120000Z"}]}`)
	}))
	defer srv.Close()

	docs, err := newTestConnector(srv).FetchArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "https://example.com/a", docs[0].SourceURL)
}

func TestFetchArticles_BadSeenDateFallsBackToNow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"articles":[{"url":"https://example.com/a","title":"t","seendate":"not-a-date"}]}`)
	}))
	defer srv.Close()

	c := newTestConnector(srv)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	docs, err := c.FetchArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, fixed, docs[0].CreatedAt)
}

func TestFetchArticles_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, sampleResponse)
	}))
	defer srv.Close()

	docs, err := newTestConnector(srv).FetchArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchArticles_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestConnector(srv).FetchArticles(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(maxAttempts), calls.Load())
}

func TestFetchArticles_ClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestConnector(srv).FetchArticles(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}
