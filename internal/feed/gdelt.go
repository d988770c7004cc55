// Package feed implements the keyword news-feed connector against the
// GDELT DOC 2.0 article-list API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/metrics"
)

const (
	maxAttempts      = 3
	maxResponseBytes = 16 << 20
)

// Article is one entry of the feed API's article list.
type Article struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Domain      string `json:"domain"`
	Language    string `json:"language"`
	SeenDate    string `json:"seendate"`
	SocialImage string `json:"socialimage"`
}

type articleList struct {
	Articles []Article `json:"articles"`
}

// Connector fetches recent articles matching a keyword query.
type Connector struct {
	client     *http.Client
	baseURL    string
	keyword    string
	maxRecords int
	timespan   string
	logger     *zap.Logger

	backoffBase time.Duration
	now         func() time.Time
}

// NewConnector builds a Connector against baseURL. The keyword, record cap
// and timespan become fixed query parameters of every fetch.
func NewConnector(client *http.Client, baseURL, keyword string, maxRecords int, timespan string, logger *zap.Logger) *Connector {
	return &Connector{
		client:      client,
		baseURL:     baseURL,
		keyword:     keyword,
		maxRecords:  maxRecords,
		timespan:    timespan,
		logger:      logger,
		backoffBase: time.Second,
		now:         time.Now,
	}
}

// FetchArticles queries the feed API and maps each article to a normalized
// document. Server errors and transport failures are retried with
// exponential backoff; a client error fails the fetch immediately.
func (c *Connector) FetchArticles(ctx context.Context) ([]document.Normalized, error) {
	reqURL := fmt.Sprintf("%s?query=%s&mode=ArtList&maxrecords=%d&format=json&timespan=%s",
		c.baseURL, url.QueryEscape(c.keyword), c.maxRecords, c.timespan)

	c.logger.Info("fetching feed articles",
		zap.String("query", c.keyword),
		zap.Int("max_records", c.maxRecords),
		zap.String("timespan", c.timespan))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		metrics.ObserveFetch(document.SourceGdelt, "error")
		return nil, err
	}
	metrics.ObserveFetch(document.SourceGdelt, "ok")

	var list articleList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decoding feed response: %w", err)
	}

	docs := make([]document.Normalized, 0, len(list.Articles))
	for _, article := range list.Articles {
		if article.URL == "" {
			c.logger.Warn("feed article without url, skipping", zap.String("title", article.Title))
			continue
		}
		docs = append(docs, c.toDocument(article))
	}
	c.logger.Info("feed articles fetched", zap.Int("count", len(docs)))
	return docs, nil
}

func (c *Connector) get(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, retryable, err := c.getOnce(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("feed fetch failed",
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt == maxAttempts {
			break
		}
		backoff := c.backoffBase << attempt
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// getOnce reports whether a failure may be retried: transport errors and
// 5xx responses are transient, 4xx responses are not.
func (c *Connector) getOnce(ctx context.Context, reqURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("feed server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("feed request rejected: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("reading feed response: %w", err)
	}
	return body, false, nil
}

// seenDateLayout is the feed API's article timestamp format.
const seenDateLayout = "20060102T150405Z"

func (c *Connector) toDocument(article Article) document.Normalized {
	seen, err := time.Parse(seenDateLayout, article.SeenDate)
	if err != nil {
		seen = c.now().UTC()
	}

	content := fmt.Sprintf("# %s\n\nURL: %s\nDomain: %s\nSeen: %s\n",
		article.Title, article.URL, article.Domain, article.SeenDate)

	return document.Normalized{
		ID:          document.IDForURL(article.URL),
		Name:        truncate(article.Title, 80) + ".txt",
		ContentType: "text/plain",
		Content:     []byte(content),
		SourceURL:   article.URL,
		CreatedAt:   seen,
		ModifiedAt:  seen,
		Metadata: map[string]string{
			"source_type": document.SourceGdelt,
			"title":       article.Title,
			"domain":      article.Domain,
			"language":    article.Language,
			"seendate":    article.SeenDate,
			"socialimage": article.SocialImage,
		},
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
