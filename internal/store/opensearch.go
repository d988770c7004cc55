package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/document"
)

// OpenSearchConfig carries the connection settings of the search cluster.
type OpenSearchConfig struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
	EmbedDim           int
}

// OpenSearch is the production Provider backed by an OpenSearch cluster
// with the kNN plugin.
type OpenSearch struct {
	client   *opensearch.Client
	embedDim int
	logger   *zap.Logger
}

// NewOpenSearch connects to the cluster described by cfg.
func NewOpenSearch(cfg OpenSearchConfig, logger *zap.Logger) (*OpenSearch, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to opensearch: %w", err)
	}
	return &OpenSearch{client: client, embedDim: cfg.EmbedDim, logger: logger}, nil
}

func (s *OpenSearch) vectorMapping() map[string]any {
	return map[string]any{
		"type":      "knn_vector",
		"dimension": s.embedDim,
		"method": map[string]any{
			"name":       "disk_ann",
			"engine":     "jvector",
			"space_type": "l2",
			"parameters": map[string]any{"ef_construction": 100, "m": 16},
		},
	}
}

func (s *OpenSearch) indexMappings() map[string]map[string]any {
	settings := map[string]any{"number_of_shards": 1, "number_of_replicas": 0}
	knnSettings := map[string]any{
		"index.knn":          true,
		"number_of_shards":   1,
		"number_of_replicas": 0,
	}
	field := func(fieldType string) map[string]any {
		return map[string]any{"type": fieldType}
	}
	properties := func(props map[string]map[string]any) map[string]any {
		return map[string]any{"properties": props}
	}
	return map[string]map[string]any{
		IndexNewsRaw: {
			"settings": settings,
			"mappings": properties(map[string]map[string]any{
				"url":         field("keyword"),
				"source_type": field("keyword"),
				"crawled_at":  field("date"),
				"language":    field("keyword"),
			}),
		},
		IndexNewsClean: {
			"settings": settings,
			"mappings": properties(map[string]map[string]any{
				"url":         field("keyword"),
				"source_type": field("keyword"),
				"language":    field("keyword"),
				"published":   field("date"),
			}),
		},
		IndexNewsEnriched: {
			"settings": knnSettings,
			"mappings": properties(map[string]map[string]any{
				"vector":          s.vectorMapping(),
				"url":             field("keyword"),
				"source_type":     field("keyword"),
				"language":        field("keyword"),
				"published":       field("date"),
				"sentiment_label": field("keyword"),
				"topic":           field("keyword"),
				"entities":        field("nested"),
				"title":           field("text"),
				"clean_body":      field("text"),
				"summary":         field("text"),
			}),
		},
		IndexFilesRaw: {
			"settings": settings,
			"mappings": properties(map[string]map[string]any{
				"filename":    field("keyword"),
				"source_type": field("keyword"),
				"updated_at":  field("date"),
			}),
		},
		IndexFilesEnriched: {
			"settings": knnSettings,
			"mappings": properties(map[string]map[string]any{
				"vector":      s.vectorMapping(),
				"file_id":     field("keyword"),
				"chunk_index": field("integer"),
				"source_type": field("keyword"),
				"filename":    field("keyword"),
				"clean_text":  field("text"),
			}),
		},
	}
}

// EnsureIndices creates any missing indices with their mappings. Existing
// indices are left untouched.
func (s *OpenSearch) EnsureIndices(ctx context.Context) error {
	for name, body := range s.indexMappings() {
		exists, err := s.indexExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		res, err := opensearchapi.IndicesCreateRequest{
			Index: name,
			Body:  bytes.NewReader(payload),
		}.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("creating index %s: %w", name, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("creating index %s: %s", name, res.Status())
		}
		s.logger.Info("created search index", zap.String("index", name))
	}
	return nil
}

func (s *OpenSearch) indexExists(ctx context.Context, name string) (bool, error) {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, s.client)
	if err != nil {
		return false, fmt.Errorf("checking index %s: %w", name, err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

func (s *OpenSearch) upsert(ctx context.Context, index, id string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(payload),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("upserting into %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("upserting %s into %s: %s", id, index, res.Status())
	}
	return nil
}

func (s *OpenSearch) UpsertRaw(ctx context.Context, rec document.RawRecord) error {
	return s.upsert(ctx, IndexNewsRaw, rec.ID, rec)
}

func (s *OpenSearch) UpsertClean(ctx context.Context, rec document.CleanRecord) error {
	return s.upsert(ctx, IndexNewsClean, rec.ID, rec)
}

func (s *OpenSearch) UpsertEnriched(ctx context.Context, rec document.EnrichedRecord) error {
	return s.upsert(ctx, IndexNewsEnriched, rec.ID, rec)
}

func (s *OpenSearch) UpsertFile(ctx context.Context, rec document.FileRecord) error {
	return s.upsert(ctx, IndexFilesRaw, rec.ID, rec)
}

func (s *OpenSearch) UpsertChunk(ctx context.Context, chunk document.Chunk) error {
	return s.upsert(ctx, IndexFilesEnriched, chunk.ID, chunk)
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  float64         `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		ByDay struct {
			Buckets []struct {
				KeyAsString  string `json:"key_as_string"`
				DocCount     int    `json:"doc_count"`
				AvgSentiment struct {
					Value *float64 `json:"value"`
				} `json:"avg_sentiment"`
			} `json:"buckets"`
		} `json:"by_day"`
	} `json:"aggregations"`
}

func (s *OpenSearch) search(ctx context.Context, indices []string, body map[string]any) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	res, err := opensearchapi.SearchRequest{
		Index: indices,
		Body:  bytes.NewReader(payload),
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("searching %v: %w", indices, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("searching %v: %s", indices, res.Status())
	}
	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &parsed, nil
}

// KnownURLs reads back the source URLs of the raw layer. A read failure
// yields an empty set so the pipeline still runs (items reprocess as
// upserts, not duplicates).
func (s *OpenSearch) KnownURLs(ctx context.Context) (map[string]struct{}, error) {
	resp, err := s.search(ctx, []string{IndexNewsRaw}, map[string]any{
		"query":   map[string]any{"match_all": map[string]any{}},
		"_source": []string{"url"},
		"size":    knownURLLimit,
	})
	if err != nil {
		s.logger.Warn("could not fetch known urls", zap.Error(err))
		return map[string]struct{}{}, nil
	}

	known := make(map[string]struct{}, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var src struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(hit.Source, &src); err != nil || src.URL == "" {
			continue
		}
		known[src.URL] = struct{}{}
	}
	return known, nil
}

func (s *OpenSearch) ListArticles(ctx context.Context, q ArticleQuery) (*ArticleList, error) {
	page, pageSize := normalizePage(q.Page, q.PageSize)

	var filters []map[string]any
	if q.SourceType != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"source_type": q.SourceType}})
	}
	if q.Language != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"language": q.Language}})
	}
	query := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"must": filters}}
	}

	resp, err := s.search(ctx, []string{IndexNewsEnriched}, map[string]any{
		"query":   query,
		"from":    (page - 1) * pageSize,
		"size":    pageSize,
		"sort":    []map[string]any{{"published": map[string]any{"order": "desc"}}},
		"_source": map[string]any{"excludes": []string{"vector", "clean_body"}},
	})
	if err != nil {
		return nil, err
	}

	articles := make([]document.EnrichedRecord, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var rec document.EnrichedRecord
		if err := json.Unmarshal(hit.Source, &rec); err != nil {
			continue
		}
		rec.ID = hit.ID
		articles = append(articles, rec)
	}
	return &ArticleList{
		Total:    resp.Hits.Total.Value,
		Page:     page,
		PageSize: pageSize,
		Articles: articles,
	}, nil
}

func (s *OpenSearch) GetArticle(ctx context.Context, id string) (*document.EnrichedRecord, error) {
	res, err := opensearchapi.GetRequest{Index: IndexNewsEnriched, DocumentID: id}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("getting article %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("getting article %s: %s", id, res.Status())
	}

	var doc struct {
		ID     string                  `json:"_id"`
		Source document.EnrichedRecord `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding article %s: %w", id, err)
	}
	rec := doc.Source
	rec.ID = doc.ID
	rec.Vector = nil
	return &rec, nil
}

func (s *OpenSearch) ListFiles(ctx context.Context, page, pageSize int) (*FileList, error) {
	page, pageSize = normalizePage(page, pageSize)
	resp, err := s.search(ctx, []string{IndexFilesRaw}, map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"from":  (page - 1) * pageSize,
		"size":  pageSize,
		"sort":  []map[string]any{{"updated_at": map[string]any{"order": "desc"}}},
	})
	if err != nil {
		return nil, err
	}

	files := make([]document.FileRecord, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var rec document.FileRecord
		if err := json.Unmarshal(hit.Source, &rec); err != nil {
			continue
		}
		rec.ID = hit.ID
		files = append(files, rec)
	}
	return &FileList{Total: resp.Hits.Total.Value, Files: files}, nil
}

func (s *OpenSearch) GetFile(ctx context.Context, id string) (*FileDetail, error) {
	res, err := opensearchapi.GetRequest{Index: IndexFilesRaw, DocumentID: id}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("getting file %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("getting file %s: %s", id, res.Status())
	}

	var doc struct {
		ID     string              `json:"_id"`
		Source document.FileRecord `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding file %s: %w", id, err)
	}
	detail := &FileDetail{FileRecord: doc.Source}
	detail.ID = doc.ID

	resp, err := s.search(ctx, []string{IndexFilesEnriched}, map[string]any{
		"query":   map[string]any{"term": map[string]any{"file_id": id}},
		"sort":    []map[string]any{{"chunk_index": map[string]any{"order": "asc"}}},
		"size":    200,
		"_source": map[string]any{"excludes": []string{"vector"}},
	})
	if err != nil {
		return nil, err
	}
	for _, hit := range resp.Hits.Hits {
		var chunk document.Chunk
		if err := json.Unmarshal(hit.Source, &chunk); err != nil {
			continue
		}
		chunk.ID = hit.ID
		detail.Chunks = append(detail.Chunks, chunk)
	}
	return detail, nil
}

func (s *OpenSearch) Trends(ctx context.Context, days int) ([]TrendPoint, error) {
	resp, err := s.search(ctx, []string{IndexNewsEnriched}, map[string]any{
		"size": 0,
		"query": map[string]any{
			"range": map[string]any{
				"published": map[string]any{"gte": fmt.Sprintf("now-%dd/d", days)},
			},
		},
		"aggs": map[string]any{
			"by_day": map[string]any{
				"date_histogram": map[string]any{
					"field":             "published",
					"calendar_interval": "day",
					"format":            "yyyy-MM-dd",
				},
				"aggs": map[string]any{
					"avg_sentiment": map[string]any{"avg": map[string]any{"field": "sentiment_score"}},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	points := make([]TrendPoint, 0, len(resp.Aggregations.ByDay.Buckets))
	for _, bucket := range resp.Aggregations.ByDay.Buckets {
		var avg float64
		if bucket.AvgSentiment.Value != nil {
			avg = *bucket.AvgSentiment.Value
		}
		points = append(points, TrendPoint{
			Date:         bucket.KeyAsString,
			Count:        bucket.DocCount,
			SentimentAvg: math.Round(avg*1000) / 1000,
		})
	}
	return points, nil
}

func (s *OpenSearch) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	searchNews, searchFiles := searchScopes(q.SourceTypes)
	var indices []string
	if searchNews {
		indices = append(indices, IndexNewsEnriched)
	}
	if searchFiles {
		indices = append(indices, IndexFilesEnriched)
	}

	var filters []map[string]any
	if len(q.SourceTypes) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"source_type": q.SourceTypes}})
	}
	if q.Language != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"language": q.Language}})
	}
	if q.Sentiment != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"sentiment_label": q.Sentiment}})
	}
	if q.Topic != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"topic": q.Topic}})
	}
	if !q.DateFrom.IsZero() || !q.DateTo.IsZero() {
		dateRange := map[string]any{}
		if !q.DateFrom.IsZero() {
			dateRange["gte"] = q.DateFrom.UTC().Format(time.RFC3339)
		}
		if !q.DateTo.IsZero() {
			dateRange["lte"] = q.DateTo.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{"range": map[string]any{"published": dateRange}})
	}

	knnField := map[string]any{
		"vector": q.Vector,
		"k":      q.TopK,
	}
	if len(filters) > 0 {
		knnField["filter"] = map[string]any{"bool": map[string]any{"must": filters}}
	}

	resp, err := s.search(ctx, indices, map[string]any{
		"query": map[string]any{"knn": map[string]any{"vector": knnField}},
		"size":  q.TopK,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var src struct {
			SourceType     string `json:"source_type"`
			URL            string `json:"url"`
			Title          string `json:"title"`
			Summary        string `json:"summary"`
			SentimentLabel string `json:"sentiment_label"`
			Topic          string `json:"topic"`
			Language       string `json:"language"`
			Published      string `json:"published"`
			Filename       string `json:"filename"`
		}
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			continue
		}
		hits = append(hits, SearchHit{
			ID:             hit.ID,
			SourceType:     src.SourceType,
			Score:          hit.Score,
			URL:            src.URL,
			Title:          src.Title,
			Summary:        src.Summary,
			SentimentLabel: src.SentimentLabel,
			Topic:          src.Topic,
			Language:       src.Language,
			Published:      src.Published,
			Filename:       src.Filename,
		})
	}
	return &SearchResult{Total: resp.Hits.Total.Value, Hits: hits}, nil
}

func (s *OpenSearch) Close() error { return nil }
