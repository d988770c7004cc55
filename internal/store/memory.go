package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/feedforge/newsetl/internal/document"
)

// Memory is an in-process Provider used in tests and local development.
type Memory struct {
	mu       sync.RWMutex
	raw      map[string]document.RawRecord
	clean    map[string]document.CleanRecord
	enriched map[string]document.EnrichedRecord
	files    map[string]document.FileRecord
	chunks   map[string]document.Chunk

	now func() time.Time
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		raw:      make(map[string]document.RawRecord),
		clean:    make(map[string]document.CleanRecord),
		enriched: make(map[string]document.EnrichedRecord),
		files:    make(map[string]document.FileRecord),
		chunks:   make(map[string]document.Chunk),
		now:      time.Now,
	}
}

func (m *Memory) EnsureIndices(context.Context) error { return nil }

func (m *Memory) UpsertRaw(_ context.Context, rec document.RawRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[rec.ID] = rec
	return nil
}

func (m *Memory) UpsertClean(_ context.Context, rec document.CleanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clean[rec.ID] = rec
	return nil
}

func (m *Memory) UpsertEnriched(_ context.Context, rec document.EnrichedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enriched[rec.ID] = rec
	return nil
}

func (m *Memory) UpsertFile(_ context.Context, rec document.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[rec.ID] = rec
	return nil
}

func (m *Memory) UpsertChunk(_ context.Context, chunk document.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunk.ID] = chunk
	return nil
}

func (m *Memory) KnownURLs(context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	known := make(map[string]struct{}, len(m.raw))
	for _, rec := range m.raw {
		if len(known) >= knownURLLimit {
			break
		}
		if rec.URL != "" {
			known[rec.URL] = struct{}{}
		}
	}
	return known, nil
}

func (m *Memory) ListArticles(_ context.Context, q ArticleQuery) (*ArticleList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []document.EnrichedRecord
	for _, rec := range m.enriched {
		if q.SourceType != "" && rec.SourceType != q.SourceType {
			continue
		}
		if q.Language != "" && rec.Language != q.Language {
			continue
		}
		rec.Vector = nil
		rec.Body = ""
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Published.After(matched[j].Published)
	})

	total := len(matched)
	page, pageSize := normalizePage(q.Page, q.PageSize)
	matched = paginate(matched, page, pageSize)
	return &ArticleList{Total: total, Page: page, PageSize: pageSize, Articles: matched}, nil
}

func (m *Memory) GetArticle(_ context.Context, id string) (*document.EnrichedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.enriched[id]
	if !ok {
		return nil, nil
	}
	rec.Vector = nil
	return &rec, nil
}

func (m *Memory) ListFiles(_ context.Context, page, pageSize int) (*FileList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]document.FileRecord, 0, len(m.files))
	for _, rec := range m.files {
		files = append(files, rec)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].UpdatedAt.After(files[j].UpdatedAt)
	})

	total := len(files)
	page, pageSize = normalizePage(page, pageSize)
	return &FileList{Total: total, Files: paginate(files, page, pageSize)}, nil
}

func (m *Memory) GetFile(_ context.Context, id string) (*FileDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, nil
	}

	var chunks []document.Chunk
	for _, chunk := range m.chunks {
		if chunk.FileID == id {
			chunk.Vector = nil
			chunks = append(chunks, chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return &FileDetail{FileRecord: rec, Chunks: chunks}, nil
}

func (m *Memory) Trends(_ context.Context, days int) ([]TrendPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().UTC().AddDate(0, 0, -days)

	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, rec := range m.enriched {
		if rec.Published.Before(cutoff) {
			continue
		}
		day := rec.Published.UTC().Format("2006-01-02")
		counts[day]++
		sums[day] += rec.SentimentScore
	}

	points := make([]TrendPoint, 0, len(counts))
	for day, count := range counts {
		avg := sums[day] / float64(count)
		points = append(points, TrendPoint{
			Date:         day,
			Count:        count,
			SentimentAvg: math.Round(avg*1000) / 1000,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

func (m *Memory) Search(_ context.Context, q SearchQuery) (*SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	searchNews, searchFiles := searchScopes(q.SourceTypes)

	var hits []SearchHit
	if searchNews {
		for _, rec := range m.enriched {
			if !m.articleMatches(rec, q) {
				continue
			}
			hits = append(hits, SearchHit{
				ID:             rec.ID,
				SourceType:     rec.SourceType,
				Score:          knnScore(q.Vector, rec.Vector),
				URL:            rec.URL,
				Title:          rec.Title,
				Summary:        rec.Summary,
				SentimentLabel: rec.SentimentLabel,
				Topic:          rec.Topic,
				Language:       rec.Language,
				Published:      rec.Published.UTC().Format(time.RFC3339),
			})
		}
	}
	if searchFiles {
		for _, chunk := range m.chunks {
			hits = append(hits, SearchHit{
				ID:         chunk.ID,
				SourceType: chunk.SourceType,
				Score:      knnScore(q.Vector, chunk.Vector),
				Filename:   chunk.Filename,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	total := len(hits)
	if q.TopK > 0 && len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return &SearchResult{Total: total, Hits: hits}, nil
}

func (m *Memory) articleMatches(rec document.EnrichedRecord, q SearchQuery) bool {
	if len(q.SourceTypes) > 0 && !contains(q.SourceTypes, rec.SourceType) {
		return false
	}
	if q.Language != "" && rec.Language != q.Language {
		return false
	}
	if q.Sentiment != "" && rec.SentimentLabel != q.Sentiment {
		return false
	}
	if q.Topic != "" && rec.Topic != q.Topic {
		return false
	}
	if !q.DateFrom.IsZero() && rec.Published.Before(q.DateFrom) {
		return false
	}
	if !q.DateTo.IsZero() && rec.Published.After(q.DateTo) {
		return false
	}
	return true
}

func (m *Memory) Close() error { return nil }

// searchScopes maps requested source types onto the two enriched layers.
// No filter means both.
func searchScopes(sourceTypes []string) (news, files bool) {
	if len(sourceTypes) == 0 {
		return true, true
	}
	for _, st := range sourceTypes {
		switch st {
		case document.SourceFile:
			files = true
		default:
			news = true
		}
	}
	return news, files
}

// knnScore mirrors the l2 scoring of the search engine: closer vectors
// score higher, a missing vector scores zero.
func knnScore(query, vec []float32) float64 {
	if len(query) == 0 || len(vec) != len(query) {
		return 0
	}
	var sum float64
	for i := range query {
		d := float64(query[i]) - float64(vec[i])
		sum += d * d
	}
	return 1 / (1 + sum)
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}

func paginate[T any](items []T, page, pageSize int) []T {
	from := (page - 1) * pageSize
	if from >= len(items) {
		return nil
	}
	to := from + pageSize
	if to > len(items) {
		to = len(items)
	}
	return items[from:to]
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
