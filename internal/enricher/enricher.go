package enricher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/metrics"
)

const enrichPromptTemplate = `You are an AI analyst. Analyze the following news article and return a JSON object with these fields:
- summary: a concise 2-3 sentence summary in the same language as the article
- sentiment_label: one of "positive", "neutral", or "negative"
- sentiment_score: float between -1.0 (very negative) and 1.0 (very positive)
- entities: list of objects with "name" (string) and "type" (one of "org", "person", "location", "product", "technology")
- topic: one of "ai", "cloud", "security", "consulting", "finance", "research", "other"

Respond ONLY with valid JSON, no markdown fences.

Article title: %s
Article body:
%s`

// ModelClient is the slice of the language-model service the enricher needs.
type ModelClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Enricher computes the AI-generated fields and embedding vectors of the
// enriched layer.
type Enricher struct {
	client         ModelClient
	generateModel  string
	embedModel     string
	maxPromptChars int
	logger         *zap.Logger
}

// New builds an Enricher. Article bodies are truncated to maxPromptChars
// before prompting to respect the model's context limit.
func New(client ModelClient, generateModel, embedModel string, maxPromptChars int, logger *zap.Logger) *Enricher {
	return &Enricher{
		client:         client,
		generateModel:  generateModel,
		embedModel:     embedModel,
		maxPromptChars: maxPromptChars,
		logger:         logger,
	}
}

type enrichment struct {
	Summary        string            `json:"summary"`
	SentimentLabel string            `json:"sentiment_label"`
	SentimentScore float64           `json:"sentiment_score"`
	Entities       []document.Entity `json:"entities"`
	Topic          string            `json:"topic"`
}

func neutralEnrichment() enrichment {
	return enrichment{
		SentimentLabel: document.SentimentNeutral,
		SentimentScore: 0,
		Entities:       []document.Entity{},
		Topic:          "other",
	}
}

// Enrich produces the enriched record for a cleaned article. A model
// failure or unparsable model output substitutes neutral defaults rather
// than failing the item; the embedding is computed independently of the
// generation outcome.
func (e *Enricher) Enrich(ctx context.Context, clean document.CleanRecord) document.EnrichedRecord {
	body := truncateRunes(clean.Body, e.maxPromptChars)
	prompt := fmt.Sprintf(enrichPromptTemplate, clean.Title, body)

	parsed := neutralEnrichment()
	raw, err := e.client.Generate(ctx, prompt)
	if err != nil {
		e.logger.Warn("enrichment generation failed",
			zap.String("url", clean.URL), zap.Error(err))
		metrics.ObserveEnrichFailure()
	} else if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		e.logger.Warn("failed to parse enrichment JSON",
			zap.String("url", clean.URL), zap.Error(err))
		metrics.ObserveEnrichFailure()
		parsed = neutralEnrichment()
	}
	if parsed.SentimentLabel == "" {
		parsed.SentimentLabel = document.SentimentNeutral
	}
	if parsed.Topic == "" {
		parsed.Topic = "other"
	}
	if parsed.Entities == nil {
		parsed.Entities = []document.Entity{}
	}

	vector := e.embedOne(ctx, clean.Title+"\n"+body, clean.URL)

	return document.EnrichedRecord{
		CleanRecord:    clean,
		Summary:        parsed.Summary,
		SentimentLabel: parsed.SentimentLabel,
		SentimentScore: parsed.SentimentScore,
		Entities:       parsed.Entities,
		Topic:          parsed.Topic,
		Vector:         vector,
		EnrichModel:    e.generateModel,
		EmbedModel:     e.embedModel,
	}
}

// EnrichChunk computes the embedding of one document chunk; chunks get no
// generated fields.
func (e *Enricher) EnrichChunk(ctx context.Context, chunk document.Chunk) document.Chunk {
	chunk.Vector = e.embedOne(ctx, truncateRunes(chunk.Text, e.maxPromptChars), chunk.ID)
	chunk.EmbedModel = e.embedModel
	return chunk
}

// EmbedQuery embeds free text, for search-time use.
func (e *Enricher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

func (e *Enricher) embedOne(ctx context.Context, text, ref string) []float32 {
	vectors, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		e.logger.Warn("embedding failed", zap.String("ref", ref), zap.Error(err))
		metrics.ObserveEnrichFailure()
		return nil
	}
	if len(vectors) == 0 {
		return nil
	}
	return vectors[0]
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
