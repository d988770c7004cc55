// Package cleaner turns raw connector documents into normalized clean
// records: markup stripping, whitespace/unicode normalization, length and
// language filtering, and paragraph chunking for multi-part sources.
package cleaner

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/metrics"
)

const (
	detectWindowChars = 2000
	minChunkChars     = 30
)

var (
	crlfRe       = regexp.MustCompile(`\r\n|\r`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// Cleaner filters and normalizes documents before enrichment.
type Cleaner struct {
	minBodyChars int
	allowedLangs map[string]struct{}
	logger       *zap.Logger
}

// New builds a Cleaner. Documents whose normalized body is shorter than
// minBodyChars, or whose resolved language falls outside allowedLangs,
// are filtered out.
func New(minBodyChars int, allowedLangs []string, logger *zap.Logger) *Cleaner {
	allowed := make(map[string]struct{}, len(allowedLangs))
	for _, lang := range allowedLangs {
		allowed[strings.ToLower(lang)] = struct{}{}
	}
	return &Cleaner{
		minBodyChars: minBodyChars,
		allowedLangs: allowed,
		logger:       logger,
	}
}

// CleanArticle produces the clean-layer record for a raw article document.
// It returns nil when the article is filtered out (too short, off-language);
// filtering is a normal outcome, not an error.
func (c *Cleaner) CleanArticle(doc document.Normalized) *document.CleanRecord {
	raw := string(doc.Content)

	var body string
	if strings.Contains(doc.ContentType, "html") {
		body = stripHTML(raw)
	} else {
		body = raw
	}
	body = normalizeWhitespace(body)

	if len([]rune(body)) < c.minBodyChars {
		c.logger.Debug("article body too short, skipping", zap.String("url", doc.SourceURL))
		metrics.ObserveFiltered("too_short")
		return nil
	}

	lang := normalizeLanguageHint(doc.Metadata["language"])
	if lang == "" {
		lang = detectLanguage(body)
	}
	if lang != "" {
		if _, ok := c.allowedLangs[lang]; !ok {
			c.logger.Debug("non-target language, skipping",
				zap.String("lang", lang), zap.String("url", doc.SourceURL))
			metrics.ObserveFiltered("language")
			return nil
		}
	} else {
		// Detection failure keeps the item rather than dropping content.
		lang = "en"
	}

	return &document.CleanRecord{
		ID:           doc.ID,
		URL:          doc.SourceURL,
		Title:        doc.Metadata["title"],
		Body:         body,
		Published:    doc.CreatedAt,
		Language:     lang,
		SourceType:   sourceTypeOf(doc),
		SiteCategory: doc.Metadata["site_category"],
		CrawlTarget:  doc.Metadata["crawl_target"],
	}
}

// CleanChunks splits a multi-part document into paragraph chunks on
// blank-line boundaries, discarding paragraphs shorter than 30 characters.
func (c *Cleaner) CleanChunks(doc document.Normalized) []document.Chunk {
	body := normalizeWhitespace(string(doc.Content))

	var chunks []document.Chunk
	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if len([]rune(para)) < minChunkChars {
			continue
		}
		chunks = append(chunks, document.Chunk{
			ID:          document.ChunkID(doc.ID, len(chunks)),
			FileID:      doc.ID,
			Index:       len(chunks),
			Text:        para,
			Filename:    doc.Name,
			ContentType: doc.ContentType,
			SourceType:  document.SourceFile,
		})
	}
	return chunks
}

// stripHTML flattens markup to plain text, dropping script and style
// content entirely.
func stripHTML(raw string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(raw)))
	if err != nil {
		return raw
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text()
}

func normalizeWhitespace(text string) string {
	text = norm.NFC.String(text)
	text = crlfRe.ReplaceAllString(text, "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = newlineRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// detectLanguage returns the ISO 639-1 code of the detected language, or
// "" when detection is unreliable.
func detectLanguage(text string) string {
	runes := []rune(text)
	if len(runes) > detectWindowChars {
		runes = runes[:detectWindowChars]
	}
	info := whatlanggo.Detect(string(runes))
	if info.Lang == -1 || !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// languageNames maps the full language names some feeds report to ISO
// 639-1 codes.
var languageNames = map[string]string{
	"english":  "en",
	"japanese": "ja",
}

func normalizeLanguageHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return ""
	}
	if code, ok := languageNames[hint]; ok {
		return code
	}
	return hint
}

func sourceTypeOf(doc document.Normalized) string {
	if st := doc.Metadata["source_type"]; st != "" {
		return st
	}
	return "unknown"
}
