// Package enricher adds AI-generated fields (summary, sentiment, entities,
// topic) and embedding vectors to cleaned records via a remote
// language-model service.
package enricher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const clientMaxAttempts = 3

// ClientConfig carries the connection and model settings for the
// language-model service.
type ClientConfig struct {
	BaseURL       string
	AuthURL       string
	Username      string
	Password      string
	ProjectID     string
	APIVersion    string
	GenerateModel string
	EmbedModel    string
}

// Client talks to the language-model service's generation and embedding
// endpoints. A bearer token is cached in memory; a 401 response clears it
// and forces re-authentication on the retry.
type Client struct {
	http   *http.Client
	cfg    ClientConfig
	logger *zap.Logger

	mu    sync.RWMutex
	token string

	backoffBase time.Duration
}

// NewClient builds a Client. The supplied http.Client controls timeouts
// and TLS settings.
func NewClient(httpClient *http.Client, cfg ClientConfig, logger *zap.Logger) *Client {
	return &Client{
		http:        httpClient,
		cfg:         cfg,
		logger:      logger,
		backoffBase: time.Second,
	}
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return c.authenticate(ctx)
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth rejected: status %d", resp.StatusCode)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding auth response: %w", err)
	}
	token := body.Token
	if token == "" {
		token = body.AccessToken
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

// Generate calls the text-generation endpoint and returns the generated
// text. An exhausted attempt budget where every failure was a 401 yields
// an empty result without error.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	reqURL := fmt.Sprintf("%s/ml/v1/text/generation?version=%s", c.cfg.BaseURL, c.cfg.APIVersion)
	payload := map[string]any{
		"model_id":   c.cfg.GenerateModel,
		"project_id": c.cfg.ProjectID,
		"input":      prompt,
		"parameters": map[string]any{
			"decoding_method":    "greedy",
			"max_new_tokens":     1024,
			"repetition_penalty": 1.05,
		},
	}

	var result struct {
		Results []struct {
			GeneratedText string `json:"generated_text"`
		} `json:"results"`
	}
	ok, err := c.post(ctx, "generate", reqURL, payload, &result)
	if err != nil {
		return "", err
	}
	if !ok || len(result.Results) == 0 {
		return "", nil
	}
	return strings.TrimSpace(result.Results[0].GeneratedText), nil
}

// Embed calls the embedding endpoint for a batch of texts. An exhausted
// attempt budget where every failure was a 401 yields empty vectors
// without error.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqURL := fmt.Sprintf("%s/ml/v1/text/embeddings?version=%s", c.cfg.BaseURL, c.cfg.APIVersion)
	payload := map[string]any{
		"model_id":   c.cfg.EmbedModel,
		"project_id": c.cfg.ProjectID,
		"inputs":     texts,
	}

	var result struct {
		Results []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"results"`
	}
	ok, err := c.post(ctx, "embed", reqURL, payload, &result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return make([][]float32, len(texts)), nil
	}
	vectors := make([][]float32, 0, len(result.Results))
	for _, item := range result.Results {
		vectors = append(vectors, item.Embedding)
	}
	return vectors, nil
}

// post runs the shared retry loop. A 401 clears the cached token and
// retries immediately within the same attempt budget; other failures back
// off exponentially. The boolean result is false when the budget was
// exhausted without a definitive outcome.
func (c *Client) post(ctx context.Context, op, reqURL string, payload any, out any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	for attempt := 1; attempt <= clientMaxAttempts; attempt++ {
		token, err := c.bearerToken(ctx)
		if err != nil {
			return false, fmt.Errorf("%s auth: %w", op, err)
		}

		status, respBody, err := c.postOnce(ctx, reqURL, token, body)
		if err == nil && status == http.StatusOK {
			if err := json.Unmarshal(respBody, out); err != nil {
				return false, fmt.Errorf("decoding %s response: %w", op, err)
			}
			return true, nil
		}
		if err == nil && status == http.StatusUnauthorized {
			c.logger.Info("bearer token expired, re-authenticating", zap.String("op", op))
			c.invalidateToken()
			continue
		}

		if err == nil {
			err = fmt.Errorf("%s failed: status %d", op, status)
		}
		c.logger.Warn("model service call failed",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == clientMaxAttempts {
			return false, err
		}
		backoff := c.backoffBase << attempt
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return false, nil
}

func (c *Client) postOnce(ctx context.Context, reqURL, token string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
