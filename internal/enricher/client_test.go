package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// modelService is a fake language-model backend with a rotating token.
type modelService struct {
	authCalls  atomic.Int32
	genCalls   atomic.Int32
	embedCalls atomic.Int32

	// expireFirstToken makes the first issued token invalid so the first
	// generation/embedding call gets a 401.
	expireFirstToken bool
}

func (m *modelService) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/icp4d-api/v1/authorize", func(w http.ResponseWriter, _ *http.Request) {
		n := m.authCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": fmt.Sprintf("token-%d", n)})
	})
	validToken := func(r *http.Request) bool {
		auth := r.Header.Get("Authorization")
		if m.expireFirstToken && auth == "Bearer token-1" {
			return false
		}
		return auth != "" && auth != "Bearer "
	}
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, r *http.Request) {
		m.genCalls.Add(1)
		if !validToken(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"generated_text": `  {"summary":"s"}  `}},
		})
	})
	mux.HandleFunc("/ml/v1/text/embeddings", func(w http.ResponseWriter, r *http.Request) {
		m.embedCalls.Add(1)
		if !validToken(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.Client(), ClientConfig{
		BaseURL:       srv.URL,
		AuthURL:       srv.URL + "/icp4d-api/v1/authorize",
		Username:      "admin",
		Password:      "secret",
		ProjectID:     "proj-1",
		APIVersion:    "2025-02-06",
		GenerateModel: "test/generate-model",
		EmbedModel:    "test/embed-model",
	}, zap.NewNop())
	c.backoffBase = time.Millisecond
	return c
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	svc := &modelService{}
	client := newTestClient(svc.server(t))

	text, err := client.Generate(context.Background(), "analyze this")
	require.NoError(t, err)
	require.Equal(t, `{"summary":"s"}`, text, "generated text must be trimmed")
	require.Equal(t, int32(1), svc.authCalls.Load())
}

func TestGenerate_TokenCachedAcrossCalls(t *testing.T) {
	t.Parallel()

	svc := &modelService{}
	client := newTestClient(svc.server(t))

	_, err := client.Generate(context.Background(), "one")
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "two")
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), []string{"three"})
	require.NoError(t, err)
	require.Equal(t, int32(1), svc.authCalls.Load(), "token must be reused across calls")
}

func TestGenerate_RefreshesTokenOn401(t *testing.T) {
	t.Parallel()

	svc := &modelService{expireFirstToken: true}
	client := newTestClient(svc.server(t))

	text, err := client.Generate(context.Background(), "analyze this")
	require.NoError(t, err)
	require.NotEmpty(t, text)
	require.Equal(t, int32(2), svc.authCalls.Load(), "401 must force re-authentication")
	require.Equal(t, int32(2), svc.genCalls.Load(), "the call must be retried after refresh")
}

func TestGenerate_AllUnauthorizedYieldsEmpty(t *testing.T) {
	t.Parallel()

	var genCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/icp4d-api/v1/authorize", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "stale"})
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, _ *http.Request) {
		genCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	text, err := newTestClient(srv).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Empty(t, text)
	require.Equal(t, int32(clientMaxAttempts), genCalls.Load())
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var genCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/icp4d-api/v1/authorize", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "t"})
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, _ *http.Request) {
		if genCalls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"generated_text": "ok"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	text, err := newTestClient(srv).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, int32(3), genCalls.Load())
}

func TestGenerate_ExhaustedServerErrorsFail(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/icp4d-api/v1/authorize", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "t"})
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(srv).Generate(context.Background(), "p")
	require.Error(t, err)
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	svc := &modelService{}
	client := newTestClient(svc.server(t))

	vectors, err := client.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
}

func TestAuthenticate_AcceptsAccessTokenField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "alt"})
	}))
	defer srv.Close()

	client := newTestClient(srv)
	client.cfg.AuthURL = srv.URL

	token, err := client.authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alt", token)
}
