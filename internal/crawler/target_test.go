package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargets_DefaultsMerge(t *testing.T) {
	t.Parallel()

	raw := []byte(`
defaults:
  interval_hours: 6
  request_interval_seconds: 2
  site_category: news
targets:
  - name: newsroom
    index_url: https://example.com/news
    language: en
  - name: research
    index_url: https://example.com/research
    language: ja
    interval_hours: 12
    respect_robots_txt: false
`)
	targets, err := ParseTargets(raw)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	require.Equal(t, "newsroom", targets[0].Name)
	require.Equal(t, 6, targets[0].IntervalHours)
	require.Equal(t, 2, targets[0].RequestInterval)
	require.Equal(t, "news", targets[0].SiteCategory)
	require.True(t, targets[0].RespectRobots)
	require.Equal(t, 100, targets[0].MaxArticles)
	require.Equal(t, 30, targets[0].TimeoutSeconds)
	require.Equal(t, 3, targets[0].MaxRetries)

	require.Equal(t, 12, targets[1].IntervalHours)
	require.False(t, targets[1].RespectRobots)
}

func TestParseTargets_DisabledFilteredOut(t *testing.T) {
	t.Parallel()

	raw := []byte(`
targets:
  - name: active
    index_url: https://example.com/a
    interval_hours: 1
  - name: dormant
    index_url: https://example.com/b
    interval_hours: 1
    enabled: false
`)
	targets, err := ParseTargets(raw)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "active", targets[0].Name)
}

func TestParseTargets_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"missing name", "targets:\n  - index_url: https://x\n    interval_hours: 1\n", "name is required"},
		{"missing index url", "targets:\n  - name: x\n    interval_hours: 1\n", "index_url is required"},
		{"zero interval", "targets:\n  - name: x\n    index_url: https://x\n", "interval_hours"},
		{"bad yaml", "targets: [", "parse targets"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTargets([]byte(tc.raw))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
