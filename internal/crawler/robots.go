package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/clock"
)

const (
	robotsTTL          = time.Hour
	robotsFetchTimeout = 10 * time.Second
	robotsMaxBodyBytes = 1 << 20
)

// RobotsCache answers per-domain robots.txt permission lookups with a
// time-bounded cache. An unreachable or non-200 robots endpoint degrades to
// "allow all" rather than blocking the crawl; compliance is still honored
// whenever the file is available.
type RobotsCache struct {
	client *http.Client
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]robotsEntry
}

type robotsEntry struct {
	// data is nil for a fail-open (allow all) entry.
	data    *robotstxt.RobotsData
	fetched time.Time
}

// NewRobotsCache builds a RobotsCache with a short fetch timeout.
func NewRobotsCache(clk clock.Clock, logger *zap.Logger) *RobotsCache {
	return &RobotsCache{
		client:  &http.Client{Timeout: robotsFetchTimeout},
		clock:   clk,
		logger:  logger,
		entries: make(map[string]robotsEntry),
	}
}

// CanFetch reports whether agent may fetch rawURL according to the domain's
// robots rules. Concurrent lookups for one uncached domain may cause a
// redundant fetch; the last writer wins.
func (c *RobotsCache) CanFetch(ctx context.Context, rawURL, agent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Host)

	c.mu.RLock()
	entry, ok := c.entries[host]
	c.mu.RUnlock()
	if ok && c.clock.Now().Sub(entry.fetched) < robotsTTL {
		return allowed(entry.data, agent, parsed.Path)
	}

	entry = c.fetch(ctx, parsed, agent)
	c.mu.Lock()
	c.entries[host] = entry
	c.mu.Unlock()
	return allowed(entry.data, agent, parsed.Path)
}

func (c *RobotsCache) fetch(ctx context.Context, target *url.URL, agent string) robotsEntry {
	entry := robotsEntry{fetched: c.clock.Now()}

	robotsURL := url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return entry
	}
	req.Header.Set("User-Agent", agent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", target.Host), zap.Error(err))
		return entry
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("robots endpoint returned non-200; allowing access",
			zap.String("host", target.Host), zap.Int("status", resp.StatusCode))
		return entry
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBodyBytes))
	if err != nil {
		c.logger.Warn("read robots body failed; allowing access",
			zap.String("host", target.Host), zap.Error(err))
		return entry
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		c.logger.Warn("parse robots failed; allowing access",
			zap.String("host", target.Host), zap.Error(err))
		return entry
	}
	entry.data = data
	return entry
}

func allowed(data *robotstxt.RobotsData, agent, path string) bool {
	if data == nil {
		return true
	}
	group := data.FindGroup(agent)
	if group == nil {
		return true
	}
	return group.Test(path)
}
