package dashboard

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/performance"
	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/internal/trending"
)

const topPagesLimit = 10

type ComposerConfig struct {
	// SiteHost excludes same-origin referrers from the traffic sources.
	SiteHost     string
	ActiveWindow time.Duration
	// RealtimeRefresh is the default tick interval for realtime feeds
	// started without an explicit interval.
	RealtimeRefresh time.Duration
}

// Composer assembles the consolidated dashboard read-model from the presence
// tracker, the trending scorer, the performance aggregator and the raw event
// history. Sub-queries run concurrently; a failing source degrades to its
// empty default instead of failing the whole read.
type Composer struct {
	store    docstore.Store
	tracker  *presence.Tracker
	scorer   *trending.Scorer
	articles *performance.Aggregator
	exec     *resilience.Wrapper
	cfg      ComposerConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewComposer(
	store docstore.Store,
	tracker *presence.Tracker,
	scorer *trending.Scorer,
	articles *performance.Aggregator,
	exec *resilience.Wrapper,
	cfg ComposerConfig,
	logger *zap.Logger,
) *Composer {
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = presence.DefaultActiveWindow
	}
	if cfg.RealtimeRefresh <= 0 {
		cfg.RealtimeRefresh = 5 * time.Second
	}
	return &Composer{
		store:    store,
		tracker:  tracker,
		scorer:   scorer,
		articles: articles,
		exec:     exec,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// GetDashboard fans out to all sources concurrently and merges whatever came
// back. It fails only when every source failed.
func (c *Composer) GetDashboard(ctx context.Context, from, to time.Time) (*Data, error) {
	data := &Data{
		From:        from,
		To:          to,
		GeneratedAt: c.now().UTC(),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
		firstErr error
	)
	fail := func(source string, err error) {
		c.logger.Error("dashboard source failed",
			zap.String("source", source),
			zap.Error(err),
		)
		mu.Lock()
		failures++
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(4)

	go func() {
		defer wg.Done()
		err := c.exec.Execute(ctx, resilience.OpRealTime, func(ctx context.Context) error {
			visitors, err := c.tracker.ListActive(ctx, c.cfg.ActiveWindow)
			if err != nil {
				return err
			}
			data.RealTime = visitors
			return nil
		})
		if err != nil {
			fail("real_time", err)
			data.RealTime = []*presence.Visitor{}
		}
	}()

	go func() {
		defer wg.Done()
		err := c.exec.Execute(ctx, resilience.OpDashboard, func(ctx context.Context) error {
			contents, err := c.scorer.ListTrending(ctx, 5)
			if err != nil {
				return err
			}
			data.Trending = contents
			return nil
		})
		if err != nil {
			fail("trending", err)
			data.Trending = []*trending.Content{}
		}
	}()

	go func() {
		defer wg.Done()
		err := c.exec.Execute(ctx, resilience.OpDashboard, func(ctx context.Context) error {
			articles, err := c.PopularArticles(ctx, "7d", 10)
			if err != nil {
				return err
			}
			data.TopArticles = articles
			return nil
		})
		if err != nil {
			fail("top_articles", err)
			data.TopArticles = []*performance.ArticlePerformance{}
		}
	}()

	go func() {
		defer wg.Done()
		err := c.exec.Execute(ctx, resilience.OpDashboard, func(ctx context.Context) error {
			traffic, err := c.aggregateTraffic(ctx, from, to)
			if err != nil {
				return err
			}
			data.Traffic = *traffic
			return nil
		})
		if err != nil {
			fail("traffic", err)
		}
	}()

	wg.Wait()

	if failures == 4 {
		return nil, fmt.Errorf("all dashboard sources failed: %w", firstErr)
	}
	return data, nil
}

// PopularArticles returns the top articles for a period. For "all" the
// performance collection is ordered directly; for windowed periods the
// windowed counts live only on the trending records, so this is a two-hop
// join: trending ordered by the period's view field, then the performance
// docs by id.
func (c *Composer) PopularArticles(ctx context.Context, period string, limit int) ([]*performance.ArticlePerformance, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	var orderField string
	switch period {
	case "24h":
		orderField = "views24h"
	case "7d":
		orderField = "views7d"
	default:
		return c.articles.ListTopArticles(ctx, limit, "views")
	}

	docs, err := c.store.Query(ctx, trending.CollectionTrending, nil,
		&docstore.OrderBy{Field: orderField, Desc: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending records: %w", err)
	}

	articles := make([]*performance.ArticlePerformance, 0, len(docs))
	for _, d := range docs {
		articleID := docstore.String(d, "id")
		stats, err := c.articles.GetArticleStats(ctx, articleID)
		if err != nil {
			return nil, err
		}
		if stats != nil {
			articles = append(articles, stats)
		}
	}
	return articles, nil
}

func (c *Composer) aggregateTraffic(ctx context.Context, from, to time.Time) (*Traffic, error) {
	docs, err := c.store.Query(ctx, ingest.CollectionPageViews, []docstore.Filter{
		docstore.Where("timestamp", ">=", from),
		docstore.Where("timestamp", "<=", to),
	}, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query page views: %w", err)
	}

	traffic := &Traffic{
		TopPages: []PageCount{},
		Sources:  []SourceCount{},
		Devices:  []DeviceCount{},
	}
	sessions := make(map[string]struct{})
	pages := make(map[string]int64)
	sources := make(map[string]int64)
	devices := make(map[string]int64)

	for _, d := range docs {
		view := ingest.FromDoc(d)
		traffic.TotalViews++
		sessions[view.SessionID] = struct{}{}
		pages[view.Path]++

		if source, ok := c.referrerSource(view.Referrer); ok {
			sources[source]++
		}
		if view.Device != "" {
			devices[view.Device]++
		}
	}

	traffic.UniqueVisitors = int64(len(sessions))
	traffic.TopPages = topCounts(pages, topPagesLimit, func(k string, v int64) PageCount {
		return PageCount{Path: k, Views: v}
	})
	traffic.Sources = topCounts(sources, 0, func(k string, v int64) SourceCount {
		return SourceCount{Source: k, Views: v}
	})
	traffic.Devices = topCounts(devices, 0, func(k string, v int64) DeviceCount {
		return DeviceCount{Device: k, Views: v}
	})

	return traffic, nil
}

// referrerSource maps a raw referrer to a traffic source. Blank referrers are
// direct traffic; same-origin referrers are internal navigation and excluded.
func (c *Composer) referrerSource(referrer string) (string, bool) {
	if referrer == "" {
		return "direct", true
	}
	parsed, err := url.Parse(referrer)
	if err != nil || parsed.Hostname() == "" {
		return "direct", true
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	if c.cfg.SiteHost != "" && host == strings.TrimPrefix(c.cfg.SiteHost, "www.") {
		return "", false
	}
	return host, true
}

func topCounts[T any](counts map[string]int64, limit int, build func(string, int64) T) []T {
	type kv struct {
		key   string
		count int64
	}
	entries := make([]kv, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, kv{key: k, count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, build(e.key, e.count))
	}
	return out
}

// SubscribeRealTime delivers the active-visitor list on a fixed refresh
// interval, re-evaluating the moving window on every tick. A non-positive
// refresh falls back to the configured RealtimeRefresh. The returned function
// stops the feed.
func (c *Composer) SubscribeRealTime(ctx context.Context, refresh time.Duration, fn func([]*presence.Visitor)) func() {
	if refresh <= 0 {
		refresh = c.cfg.RealtimeRefresh
	}
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()

		for {
			err := c.exec.Execute(ctx, resilience.OpRealTime, func(ctx context.Context) error {
				visitors, err := c.tracker.ListActive(ctx, c.cfg.ActiveWindow)
				if err != nil {
					return err
				}
				fn(visitors)
				return nil
			})
			if err != nil {
				c.logger.Error("realtime refresh failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}

// SubscribeTrending pushes the ranked trending list whenever the underlying
// records change, via the store's poll-based subscription.
func (c *Composer) SubscribeTrending(ctx context.Context, limit int, fn func([]*trending.Content)) (func(), error) {
	if limit <= 0 {
		limit = 5
	}
	return c.store.Subscribe(ctx, trending.CollectionTrending, nil,
		&docstore.OrderBy{Field: "engagementScore", Desc: true}, limit,
		func(docs []docstore.Doc) {
			contents, err := c.scorer.ListTrending(ctx, limit)
			if err != nil {
				c.logger.Error("trending refresh failed", zap.Error(err))
				return
			}
			fn(contents)
		},
	)
}
