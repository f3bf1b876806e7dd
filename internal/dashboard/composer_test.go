package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/performance"
	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/internal/trending"
)

// flakyStore fails reads against selected collections while passing
// everything else through to the wrapped store.
type flakyStore struct {
	docstore.Store
	failing map[string]bool
}

var errStoreDown = errors.New("backend rejected the request")

func (f *flakyStore) Get(ctx context.Context, collection, id string) (docstore.Doc, error) {
	if f.failing[collection] {
		return nil, errStoreDown
	}
	return f.Store.Get(ctx, collection, id)
}

func (f *flakyStore) Query(ctx context.Context, collection string, filters []docstore.Filter, order *docstore.OrderBy, limit int) ([]docstore.Doc, error) {
	if f.failing[collection] {
		return nil, errStoreDown
	}
	return f.Store.Query(ctx, collection, filters, order, limit)
}

func (f *flakyStore) Count(ctx context.Context, collection string, filters []docstore.Filter) (int64, error) {
	if f.failing[collection] {
		return 0, errStoreDown
	}
	return f.Store.Count(ctx, collection, filters)
}

func newTestComposer(t *testing.T, store docstore.Store) *Composer {
	t.Helper()
	logger := zap.NewNop()
	exec := resilience.New(resilience.Config{
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		Multiplier:       2.0,
	}, logger)

	tracker := presence.NewTracker(store, logger)
	scorer := trending.NewScorer(store, trending.DefaultThreshold, logger)
	aggregator := performance.NewAggregator(store, scorer, logger)

	return NewComposer(store, tracker, scorer, aggregator, exec, ComposerConfig{
		SiteHost:     "myblog.example",
		ActiveWindow: 5 * time.Minute,
	}, logger)
}

func seedDashboardData(t *testing.T, store docstore.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Set(ctx, presence.CollectionVisitors, "sess-1", docstore.Doc{
		"sessionId":    "sess-1",
		"currentPage":  "/blog/hello",
		"lastSeen":     now,
		"sessionStart": now.Add(-10 * time.Minute),
		"pagesViewed":  int64(3),
	}))

	require.NoError(t, store.Set(ctx, trending.CollectionTrending, "a1", docstore.Doc{
		"articleId":       "a1",
		"engagementScore": 25.0,
		"views24h":        int64(20),
		"views7d":         int64(30),
		"trending":        true,
	}))
	require.NoError(t, store.Set(ctx, trending.CollectionTrending, "a2", docstore.Doc{
		"articleId":       "a2",
		"engagementScore": 12.0,
		"views24h":        int64(8),
		"views7d":         int64(40),
		"trending":        true,
	}))

	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, store.Set(ctx, performance.CollectionArticlePerformance, id, docstore.Doc{
			"views":       int64(100),
			"uniqueViews": int64(80),
		}))
	}

	views := []docstore.Doc{
		{"path": "/blog/hello", "sessionId": "sess-1", "timestamp": now.Add(-time.Hour), "referrer": "https://www.google.com/search", "device": "mobile"},
		{"path": "/blog/hello", "sessionId": "sess-2", "timestamp": now.Add(-2 * time.Hour), "referrer": "", "device": "desktop"},
		{"path": "/about", "sessionId": "sess-2", "timestamp": now.Add(-3 * time.Hour), "referrer": "https://myblog.example/blog/hello", "device": "desktop"},
	}
	for _, v := range views {
		_, err := store.Add(ctx, ingest.CollectionPageViews, v)
		require.NoError(t, err)
	}
}

func TestGetDashboard(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedDashboardData(t, store)

	composer := newTestComposer(t, store)
	now := time.Now().UTC()

	data, err := composer.GetDashboard(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, data.RealTime, 1)
	assert.Equal(t, "sess-1", data.RealTime[0].SessionID)

	require.Len(t, data.Trending, 2)
	assert.Equal(t, "a1", data.Trending[0].ArticleID)
	assert.Equal(t, 1, data.Trending[0].Rank)

	require.Len(t, data.TopArticles, 2)
	// Windowed popularity orders by the 7-day counts on the trending records.
	assert.Equal(t, "a2", data.TopArticles[0].ArticleID)

	assert.Equal(t, int64(3), data.Traffic.TotalViews)
	assert.Equal(t, int64(2), data.Traffic.UniqueVisitors)
}

func TestGetDashboardPartialDegradation(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedDashboardData(t, store)

	flaky := &flakyStore{Store: store, failing: map[string]bool{
		ingest.CollectionPageViews: true,
	}}
	composer := newTestComposer(t, flaky)
	now := time.Now().UTC()

	data, err := composer.GetDashboard(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	require.NoError(t, err)

	// Traffic degraded to its zero value; everything else still served.
	assert.Equal(t, int64(0), data.Traffic.TotalViews)
	assert.Len(t, data.RealTime, 1)
	assert.Len(t, data.Trending, 2)
	assert.Len(t, data.TopArticles, 2)
}

func TestGetDashboardArticleStatsDown(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedDashboardData(t, store)

	flaky := &flakyStore{Store: store, failing: map[string]bool{
		performance.CollectionArticlePerformance: true,
	}}
	composer := newTestComposer(t, flaky)
	now := time.Now().UTC()

	data, err := composer.GetDashboard(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	require.NoError(t, err)

	// Top articles degrade to an empty list; trending and the realtime feed
	// keep serving.
	assert.Empty(t, data.TopArticles)
	assert.NotNil(t, data.TopArticles)
	require.Len(t, data.Trending, 2)
	assert.Equal(t, "a1", data.Trending[0].ArticleID)
	require.Len(t, data.RealTime, 1)
	assert.Equal(t, int64(3), data.Traffic.TotalViews)
}

func TestGetDashboardAllSourcesFail(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedDashboardData(t, store)

	flaky := &flakyStore{Store: store, failing: map[string]bool{
		ingest.CollectionPageViews:  true,
		presence.CollectionVisitors: true,
		trending.CollectionTrending: true,
	}}
	composer := newTestComposer(t, flaky)
	now := time.Now().UTC()

	_, err := composer.GetDashboard(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestPopularArticles(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedDashboardData(t, store)
	composer := newTestComposer(t, store)

	// 24h ranking follows the last-day snapshots.
	articles, err := composer.PopularArticles(ctx, "24h", 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "a1", articles[0].ArticleID)

	// "all" ranks straight off the lifetime performance records.
	articles, err = composer.PopularArticles(ctx, "all", 10)
	require.NoError(t, err)
	assert.Len(t, articles, 2)
}

func TestAggregateTraffic(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedDashboardData(t, store)
	composer := newTestComposer(t, store)

	now := time.Now().UTC()
	traffic, err := composer.aggregateTraffic(ctx, now.Add(-24*time.Hour), now)
	require.NoError(t, err)

	assert.Equal(t, int64(3), traffic.TotalViews)
	assert.Equal(t, int64(2), traffic.UniqueVisitors)

	require.NotEmpty(t, traffic.TopPages)
	assert.Equal(t, "/blog/hello", traffic.TopPages[0].Path)
	assert.Equal(t, int64(2), traffic.TopPages[0].Views)

	// google referrer counts, blank referrer is direct, same-origin is
	// dropped entirely.
	sources := map[string]int64{}
	for _, s := range traffic.Sources {
		sources[s.Source] = s.Views
	}
	assert.Equal(t, int64(1), sources["google.com"])
	assert.Equal(t, int64(1), sources["direct"])
	assert.Len(t, sources, 2)

	devices := map[string]int64{}
	for _, d := range traffic.Devices {
		devices[d.Device] = d.Views
	}
	assert.Equal(t, int64(2), devices["desktop"])
	assert.Equal(t, int64(1), devices["mobile"])
}

func TestReferrerSource(t *testing.T) {
	composer := newTestComposer(t, docstore.NewMemory())

	tests := []struct {
		referrer string
		want     string
		counted  bool
	}{
		{"", "direct", true},
		{"https://www.google.com/search?q=go", "google.com", true},
		{"https://news.ycombinator.com/item", "news.ycombinator.com", true},
		{"https://myblog.example/blog/other", "", false},
		{"https://www.myblog.example/", "", false},
		{"not a url at all", "direct", true},
	}

	for _, tt := range tests {
		t.Run(tt.referrer, func(t *testing.T) {
			source, counted := composer.referrerSource(tt.referrer)
			assert.Equal(t, tt.counted, counted)
			if counted {
				assert.Equal(t, tt.want, source)
			}
		})
	}
}

func TestSubscribeRealTime(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := docstore.NewMemory()
	seedDashboardData(t, store)
	composer := newTestComposer(t, store)

	updates := make(chan []*presence.Visitor, 8)
	stop := composer.SubscribeRealTime(ctx, 10*time.Millisecond, func(visitors []*presence.Visitor) {
		updates <- visitors
	})
	defer stop()

	select {
	case visitors := <-updates:
		require.Len(t, visitors, 1)
		assert.Equal(t, "sess-1", visitors[0].SessionID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for realtime update")
	}
}

func TestSubscribeRealTimeUsesConfiguredRefresh(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := docstore.NewMemory()
	seedDashboardData(t, store)

	composer := newTestComposer(t, store)
	assert.Equal(t, 5*time.Second, composer.cfg.RealtimeRefresh)

	composer.cfg.RealtimeRefresh = 10 * time.Millisecond
	updates := make(chan []*presence.Visitor, 8)
	stop := composer.SubscribeRealTime(ctx, 0, func(visitors []*presence.Visitor) {
		updates <- visitors
	})
	defer stop()

	// Two deliveries prove the configured interval drives the ticker, not
	// just the immediate initial snapshot.
	for i := 0; i < 2; i++ {
		select {
		case visitors := <-updates:
			require.Len(t, visitors, 1)
		case <-ctx.Done():
			t.Fatal("timed out waiting for realtime update")
		}
	}
}

func TestSubscribeTrending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := docstore.NewMemory()
	store.PollInterval = 10 * time.Millisecond
	seedDashboardData(t, store)
	composer := newTestComposer(t, store)

	updates := make(chan []*trending.Content, 8)
	stop, err := composer.SubscribeTrending(ctx, 5, func(contents []*trending.Content) {
		updates <- contents
	})
	require.NoError(t, err)
	defer stop()

	select {
	case contents := <-updates:
		require.Len(t, contents, 2)
		assert.Equal(t, "a1", contents[0].ArticleID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for trending update")
	}
}
