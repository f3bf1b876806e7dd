package trending

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/performance"
)

func seedPageView(t *testing.T, store docstore.Store, articleID, path, title, category string, ts time.Time) {
	t.Helper()
	doc := docstore.Doc{
		"path":      path,
		"sessionId": "sess-" + articleID,
		"timestamp": ts,
		"articleId": articleID,
	}
	if title != "" {
		doc["title"] = title
	}
	if category != "" {
		doc["category"] = category
	}
	_, err := store.Add(context.Background(), ingest.CollectionPageViews, doc)
	require.NoError(t, err)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		views24h int64
		views7d  int64
		want     float64
	}{
		{"no views", 0, 0, 0},
		{"week only", 0, 10, 3},
		{"ten and sixteen", 10, 16, 10*0.7 + 16*0.3 + math.Log(11)*2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.views24h, tt.views7d), 1e-9)
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	prev := Score(0, 0)
	for v := int64(1); v <= 100; v++ {
		cur := Score(v, v)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestGrowth(t *testing.T) {
	tests := []struct {
		name     string
		views24h int64
		views7d  int64
		want     float64
	}{
		{"no recent views", 0, 50, 0},
		{"ten against six prior", 10, 16, 166.66666666666669},
		{"all views in last day", 5, 5, 500},
		{"steady week", 10, 70, 16.666666666666664},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Growth(tt.views24h, tt.views7d), 1e-9)
		})
	}
}

func TestRecompute(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	scorer := NewScorer(store, DefaultThreshold, zap.NewNop())

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	scorer.now = func() time.Time { return now }

	// 10 views inside the last 24 hours, 6 more earlier in the week.
	for i := 0; i < 10; i++ {
		seedPageView(t, store, "a1", "/blog/tech/hot-post", "Hot Post", "tech",
			now.Add(-time.Duration(i+1)*time.Hour))
	}
	for i := 0; i < 6; i++ {
		seedPageView(t, store, "a1", "/blog/tech/hot-post", "Hot Post", "tech",
			now.Add(-3*24*time.Hour))
	}

	require.NoError(t, scorer.Recompute(ctx, "a1"))

	doc, err := store.Get(ctx, CollectionTrending, "a1")
	require.NoError(t, err)

	c := contentFromDoc(doc)
	assert.Equal(t, int64(10), c.Views24h)
	assert.Equal(t, int64(16), c.Views7d)
	assert.InDelta(t, Score(10, 16), c.EngagementScore, 1e-9)
	assert.InDelta(t, 166.666666, c.ViewsGrowth, 1e-3)
	assert.True(t, c.Trending)
	assert.Equal(t, "Hot Post", c.Title)
	assert.Equal(t, "tech", c.Category)
	assert.Equal(t, "hot-post", c.Slug)
}

func TestRecomputeBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	scorer := NewScorer(store, DefaultThreshold, zap.NewNop())

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	scorer.now = func() time.Time { return now }

	seedPageView(t, store, "a1", "/blog/quiet-post", "", "", now.Add(-time.Hour))

	require.NoError(t, scorer.Recompute(ctx, "a1"))

	doc, err := store.Get(ctx, CollectionTrending, "a1")
	require.NoError(t, err)
	assert.False(t, docstore.Bool(doc, "trending"))
}

func TestRecomputePatchesPerformance(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	scorer := NewScorer(store, DefaultThreshold, zap.NewNop())

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	scorer.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, performance.CollectionArticlePerformance, "a1", docstore.Doc{
		"views":         int64(20),
		"trending":      false,
		"trendingScore": float64(0),
	}))
	for i := 0; i < 20; i++ {
		seedPageView(t, store, "a1", "/blog/post", "", "", now.Add(-time.Hour))
	}

	require.NoError(t, scorer.Recompute(ctx, "a1"))

	doc, err := store.Get(ctx, performance.CollectionArticlePerformance, "a1")
	require.NoError(t, err)
	assert.True(t, docstore.Bool(doc, "trending"))
	assert.InDelta(t, Score(20, 20), docstore.Float(doc, "trendingScore"), 1e-9)
}

func TestRecomputeNoPerformanceRecord(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	scorer := NewScorer(store, DefaultThreshold, zap.NewNop())

	// Nothing aggregated yet for the article: the trending record is still
	// written and the missing performance record is not an error.
	require.NoError(t, scorer.Recompute(ctx, "a1"))

	_, err := store.Get(ctx, CollectionTrending, "a1")
	assert.NoError(t, err)
}

func TestListTrendingRanks(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	scorer := NewScorer(store, DefaultThreshold, zap.NewNop())

	scores := map[string]float64{"a1": 12.5, "a2": 40.0, "a3": 25.0, "a4": 3.0}
	for id, score := range scores {
		require.NoError(t, store.Set(ctx, CollectionTrending, id, docstore.Doc{
			"articleId":       id,
			"engagementScore": score,
			"trending":        score > DefaultThreshold,
		}))
	}

	contents, err := scorer.ListTrending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, contents, 3)

	for i, wantID := range []string{"a2", "a3", "a1"} {
		assert.Equal(t, wantID, contents[i].ArticleID, fmt.Sprintf("position %d", i))
		assert.Equal(t, i+1, contents[i].Rank)
	}
}

func TestSlugFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/blog/tech/my-post", "my-post"},
		{"/my-post/", "my-post"},
		{"/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, slugFromPath(tt.path))
	}
}
