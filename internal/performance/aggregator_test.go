package performance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
)

type recordingScorer struct {
	calls []string
}

func (r *recordingScorer) Recompute(ctx context.Context, articleID string) error {
	r.calls = append(r.calls, articleID)
	return nil
}

func ptr(f float64) *float64 { return &f }

func TestRecordArticleViewCreatesStats(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	agg := NewAggregator(store, nil, zap.NewNop())

	require.NoError(t, agg.RecordArticleView(ctx, "a1", ptr(42)))

	stats, err := agg.GetArticleStats(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.Views)
	assert.Equal(t, int64(1), stats.UniqueViews)
	assert.Equal(t, 42.0, stats.AverageTimeSpent)
	assert.False(t, stats.Trending)
}

func TestRecordArticleViewRunningAverage(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	agg := NewAggregator(store, nil, zap.NewNop())

	for _, seconds := range []float64{30, 60, 90} {
		require.NoError(t, agg.RecordArticleView(ctx, "a1", ptr(seconds)))
	}

	stats, err := agg.GetArticleStats(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Views)
	assert.InDelta(t, 60.0, stats.AverageTimeSpent, 1e-9)
}

func TestRecordArticleViewWithoutTimeSpent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	agg := NewAggregator(store, nil, zap.NewNop())

	require.NoError(t, agg.RecordArticleView(ctx, "a1", ptr(50)))
	require.NoError(t, agg.RecordArticleView(ctx, "a1", nil))

	// A view with no dwell time still counts but leaves the average alone.
	stats, err := agg.GetArticleStats(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Views)
	assert.Equal(t, 50.0, stats.AverageTimeSpent)
}

func TestRecordArticleViewEmptyID(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(docstore.NewMemory(), nil, zap.NewNop())

	assert.Error(t, agg.RecordArticleView(ctx, "", ptr(10)))
}

func TestRecordArticleViewTriggersRecompute(t *testing.T) {
	ctx := context.Background()
	scorer := &recordingScorer{}
	agg := NewAggregator(docstore.NewMemory(), scorer, zap.NewNop())

	require.NoError(t, agg.RecordArticleView(ctx, "a1", nil))
	require.NoError(t, agg.RecordArticleView(ctx, "a1", nil))

	assert.Equal(t, []string{"a1", "a1"}, scorer.calls)
}

func TestRecordShareAndComment(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	agg := NewAggregator(store, nil, zap.NewNop())

	require.NoError(t, agg.RecordArticleView(ctx, "a1", nil))
	require.NoError(t, agg.RecordShare(ctx, "a1"))
	require.NoError(t, agg.RecordShare(ctx, "a1"))
	require.NoError(t, agg.RecordComment(ctx, "a1"))

	stats, err := agg.GetArticleStats(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.SocialShares)
	assert.Equal(t, int64(1), stats.CommentCount)
}

func TestRecordShareBeforeFirstView(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(docstore.NewMemory(), nil, zap.NewNop())

	require.NoError(t, agg.RecordShare(ctx, "a1"))

	stats, err := agg.GetArticleStats(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.SocialShares)
	assert.Equal(t, int64(0), stats.Views)
}

func TestGetArticleStatsMissing(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(docstore.NewMemory(), nil, zap.NewNop())

	stats, err := agg.GetArticleStats(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestListTopArticles(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	agg := NewAggregator(store, nil, zap.NewNop())

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	viewCounts := map[string]int{"a1": 3, "a2": 5, "a3": 1}
	for id, n := range viewCounts {
		for i := 0; i < n; i++ {
			require.NoError(t, agg.RecordArticleView(ctx, id, nil))
		}
	}

	articles, err := agg.ListTopArticles(ctx, 2, "views")
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "a2", articles[0].ArticleID)
	assert.Equal(t, "a1", articles[1].ArticleID)

	// Unknown order fields fall back to views instead of erroring.
	articles, err = agg.ListTopArticles(ctx, 10, "bogus")
	require.NoError(t, err)
	assert.Len(t, articles, 3)
}
