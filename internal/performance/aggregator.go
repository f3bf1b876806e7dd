package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
)

// TrendScorer recomputes the windowed engagement score for one article. The
// trending package provides the implementation; the indirection keeps the
// dependency one-way.
type TrendScorer interface {
	Recompute(ctx context.Context, articleID string) error
}

var orderableFields = map[string]string{
	"views":          "views",
	"unique_views":   "uniqueViews",
	"avg_time_spent": "averageTimeSpent",
	"trending_score": "trendingScore",
	"last_viewed":    "lastViewed",
}

// Aggregator maintains per-article running statistics.
type Aggregator struct {
	store  docstore.Store
	scorer TrendScorer
	logger *zap.Logger
	now    func() time.Time
}

func NewAggregator(store docstore.Store, scorer TrendScorer, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		scorer: scorer,
		logger: logger,
		now:    time.Now,
	}
}

// RecordArticleView folds one view into the article's running stats and then
// recomputes its trending score in-line.
//
// The views counter uses the store's atomic increment; the running average is
// a read-modify-write with the pre-increment view count as the weight.
// Concurrent views of the same article can lose an average update. That drift
// is accepted: the average tolerates approximation, the counter does not.
func (a *Aggregator) RecordArticleView(ctx context.Context, articleID string, timeSpent *float64) error {
	if articleID == "" {
		return fmt.Errorf("empty article id")
	}
	now := a.now().UTC()

	doc, err := a.store.Get(ctx, CollectionArticlePerformance, articleID)
	if errors.Is(err, docstore.ErrNotFound) {
		initial := docstore.Doc{
			"views":            int64(1),
			"uniqueViews":      int64(1),
			"averageTimeSpent": float64(0),
			"bounceRate":       float64(0),
			"socialShares":     int64(0),
			"commentCount":     int64(0),
			"lastViewed":       now,
			"trending":         false,
			"trendingScore":    float64(0),
		}
		if timeSpent != nil {
			initial["averageTimeSpent"] = *timeSpent
		}
		if err := a.store.Set(ctx, CollectionArticlePerformance, articleID, initial); err != nil {
			return fmt.Errorf("failed to create article stats: %w", err)
		}
		a.recompute(ctx, articleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load article stats: %w", err)
	}

	updates := docstore.Doc{
		"views":      docstore.Inc(1),
		"lastViewed": now,
	}
	if timeSpent != nil {
		prevViews := docstore.Int(doc, "views")
		prevAvg := docstore.Float(doc, "averageTimeSpent")
		// Weight by the pre-increment count; the post-increment count would
		// bias the average low.
		updates["averageTimeSpent"] = (prevAvg*float64(prevViews) + *timeSpent) / float64(prevViews+1)
	}
	if err := a.store.UpdateFields(ctx, CollectionArticlePerformance, articleID, updates); err != nil {
		return fmt.Errorf("failed to update article stats: %w", err)
	}

	a.recompute(ctx, articleID)
	return nil
}

func (a *Aggregator) recompute(ctx context.Context, articleID string) {
	if a.scorer == nil {
		return
	}
	if err := a.scorer.Recompute(ctx, articleID); err != nil {
		a.logger.Error("trending recompute failed",
			zap.Error(err),
			zap.String("article_id", articleID),
		)
	}
}

// RecordShare bumps the social-share counter.
func (a *Aggregator) RecordShare(ctx context.Context, articleID string) error {
	return a.bump(ctx, articleID, "socialShares")
}

// RecordComment bumps the comment counter.
func (a *Aggregator) RecordComment(ctx context.Context, articleID string) error {
	return a.bump(ctx, articleID, "commentCount")
}

func (a *Aggregator) bump(ctx context.Context, articleID, field string) error {
	if articleID == "" {
		return fmt.Errorf("empty article id")
	}
	err := a.store.UpdateFields(ctx, CollectionArticlePerformance, articleID, docstore.Doc{
		field: docstore.Inc(1),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		// Shares and comments can land before the first tracked view.
		return a.store.Set(ctx, CollectionArticlePerformance, articleID, docstore.Doc{
			"views":            int64(0),
			"uniqueViews":      int64(0),
			"averageTimeSpent": float64(0),
			"bounceRate":       float64(0),
			"socialShares":     int64(0),
			"commentCount":     int64(0),
			field:              int64(1),
			"trending":         false,
			"trendingScore":    float64(0),
		})
	}
	if err != nil {
		return fmt.Errorf("failed to bump %s: %w", field, err)
	}
	return nil
}

// GetArticleStats returns the stats for one article, or nil when the article
// has never been viewed.
func (a *Aggregator) GetArticleStats(ctx context.Context, articleID string) (*ArticlePerformance, error) {
	doc, err := a.store.Get(ctx, CollectionArticlePerformance, articleID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article stats: %w", err)
	}
	return performanceFromDoc(doc), nil
}

// ListTopArticles returns the top articles ordered by the given field
// ("views" by default).
func (a *Aggregator) ListTopArticles(ctx context.Context, limit int, orderBy string) ([]*ArticlePerformance, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	field, ok := orderableFields[orderBy]
	if !ok {
		field = "views"
	}

	docs, err := a.store.Query(ctx, CollectionArticlePerformance, nil,
		&docstore.OrderBy{Field: field, Desc: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top articles: %w", err)
	}

	articles := make([]*ArticlePerformance, 0, len(docs))
	for _, d := range docs {
		articles = append(articles, performanceFromDoc(d))
	}
	return articles, nil
}
