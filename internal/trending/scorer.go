package trending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/performance"
)

// DefaultThreshold is the engagement score above which an article counts as
// trending.
const DefaultThreshold = 10.0

// Scorer recomputes the time-windowed engagement score for an article and
// materializes the ranked trending list.
type Scorer struct {
	store     docstore.Store
	threshold float64
	logger    *zap.Logger
	now       func() time.Time
}

func NewScorer(store docstore.Store, threshold float64, logger *zap.Logger) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{
		store:     store,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Recompute snapshots the 24h/7d view counts for the article, derives the
// engagement score and growth percentage, upserts the trending record and
// patches the performance record so both models agree.
func (s *Scorer) Recompute(ctx context.Context, articleID string) error {
	if articleID == "" {
		return fmt.Errorf("empty article id")
	}
	now := s.now().UTC()

	views24h, err := s.countSince(ctx, articleID, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to count 24h views: %w", err)
	}
	views7d, err := s.countSince(ctx, articleID, now.Add(-7*24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to count 7d views: %w", err)
	}

	score := Score(views24h, views7d)
	growth := Growth(views24h, views7d)
	trending := score > s.threshold

	doc := docstore.Doc{
		"articleId":       articleID,
		"views24h":        views24h,
		"views7d":         views7d,
		"viewsGrowth":     growth,
		"engagementScore": score,
		"trending":        trending,
		"lastUpdated":     now,
	}
	s.fillContentMeta(ctx, articleID, doc)

	if err := s.store.Set(ctx, CollectionTrending, articleID, doc); err != nil {
		return fmt.Errorf("failed to upsert trending record: %w", err)
	}

	// Keep the performance record's trending fields consistent with the
	// trending record. A missing performance doc just means no view has been
	// aggregated yet.
	err = s.store.UpdateFields(ctx, performance.CollectionArticlePerformance, articleID, docstore.Doc{
		"trending":      trending,
		"trendingScore": score,
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("failed to patch article stats: %w", err)
	}

	s.logger.Debug("trending recomputed",
		zap.String("article_id", articleID),
		zap.Int64("views_24h", views24h),
		zap.Int64("views_7d", views7d),
		zap.Float64("score", score),
		zap.Bool("trending", trending),
	)
	return nil
}

func (s *Scorer) countSince(ctx context.Context, articleID string, since time.Time) (int64, error) {
	return s.store.Count(ctx, ingest.CollectionPageViews, []docstore.Filter{
		docstore.Where("articleId", "==", articleID),
		docstore.Where("timestamp", ">=", since),
	})
}

// fillContentMeta copies title/category from the article's most recent page
// view and derives the slug from its path. Best effort: a trending record
// without display metadata is still rankable.
func (s *Scorer) fillContentMeta(ctx context.Context, articleID string, doc docstore.Doc) {
	views, err := s.store.Query(ctx, ingest.CollectionPageViews,
		[]docstore.Filter{docstore.Where("articleId", "==", articleID)},
		&docstore.OrderBy{Field: "timestamp", Desc: true},
		1,
	)
	if err != nil || len(views) == 0 {
		return
	}
	latest := ingest.FromDoc(views[0])
	if latest.Title != "" {
		doc["title"] = latest.Title
	}
	if latest.Category != "" {
		doc["category"] = latest.Category
	}
	if slug := slugFromPath(latest.Path); slug != "" {
		doc["slug"] = slug
	}
}

func slugFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

// Score combines short- and medium-term activity: the last day dominates, and
// a logarithmic velocity bonus keeps a jump in a normally-quiet article
// visible next to naturally high-traffic ones.
func Score(views24h, views7d int64) float64 {
	score := float64(views24h)*0.7 + float64(views7d)*0.3
	if views24h > 0 {
		score += math.Log(float64(views24h)+1) * 2
	}
	return score
}

// Growth compares last-day activity against the preceding six days as a
// percentage. The max guards division by zero when every view landed in the
// last 24 hours.
func Growth(views24h, views7d int64) float64 {
	if views24h == 0 {
		return 0
	}
	prior := views7d - views24h
	if prior < 1 {
		prior = 1
	}
	return float64(views24h) / float64(prior) * 100
}

// ListTrending returns the top articles by engagement score. Rank is the
// 1-based position inside the returned slice, not a stable global rank.
func (s *Scorer) ListTrending(ctx context.Context, limit int) ([]*Content, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}

	docs, err := s.store.Query(ctx, CollectionTrending, nil,
		&docstore.OrderBy{Field: "engagementScore", Desc: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trending content: %w", err)
	}

	contents := make([]*Content, 0, len(docs))
	for i, d := range docs {
		c := contentFromDoc(d)
		c.Rank = i + 1
		contents = append(contents, c)
	}
	return contents, nil
}
