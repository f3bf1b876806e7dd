package performance

import (
	"time"

	"github.com/blogkit/analytics/internal/docstore"
)

const CollectionArticlePerformance = "article_performance"

// ArticlePerformance holds the per-article running statistics, one document
// per article keyed by article id. Created lazily on first view, updated
// incrementally afterwards, never deleted.
type ArticlePerformance struct {
	ArticleID        string    `json:"article_id"`
	Views            int64     `json:"views"`
	UniqueViews      int64     `json:"unique_views"`
	AverageTimeSpent float64   `json:"average_time_spent"`
	BounceRate       float64   `json:"bounce_rate"`
	SocialShares     int64     `json:"social_shares"`
	CommentCount     int64     `json:"comment_count"`
	LastViewed       time.Time `json:"last_viewed"`
	Trending         bool      `json:"trending"`
	TrendingScore    float64   `json:"trending_score"`
}

func performanceFromDoc(d docstore.Doc) *ArticlePerformance {
	return &ArticlePerformance{
		ArticleID:        docstore.String(d, "id"),
		Views:            docstore.Int(d, "views"),
		UniqueViews:      docstore.Int(d, "uniqueViews"),
		AverageTimeSpent: docstore.Float(d, "averageTimeSpent"),
		BounceRate:       docstore.Float(d, "bounceRate"),
		SocialShares:     docstore.Int(d, "socialShares"),
		CommentCount:     docstore.Int(d, "commentCount"),
		LastViewed:       docstore.Time(d, "lastViewed"),
		Trending:         docstore.Bool(d, "trending"),
		TrendingScore:    docstore.Float(d, "trendingScore"),
	}
}
