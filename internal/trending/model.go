package trending

import (
	"time"

	"github.com/blogkit/analytics/internal/docstore"
)

const CollectionTrending = "trending_content"

// Content is the materialized trending record for one article, keyed by
// article id. The windowed counts are point-in-time snapshots taken at the
// last recompute. Rank is assigned at read time within the returned slice; it
// is never stored.
type Content struct {
	ArticleID       string    `json:"article_id"`
	Title           string    `json:"title,omitempty"`
	Slug            string    `json:"slug,omitempty"`
	Category        string    `json:"category,omitempty"`
	Views24h        int64     `json:"views_24h"`
	Views7d         int64     `json:"views_7d"`
	ViewsGrowth     float64   `json:"views_growth"`
	EngagementScore float64   `json:"engagement_score"`
	Trending        bool      `json:"trending"`
	Rank            int       `json:"rank,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

func contentFromDoc(d docstore.Doc) *Content {
	return &Content{
		ArticleID:       docstore.String(d, "id"),
		Title:           docstore.String(d, "title"),
		Slug:            docstore.String(d, "slug"),
		Category:        docstore.String(d, "category"),
		Views24h:        docstore.Int(d, "views24h"),
		Views7d:         docstore.Int(d, "views7d"),
		ViewsGrowth:     docstore.Float(d, "viewsGrowth"),
		EngagementScore: docstore.Float(d, "engagementScore"),
		Trending:        docstore.Bool(d, "trending"),
		LastUpdated:     docstore.Time(d, "lastUpdated"),
	}
}
