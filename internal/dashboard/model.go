package dashboard

import (
	"time"

	"github.com/blogkit/analytics/internal/performance"
	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/trending"
)

// PageCount is one entry of the top-pages breakdown.
type PageCount struct {
	Path  string `json:"path"`
	Views int64  `json:"views"`
}

// SourceCount is one entry of the traffic-source breakdown, grouped by
// referrer hostname.
type SourceCount struct {
	Source string `json:"source"`
	Views  int64  `json:"views"`
}

// DeviceCount is one entry of the device breakdown.
type DeviceCount struct {
	Device string `json:"device"`
	Views  int64  `json:"views"`
}

// Traffic aggregates the raw page-view events inside the requested range.
type Traffic struct {
	TotalViews     int64         `json:"total_views"`
	UniqueVisitors int64         `json:"unique_visitors"`
	TopPages       []PageCount   `json:"top_pages"`
	Sources        []SourceCount `json:"sources"`
	Devices        []DeviceCount `json:"devices"`
}

// Data is the consolidated dashboard read-model. Any sub-aggregate may be
// empty when its source failed; the rest are still populated.
type Data struct {
	RealTime    []*presence.Visitor               `json:"real_time"`
	Trending    []*trending.Content               `json:"trending"`
	TopArticles []*performance.ArticlePerformance `json:"top_articles"`
	Traffic     Traffic                           `json:"traffic"`
	From        time.Time                         `json:"from"`
	To          time.Time                         `json:"to"`
	GeneratedAt time.Time                         `json:"generated_at"`
}
