package presence

import (
	"time"

	"github.com/blogkit/analytics/internal/docstore"
)

const CollectionVisitors = "realtime_visitors"

// DeviceInfo is the visitor context captured from the tracking event.
type DeviceInfo struct {
	Device   string `json:"device,omitempty"`
	Browser  string `json:"browser,omitempty"`
	Country  string `json:"country,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// Visitor is one active browsing session. A visitor counts as online while
// LastSeen is inside the active window; expiry is a query-time filter, not a
// delete.
type Visitor struct {
	SessionID    string    `json:"session_id"`
	CurrentPage  string    `json:"current_page"`
	LastSeen     time.Time `json:"last_seen"`
	SessionStart time.Time `json:"session_start"`
	PagesViewed  int64     `json:"pages_viewed"`
	Device       string    `json:"device,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	Country      string    `json:"country,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
}

func visitorFromDoc(d docstore.Doc) *Visitor {
	return &Visitor{
		SessionID:    docstore.String(d, "sessionId"),
		CurrentPage:  docstore.String(d, "currentPage"),
		LastSeen:     docstore.Time(d, "lastSeen"),
		SessionStart: docstore.Time(d, "sessionStart"),
		PagesViewed:  docstore.Int(d, "pagesViewed"),
		Device:       docstore.String(d, "device"),
		Browser:      docstore.String(d, "browser"),
		Country:      docstore.String(d, "country"),
		Referrer:     docstore.String(d, "referrer"),
	}
}
