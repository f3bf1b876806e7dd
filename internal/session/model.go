package session

import (
	"time"

	"github.com/blogkit/analytics/internal/docstore"
)

const CollectionUserSessions = "user_sessions"

// UserSession tracks a visitor's whole browsing session as reconstructed
// from the event stream: entry page, page trail, and the last activity that
// closes the session when an exit event arrives.
type UserSession struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	EntryPage    string    `json:"entry_page"`
	ExitPage     string    `json:"exit_page,omitempty"`
	PagesViewed  int64     `json:"pages_viewed"`
	Device       string    `json:"device,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	Country      string    `json:"country,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	// Duration is derived on read from StartedAt and LastActivity; it is
	// never stored.
	Duration time.Duration `json:"duration"`
	Ended    bool          `json:"ended"`
}

func sessionFromDoc(d docstore.Doc) *UserSession {
	sess := &UserSession{
		SessionID:    docstore.String(d, "id"),
		UserID:       docstore.String(d, "userId"),
		EntryPage:    docstore.String(d, "entryPage"),
		ExitPage:     docstore.String(d, "exitPage"),
		PagesViewed:  docstore.Int(d, "pagesViewed"),
		Device:       docstore.String(d, "device"),
		Browser:      docstore.String(d, "browser"),
		Country:      docstore.String(d, "country"),
		Referrer:     docstore.String(d, "referrer"),
		StartedAt:    docstore.Time(d, "startedAt"),
		LastActivity: docstore.Time(d, "lastActivity"),
		Ended:        docstore.Bool(d, "ended"),
	}
	if !sess.StartedAt.IsZero() && sess.LastActivity.After(sess.StartedAt) {
		sess.Duration = sess.LastActivity.Sub(sess.StartedAt)
	}
	return sess
}

// DaySummary is one day's rollup of the raw event history.
type DaySummary struct {
	Date           string `json:"date"`
	Views          int64  `json:"views"`
	UniqueSessions int64  `json:"unique_sessions"`
}
