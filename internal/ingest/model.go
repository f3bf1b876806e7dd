package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/blogkit/analytics/internal/docstore"
)

const CollectionPageViews = "page_views"

// PageViewInput is what the tracking snippet submits. Device, browser and
// country may be pre-derived by the client; the HTTP handler fills device and
// browser from the User-Agent header when they are absent.
type PageViewInput struct {
	Path        string   `json:"path"`
	ArticleID   string   `json:"article_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Category    string   `json:"category,omitempty"`
	Referrer    string   `json:"referrer,omitempty"`
	Device      string   `json:"device,omitempty"`
	Browser     string   `json:"browser,omitempty"`
	Country     string   `json:"country,omitempty"`
	SessionID   string   `json:"session_id"`
	UserID      string   `json:"user_id,omitempty"`
	TimeOnPage  *float64 `json:"time_on_page,omitempty"`
	ScrollDepth *float64 `json:"scroll_depth,omitempty"`
	ExitPage    bool     `json:"exit_page,omitempty"`
}

func (in *PageViewInput) Validate() error {
	if in.Path == "" {
		return ErrMissingPath
	}
	if in.SessionID == "" {
		return ErrMissingSessionID
	}
	return nil
}

// PageView is the immutable page-view fact. Created once per navigation with
// a server-assigned timestamp, never mutated.
type PageView struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	ArticleID   string    `json:"article_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Category    string    `json:"category,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	Device      string    `json:"device,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	Country     string    `json:"country,omitempty"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	TimeOnPage  *float64  `json:"time_on_page,omitempty"`
	ScrollDepth *float64  `json:"scroll_depth,omitempty"`
	ExitPage    bool      `json:"exit_page,omitempty"`
}

func NewPageView(in PageViewInput, now time.Time) *PageView {
	return &PageView{
		ID:          uuid.NewString(),
		Path:        in.Path,
		ArticleID:   in.ArticleID,
		Title:       in.Title,
		Category:    in.Category,
		Referrer:    in.Referrer,
		Device:      in.Device,
		Browser:     in.Browser,
		Country:     in.Country,
		SessionID:   in.SessionID,
		UserID:      in.UserID,
		Timestamp:   now.UTC(),
		TimeOnPage:  in.TimeOnPage,
		ScrollDepth: in.ScrollDepth,
		ExitPage:    in.ExitPage,
	}
}

// Doc builds the stored document, including optional fields only when they
// were actually supplied.
func (v *PageView) Doc() docstore.Doc {
	doc := docstore.Doc{
		"path":      v.Path,
		"sessionId": v.SessionID,
		"timestamp": v.Timestamp,
		"exitPage":  v.ExitPage,
	}
	if v.ArticleID != "" {
		doc["articleId"] = v.ArticleID
	}
	if v.Title != "" {
		doc["title"] = v.Title
	}
	if v.Category != "" {
		doc["category"] = v.Category
	}
	if v.Referrer != "" {
		doc["referrer"] = v.Referrer
	}
	if v.Device != "" {
		doc["device"] = v.Device
	}
	if v.Browser != "" {
		doc["browser"] = v.Browser
	}
	if v.Country != "" {
		doc["country"] = v.Country
	}
	if v.UserID != "" {
		doc["userId"] = v.UserID
	}
	if v.TimeOnPage != nil {
		doc["timeOnPage"] = *v.TimeOnPage
	}
	if v.ScrollDepth != nil {
		doc["scrollDepth"] = *v.ScrollDepth
	}
	return doc
}

func FromDoc(d docstore.Doc) *PageView {
	view := &PageView{
		ID:        docstore.String(d, "id"),
		Path:      docstore.String(d, "path"),
		ArticleID: docstore.String(d, "articleId"),
		Title:     docstore.String(d, "title"),
		Category:  docstore.String(d, "category"),
		Referrer:  docstore.String(d, "referrer"),
		Device:    docstore.String(d, "device"),
		Browser:   docstore.String(d, "browser"),
		Country:   docstore.String(d, "country"),
		SessionID: docstore.String(d, "sessionId"),
		UserID:    docstore.String(d, "userId"),
		Timestamp: docstore.Time(d, "timestamp"),
		ExitPage:  docstore.Bool(d, "exitPage"),
	}
	if _, ok := d["timeOnPage"]; ok {
		t := docstore.Float(d, "timeOnPage")
		view.TimeOnPage = &t
	}
	if _, ok := d["scrollDepth"]; ok {
		s := docstore.Float(d, "scrollDepth")
		view.ScrollDepth = &s
	}
	return view
}
