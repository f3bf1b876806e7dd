package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/pkg/kafka"
)

// Service maintains user sessions from the page-view event stream and rolls
// up daily traffic summaries from the raw event history.
type Service struct {
	store  docstore.Store
	exec   *resilience.Wrapper
	logger *zap.Logger
}

func NewService(store docstore.Store, exec *resilience.Wrapper, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		exec:   exec,
		logger: logger,
	}
}

// CreateMessageHandler adapts the service to the Kafka consumer. Malformed
// payloads are logged and dropped so one bad message cannot wedge the
// partition.
func (s *Service) CreateMessageHandler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		var view ingest.PageView
		if err := json.Unmarshal(value, &view); err != nil {
			s.logger.Error("failed to unmarshal page view event",
				zap.String("key", string(key)),
				zap.Error(err),
			)
			return nil
		}
		if err := s.ProcessEvent(ctx, &view); err != nil {
			s.logger.Error("failed to process page view event",
				zap.String("session_id", view.SessionID),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}

// ProcessEvent folds one page view into its session record. The first event
// for a session creates it; later events extend the page trail. An exit-page
// event closes the session.
func (s *Service) ProcessEvent(ctx context.Context, view *ingest.PageView) error {
	if view.SessionID == "" {
		return errors.New("page view event has no session id")
	}

	_, err := s.store.Get(ctx, CollectionUserSessions, view.SessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		doc := docstore.Doc{
			"entryPage":    view.Path,
			"pagesViewed":  int64(1),
			"startedAt":    view.Timestamp,
			"lastActivity": view.Timestamp,
			"ended":        view.ExitPage,
		}
		if view.UserID != "" {
			doc["userId"] = view.UserID
		}
		if view.Device != "" {
			doc["device"] = view.Device
		}
		if view.Browser != "" {
			doc["browser"] = view.Browser
		}
		if view.Country != "" {
			doc["country"] = view.Country
		}
		if view.Referrer != "" {
			doc["referrer"] = view.Referrer
		}
		if view.ExitPage {
			doc["exitPage"] = view.Path
		}
		if err := s.store.Set(ctx, CollectionUserSessions, view.SessionID, doc); err != nil {
			return fmt.Errorf("failed to create user session: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user session: %w", err)
	}

	fields := docstore.Doc{
		"pagesViewed":  docstore.Inc(1),
		"lastActivity": view.Timestamp,
	}
	if view.ExitPage {
		fields["exitPage"] = view.Path
		fields["ended"] = true
	}
	if err := s.store.UpdateFields(ctx, CollectionUserSessions, view.SessionID, fields); err != nil {
		return fmt.Errorf("failed to update user session: %w", err)
	}
	return nil
}

// GetSession returns one session record, or nil when it does not exist.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*UserSession, error) {
	doc, err := s.store.Get(ctx, CollectionUserSessions, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user session: %w", err)
	}
	return sessionFromDoc(doc), nil
}

// DailySummary scans the raw event history for the range and rolls it up
// into per-day view and unique-session counts, oldest day first.
func (s *Service) DailySummary(ctx context.Context, from, to time.Time) ([]*DaySummary, error) {
	var docs []docstore.Doc
	err := s.exec.Execute(ctx, resilience.OpDailySummary, func(ctx context.Context) error {
		var qerr error
		docs, qerr = s.store.Query(ctx, ingest.CollectionPageViews, []docstore.Filter{
			docstore.Where("timestamp", ">=", from),
			docstore.Where("timestamp", "<", to),
		}, &docstore.OrderBy{Field: "timestamp"}, 0)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query page views: %w", err)
	}

	type dayAgg struct {
		views    int64
		sessions map[string]struct{}
	}
	days := make(map[string]*dayAgg)
	order := []string{}

	for _, d := range docs {
		ts := docstore.Time(d, "timestamp")
		if ts.IsZero() {
			continue
		}
		day := ts.UTC().Format("2006-01-02")
		agg, ok := days[day]
		if !ok {
			agg = &dayAgg{sessions: make(map[string]struct{})}
			days[day] = agg
			order = append(order, day)
		}
		agg.views++
		if sid := docstore.String(d, "sessionId"); sid != "" {
			agg.sessions[sid] = struct{}{}
		}
	}

	summaries := make([]*DaySummary, 0, len(order))
	for _, day := range order {
		agg := days[day]
		summaries = append(summaries, &DaySummary{
			Date:           day,
			Views:          agg.views,
			UniqueSessions: int64(len(agg.sessions)),
		})
	}
	return summaries, nil
}
