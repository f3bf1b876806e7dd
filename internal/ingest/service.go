package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/resilience"
)

// Publisher pushes the persisted event onto the event bus for the legacy
// summary pipeline. Matches the Kafka producer's surface.
type Publisher interface {
	SendMessage(ctx context.Context, key string, value any) error
}

// PresenceTracker is the slice of the presence tracker the ingestor fans out
// to.
type PresenceTracker interface {
	Upsert(ctx context.Context, sessionID, page string, info presence.DeviceInfo) error
}

// ArticleAggregator is the slice of the performance aggregator the ingestor
// fans out to.
type ArticleAggregator interface {
	RecordArticleView(ctx context.Context, articleID string, timeSpent *float64) error
	RecordShare(ctx context.Context, articleID string) error
	RecordComment(ctx context.Context, articleID string) error
}

// Service is the fan-out coordinator for tracking events. It performs no
// decision logic of its own, and it never surfaces a store failure to the
// caller: a broken analytics pipe must not break a page render.
type Service struct {
	store    docstore.Store
	exec     *resilience.Wrapper
	tracker  PresenceTracker
	articles ArticleAggregator
	producer Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	store docstore.Store,
	exec *resilience.Wrapper,
	tracker PresenceTracker,
	articles ArticleAggregator,
	producer Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:    store,
		exec:     exec,
		tracker:  tracker,
		articles: articles,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordView persists the raw event with a server-assigned timestamp, then
// updates presence and, for article views, the per-article stats. Each step
// is best effort; failures are logged and swallowed.
func (s *Service) RecordView(ctx context.Context, input PageViewInput) {
	if err := input.Validate(); err != nil {
		s.logger.Warn("invalid page view dropped",
			zap.Error(err),
			zap.String("path", input.Path),
		)
		return
	}

	view := NewPageView(input, s.now())

	err := s.exec.Execute(ctx, resilience.OpPageView, func(ctx context.Context) error {
		_, err := s.store.Add(ctx, CollectionPageViews, view.Doc())
		return err
	})
	if err != nil {
		s.logger.Error("failed to persist page view",
			zap.Error(err),
			zap.String("path", view.Path),
			zap.String("session_id", view.SessionID),
		)
	}

	info := presence.DeviceInfo{
		Device:   view.Device,
		Browser:  view.Browser,
		Country:  view.Country,
		Referrer: view.Referrer,
	}
	if err := s.tracker.Upsert(ctx, view.SessionID, view.Path, info); err != nil {
		s.logger.Error("failed to update presence",
			zap.Error(err),
			zap.String("session_id", view.SessionID),
		)
	}

	// Homepage and category views carry no article id and do not count
	// toward article stats.
	if view.ArticleID != "" {
		if err := s.articles.RecordArticleView(ctx, view.ArticleID, view.TimeOnPage); err != nil {
			s.logger.Error("failed to record article view",
				zap.Error(err),
				zap.String("article_id", view.ArticleID),
			)
		}
	}

	if s.producer != nil {
		if err := s.producer.SendMessage(ctx, view.SessionID, view); err != nil {
			s.logger.Error("failed to publish page view",
				zap.Error(err),
				zap.String("event_id", view.ID),
			)
		}
	}

	s.logger.Debug("page view recorded",
		zap.String("event_id", view.ID),
		zap.String("path", view.Path),
		zap.String("session_id", view.SessionID),
	)
}

// RecordShare counts a social share for an article. Same tracking-path
// policy: log and swallow.
func (s *Service) RecordShare(ctx context.Context, articleID string) {
	if articleID == "" {
		s.logger.Warn("share event without article id dropped")
		return
	}
	if err := s.articles.RecordShare(ctx, articleID); err != nil {
		s.logger.Error("failed to record share",
			zap.Error(err),
			zap.String("article_id", articleID),
		)
	}
}

// RecordComment counts a published comment for an article.
func (s *Service) RecordComment(ctx context.Context, articleID string) {
	if articleID == "" {
		s.logger.Warn("comment event without article id dropped")
		return
	}
	if err := s.articles.RecordComment(ctx, articleID); err != nil {
		s.logger.Error("failed to record comment",
			zap.Error(err),
			zap.String("article_id", articleID),
		)
	}
}
