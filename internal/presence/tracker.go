package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
)

const (
	// DefaultActiveWindow bounds "currently online" reads.
	DefaultActiveWindow = 5 * time.Minute

	// DefaultSweepMaxAge is how old a record must be before the periodic
	// sweep hard-deletes it.
	DefaultSweepMaxAge = time.Hour
)

// Tracker maintains the rolling set of currently active visitors, one record
// per session keyed by session id.
type Tracker struct {
	store  docstore.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewTracker(store docstore.Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Upsert records activity for a session: first event creates the visitor,
// later events move it to the current page and bump the page counter.
func (t *Tracker) Upsert(ctx context.Context, sessionID, page string, info DeviceInfo) error {
	now := t.now().UTC()

	_, err := t.store.Get(ctx, CollectionVisitors, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		doc := docstore.Doc{
			"sessionId":    sessionID,
			"currentPage":  page,
			"lastSeen":     now,
			"sessionStart": now,
			"pagesViewed":  int64(1),
		}
		if info.Device != "" {
			doc["device"] = info.Device
		}
		if info.Browser != "" {
			doc["browser"] = info.Browser
		}
		if info.Country != "" {
			doc["country"] = info.Country
		}
		if info.Referrer != "" {
			doc["referrer"] = info.Referrer
		}
		if err := t.store.Set(ctx, CollectionVisitors, sessionID, doc); err != nil {
			return fmt.Errorf("failed to create visitor: %w", err)
		}
		t.logger.Debug("visitor created", zap.String("session_id", sessionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up visitor: %w", err)
	}

	err = t.store.UpdateFields(ctx, CollectionVisitors, sessionID, docstore.Doc{
		"currentPage": page,
		"lastSeen":    now,
		"pagesViewed": docstore.Inc(1),
	})
	if err != nil {
		return fmt.Errorf("failed to update visitor: %w", err)
	}
	return nil
}

// ListActive returns visitors seen inside the window, most recent first.
func (t *Tracker) ListActive(ctx context.Context, window time.Duration) ([]*Visitor, error) {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	cutoff := t.now().UTC().Add(-window)

	docs, err := t.store.Query(ctx, CollectionVisitors,
		[]docstore.Filter{docstore.Where("lastSeen", ">=", cutoff)},
		&docstore.OrderBy{Field: "lastSeen", Desc: true},
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active visitors: %w", err)
	}

	visitors := make([]*Visitor, 0, len(docs))
	for _, d := range docs {
		visitors = append(visitors, visitorFromDoc(d))
	}
	return visitors, nil
}

// SweepExpired hard-deletes visitors not seen for maxAge. Active reads do not
// depend on it; it only keeps the collection from growing without bound.
func (t *Tracker) SweepExpired(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultSweepMaxAge
	}
	cutoff := t.now().UTC().Add(-maxAge)

	docs, err := t.store.Query(ctx, CollectionVisitors,
		[]docstore.Filter{docstore.Where("lastSeen", "<", cutoff)},
		nil, 0,
	)
	if err != nil {
		return fmt.Errorf("failed to find expired visitors: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	ops := make([]docstore.WriteOp, 0, len(docs))
	for _, d := range docs {
		ops = append(ops, docstore.WriteOp{
			Kind:       docstore.WriteDelete,
			Collection: CollectionVisitors,
			ID:         docstore.String(d, "id"),
		})
	}
	if err := t.store.BatchWrite(ctx, ops); err != nil {
		return fmt.Errorf("failed to delete expired visitors: %w", err)
	}

	t.logger.Info("expired visitors swept", zap.Int("count", len(ops)))
	return nil
}

// RunSweeper deletes expired visitors on a fixed interval until the context
// closes. The dashboard service runs it; nothing else schedules sweeps.
func (t *Tracker) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.SweepExpired(ctx, maxAge); err != nil {
				t.logger.Error("visitor sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
