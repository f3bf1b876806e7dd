package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/docstore"
	"github.com/blogkit/analytics/internal/ingest"
	"github.com/blogkit/analytics/internal/resilience"
)

func newTestSessionService(t *testing.T) (*Service, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory()
	exec := resilience.New(resilience.Config{
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		Multiplier:       2.0,
	}, zap.NewNop())
	return NewService(store, exec, zap.NewNop()), store
}

func pageView(sessionID, path string, ts time.Time, exit bool) *ingest.PageView {
	return &ingest.PageView{
		ID:        "evt-" + sessionID + path,
		Path:      path,
		SessionID: sessionID,
		Timestamp: ts,
		ExitPage:  exit,
		Device:    "desktop",
		Referrer:  "https://news.ycombinator.com/",
	}
}

func TestProcessEventCreatesSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.ProcessEvent(ctx, pageView("sess-1", "/blog/hello", ts, false)))

	sess, err := svc.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "/blog/hello", sess.EntryPage)
	assert.Equal(t, int64(1), sess.PagesViewed)
	assert.Equal(t, "desktop", sess.Device)
	assert.True(t, sess.StartedAt.Equal(ts))
	assert.Zero(t, sess.Duration)
	assert.False(t, sess.Ended)
}

func TestProcessEventExtendsSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.ProcessEvent(ctx, pageView("sess-1", "/blog/hello", ts, false)))
	require.NoError(t, svc.ProcessEvent(ctx, pageView("sess-1", "/blog/world", ts.Add(time.Minute), false)))

	sess, err := svc.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "/blog/hello", sess.EntryPage)
	assert.Equal(t, int64(2), sess.PagesViewed)
	assert.True(t, sess.LastActivity.Equal(ts.Add(time.Minute)))
	assert.Equal(t, time.Minute, sess.Duration)
	assert.Empty(t, sess.ExitPage)
}

func TestProcessEventClosesSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)

	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.ProcessEvent(ctx, pageView("sess-1", "/blog/hello", ts, false)))
	require.NoError(t, svc.ProcessEvent(ctx, pageView("sess-1", "/blog/bye", ts.Add(time.Minute), true)))

	sess, err := svc.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, sess.Ended)
	assert.Equal(t, "/blog/bye", sess.ExitPage)
}

func TestProcessEventMissingSessionID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)

	err := svc.ProcessEvent(ctx, &ingest.PageView{Path: "/blog/hello"})
	assert.Error(t, err)
}

func TestGetSessionMissing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)

	sess, err := svc.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestMessageHandler(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)
	handler := svc.CreateMessageHandler()

	view := pageView("sess-1", "/blog/hello", time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), false)
	payload, err := json.Marshal(view)
	require.NoError(t, err)

	require.NoError(t, handler(ctx, []byte("sess-1"), payload))

	sess, err := svc.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, int64(1), sess.PagesViewed)
}

func TestMessageHandlerDropsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)
	handler := svc.CreateMessageHandler()

	// Garbage must not error, or the consumer would never move past it.
	assert.NoError(t, handler(ctx, []byte("k"), []byte("{not json")))
}

func TestDailySummary(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestSessionService(t)

	day1 := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	seed := []struct {
		session string
		ts      time.Time
	}{
		{"s1", day1},
		{"s1", day1.Add(time.Hour)},
		{"s2", day1.Add(2 * time.Hour)},
		{"s3", day2},
		{"s3", day2.Add(30 * time.Minute)},
	}
	for _, ev := range seed {
		_, err := store.Add(ctx, ingest.CollectionPageViews, docstore.Doc{
			"path":      "/blog/post",
			"sessionId": ev.session,
			"timestamp": ev.ts,
		})
		require.NoError(t, err)
	}

	from := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	summaries, err := svc.DailySummary(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "2026-08-28", summaries[0].Date)
	assert.Equal(t, int64(3), summaries[0].Views)
	assert.Equal(t, int64(2), summaries[0].UniqueSessions)

	assert.Equal(t, "2026-08-29", summaries[1].Date)
	assert.Equal(t, int64(2), summaries[1].Views)
	assert.Equal(t, int64(1), summaries[1].UniqueSessions)
}

func TestDailySummaryEmptyRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestSessionService(t)

	summaries, err := svc.DailySummary(ctx,
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
