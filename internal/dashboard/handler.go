package dashboard

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/internal/presence"
	"github.com/blogkit/analytics/internal/resilience"
	"github.com/blogkit/analytics/internal/session"
)

// Handler exposes the dashboard read API. Composed dashboards are kept in a
// stale-while-revalidate cache so a flapping store still serves the last
// known snapshot, flagged as stale.
type Handler struct {
	composer *Composer
	cache    *resilience.StaleCache[*Data]
	sessions *session.Service
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(composer *Composer, cache *resilience.StaleCache[*Data], sessions *session.Service, logger *zap.Logger) *Handler {
	return &Handler{
		composer: composer,
		cache:    cache,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/dashboard", h.getDashboard)
	r.GET("/realtime", h.getRealTime)
	r.GET("/realtime/stream", h.streamRealTime)
	r.GET("/trending", h.getTrending)
	r.GET("/articles/top", h.getTopArticles)
	r.GET("/summary", h.getSummary)
}

func (h *Handler) getDashboard(c *gin.Context) {
	from, to, err := h.parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cacheKey := fmt.Sprintf("dashboard:%s:%s", from.Format(time.RFC3339), to.Format(time.RFC3339))

	data, err := h.composer.GetDashboard(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("failed to compose dashboard", zap.Error(err))
		if cached, stale, ok := h.cache.Get(cacheKey); ok {
			c.JSON(http.StatusOK, gin.H{
				"data":     cached,
				"is_stale": stale,
			})
			return
		}
		status := http.StatusInternalServerError
		var rerr *resilience.Error
		canRetry := false
		if errors.As(err, &rerr) {
			canRetry = rerr.CanRetry
		}
		if canRetry {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":     "dashboard temporarily unavailable",
			"can_retry": canRetry,
		})
		return
	}

	h.cache.Put(cacheKey, data)
	c.JSON(http.StatusOK, gin.H{
		"data":     data,
		"is_stale": false,
	})
}

func (h *Handler) getRealTime(c *gin.Context) {
	visitors, err := h.composer.tracker.ListActive(c.Request.Context(), h.composer.cfg.ActiveWindow)
	if err != nil {
		h.logger.Error("failed to list active visitors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch active visitors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(visitors),
		"visitors": visitors,
	})
}

// streamRealTime pushes active-visitor snapshots over server-sent events on
// the composer's configured refresh interval. The feed stops when the client
// disconnects.
func (h *Handler) streamRealTime(c *gin.Context) {
	ctx := c.Request.Context()
	updates := make(chan []*presence.Visitor, 1)
	stop := h.composer.SubscribeRealTime(ctx, 0, func(visitors []*presence.Visitor) {
		select {
		case updates <- visitors:
		default:
		}
	})
	defer stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case visitors := <-updates:
			c.SSEvent("realtime", gin.H{
				"count":    len(visitors),
				"visitors": visitors,
			})
			return true
		}
	})
}

func (h *Handler) getTrending(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 5, 20)
	contents, err := h.composer.scorer.ListTrending(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list trending content", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch trending content"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trending": contents})
}

func (h *Handler) getTopArticles(c *gin.Context) {
	period := c.DefaultQuery("period", "7d")
	limit := parseLimit(c.Query("limit"), 10, 50)

	articles, err := h.composer.PopularArticles(c.Request.Context(), period, limit)
	if err != nil {
		h.logger.Error("failed to list top articles",
			zap.String("period", period),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch top articles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period":   period,
		"articles": articles,
	})
}

func (h *Handler) getSummary(c *gin.Context) {
	from, to, err := h.parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The default 24h range is too narrow for a daily rollup.
	if c.Query("from") == "" && c.Query("to") == "" {
		from = to.Add(-7 * 24 * time.Hour)
	}

	summaries, err := h.sessions.DailySummary(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Error("failed to build daily summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build daily summary"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":      from,
		"to":        to,
		"summaries": summaries,
	})
}

// parseRange reads the from/to query parameters, defaulting to the last 24
// hours ending now.
func (h *Handler) parseRange(c *gin.Context) (time.Time, time.Time, error) {
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'from' timestamp: %w", err)
		}
		from = parsed.UTC()
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'to' timestamp: %w", err)
		}
		to = parsed.UTC()
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("'to' must not precede 'from'")
	}
	return from, to, nil
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}
