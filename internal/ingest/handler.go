package ingest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the tracking surface over HTTP.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/track", h.TrackView)
	r.POST("/track/share", h.TrackShare)
	r.POST("/track/comment", h.TrackComment)
}

func (h *Handler) TrackView(c *gin.Context) {
	var input PageViewInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := input.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.Device == "" {
		input.Device = deviceFromUserAgent(c.GetHeader("User-Agent"))
	}
	if input.Browser == "" {
		input.Browser = browserFromUserAgent(c.GetHeader("User-Agent"))
	}

	h.service.RecordView(c.Request.Context(), input)
	c.Status(http.StatusAccepted)
}

type articleEventInput struct {
	ArticleID string `json:"article_id"`
}

func (h *Handler) TrackShare(c *gin.Context) {
	var input articleEventInput
	if err := c.ShouldBindJSON(&input); err != nil || input.ArticleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingArticleID.Error()})
		return
	}
	h.service.RecordShare(c.Request.Context(), input.ArticleID)
	c.Status(http.StatusAccepted)
}

func (h *Handler) TrackComment(c *gin.Context) {
	var input articleEventInput
	if err := c.ShouldBindJSON(&input); err != nil || input.ArticleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingArticleID.Error()})
		return
	}
	h.service.RecordComment(c.Request.Context(), input.ArticleID)
	c.Status(http.StatusAccepted)
}

func deviceFromUserAgent(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

func browserFromUserAgent(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case lower == "":
		return ""
	case strings.Contains(lower, "edg/"):
		return "edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		return "opera"
	case strings.Contains(lower, "firefox"):
		return "firefox"
	case strings.Contains(lower, "chrome"):
		return "chrome"
	case strings.Contains(lower, "safari"):
		return "safari"
	default:
		return "other"
	}
}
