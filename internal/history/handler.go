package history

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/caelven/listend/pkg/response"
)

// Handler handles GET /admin/history.
type Handler struct {
	repo *Repository
}

// NewHandler creates a history handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Get returns recent listening sessions and daily peaks.
func (h *Handler) Get(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 || days > 365 {
		days = 30
	}

	ctx := c.Request.Context()
	sessions, err := h.repo.ListRecent(ctx, limit)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	peaks, err := h.repo.ListPeaks(ctx, days)
	if err != nil {
		response.Internal(c, "failed to list peaks")
		return
	}
	response.OK(c, gin.H{"sessions": sessions, "peaks": peaks})
}
