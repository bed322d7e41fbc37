package queuestats

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/campaignkit/outreach/pkg/httputil"
	"github.com/campaignkit/outreach/pkg/queue"
)

// StatsProvider reports queue depths. Satisfied by *queue.Queue.
type StatsProvider interface {
	Stats(ctx context.Context) (*queue.Stats, error)
}

type Handler struct {
	provider StatsProvider
}

func NewHandler(provider StatsProvider) *Handler {
	return &Handler{provider: provider}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/queue/stats", h.GetStats)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.provider.Stats(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}
