package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campaignkit/outreach/internal/handler"
	campaignHandler "github.com/campaignkit/outreach/internal/handler/campaign"
	"github.com/campaignkit/outreach/internal/handler/queuestats"
	"github.com/campaignkit/outreach/internal/middleware"
)

type Router struct {
	engine   *gin.Engine
	base     *handler.Handler
	campaign *campaignHandler.Handler
	queue    *queuestats.Handler
}

func NewRouter(base *handler.Handler, campaign *campaignHandler.Handler, queue *queuestats.Handler) *Router {
	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
	)

	return &Router{
		engine:   engine,
		base:     base,
		campaign: campaign,
		queue:    queue,
	}
}

func (r *Router) Setup() {
	r.engine.GET("/health", r.base.Health)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.engine.Group("/api/v1")
	r.campaign.RegisterRoutes(v1)
	r.queue.RegisterRoutes(v1)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
