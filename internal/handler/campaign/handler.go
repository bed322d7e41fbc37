package campaign

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campaignkit/outreach/internal/model"
	campaignService "github.com/campaignkit/outreach/internal/service/campaign"
	"github.com/campaignkit/outreach/pkg/errors"
	"github.com/campaignkit/outreach/pkg/httputil"
)

type Handler struct {
	service *campaignService.Service
}

func NewHandler(service *campaignService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/campaigns", h.CreateCampaign)
	r.GET("/campaigns", h.ListCampaigns)
	r.GET("/campaigns/:id", h.GetCampaign)
	r.GET("/campaigns/:id/recipients", h.ListRecipients)
	r.GET("/sheets/:id/columns", h.GetSheetColumns)
}

func (h *Handler) CreateCampaign(c *gin.Context) {
	var req model.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest(err.Error(), err))
		return
	}

	campaign, err := h.service.CreateCampaign(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, gin.H{"campaign_id": campaign.ID})
}

func (h *Handler) GetCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid campaign ID", err))
		return
	}

	campaign, err := h.service.GetCampaign(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, campaign)
}

func (h *Handler) ListCampaigns(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid user ID", err))
		return
	}

	campaigns, err := h.service.ListCampaigns(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, campaigns)
}

func (h *Handler) ListRecipients(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid campaign ID", err))
		return
	}

	var p model.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid pagination parameters", err))
		return
	}
	p.Normalize()

	recipients, total, err := h.service.ListRecipients(c.Request.Context(), id, p)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, recipients, p.Page, p.PageSize, total)
}

// GetSheetColumns reads the header row of a sheet so the dashboard can
// build a column mapping. The caller supplies a provider token obtained
// during its own OAuth flow.
func (h *Handler) GetSheetColumns(c *gin.Context) {
	token := c.GetHeader("X-Provider-Token")
	if token == "" {
		httputil.RespondWithError(c, errors.BadRequest("missing X-Provider-Token header", nil))
		return
	}

	columns, err := h.service.GetSheetColumns(c.Request.Context(), token, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, columns)
}
