package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler hosts routes that belong to no domain area.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
