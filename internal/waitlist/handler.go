package waitlist

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/logger"
)

const (
	msgInvalidEmail    = "Invalid email"
	msgInvalidLinkedin = "Invalid LinkedIn link"
	msgEmailSaved      = "Email saved or updated"
	msgLinkedinSaved   = "LinkedIn saved or updated"

	pingTimeout = 2 * time.Second
)

type addEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type addLinkedinRequest struct {
	Linkedin string `json:"linkedin" binding:"required,url"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type Handler struct {
	repo   Repository
	logger *zap.Logger
}

func NewHandler(repo Repository, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{repo: repo, logger: log}
}

// AddEmail is the POST /api/add-email endpoint.
func (h *Handler) AddEmail(c *gin.Context) {
	var req addEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidEmail})
		return
	}

	data, err := h.repo.UpsertEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.logger.Error("email upsert failed", logger.Email(req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "success": false})
		return
	}

	h.logger.Info("email saved", logger.Email(req.Email))
	c.JSON(http.StatusOK, gin.H{"message": msgEmailSaved, "data": data, "success": true})
}

// AddLinkedin is the POST /api/add-linkedin endpoint.
func (h *Handler) AddLinkedin(c *gin.Context) {
	var req addLinkedinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidLinkedin})
		return
	}

	data, err := h.repo.UpsertLinkedin(c.Request.Context(), strings.TrimSpace(req.Linkedin), strings.TrimSpace(req.Email))
	if err != nil {
		h.logger.Error("linkedin upsert failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "success": false})
		return
	}

	h.logger.Info("linkedin saved", logger.Email(req.Email))
	c.JSON(http.StatusOK, gin.H{"message": msgLinkedinSaved, "data": data, "success": true})
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("database ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
