package singleplayer

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brainquiz/backend/internal/middleware"
	"github.com/brainquiz/backend/internal/models"
	"github.com/brainquiz/backend/pkg/response"
)

// StartRequest is the body for POST /singleplayer/start.
type StartRequest struct {
	Mode  string `json:"mode" binding:"required"`
	Atlas string `json:"atlas" binding:"required"`
}

// SessionRequest identifies a running session.
type SessionRequest struct {
	SessionID    string `json:"sessionId" binding:"required"`
	SessionToken string `json:"sessionToken" binding:"required"`
}

// ValidateRequest is the body for POST /singleplayer/validate.
type ValidateRequest struct {
	SessionRequest
	Coordinates Coordinates `json:"coordinates"`
}

// Handler handles single-player HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a single-player handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Start handles POST /singleplayer/start (authenticated).
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	res, err := h.svc.StartSession(c.Request.Context(), userID, models.Mode(req.Mode), req.Atlas)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

func bindSession(c *gin.Context, req *SessionRequest) (uuid.UUID, bool) {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// NextRegion handles POST /singleplayer/next-region.
func (h *Handler) NextRegion(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id, ok := bindSession(c, &req)
	if !ok {
		return
	}
	res, err := h.svc.GetNextRegion(c.Request.Context(), id, req.SessionToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Validate handles POST /singleplayer/validate.
func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id, ok := bindSession(c, &req.SessionRequest)
	if !ok {
		return
	}
	res, err := h.svc.ValidateGuess(c.Request.Context(), id, req.SessionToken, req.Coordinates)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Close handles POST /singleplayer/close.
func (h *Handler) Close(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id, ok := bindSession(c, &req)
	if !ok {
		return
	}
	res, err := h.svc.ManualClose(c.Request.Context(), id, req.SessionToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// RegisterRoutes mounts the single-player endpoints. auth guards session creation.
func (h *Handler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	g := r.Group("/singleplayer")
	g.POST("/start", auth, h.Start)
	g.POST("/next-region", h.NextRegion)
	g.POST("/validate", h.Validate)
	g.POST("/close", h.Close)
}
