package multiplayer

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brainquiz/backend/internal/middleware"
	"github.com/brainquiz/backend/internal/realtime"
	"github.com/brainquiz/backend/pkg/apperror"
	"github.com/brainquiz/backend/pkg/response"
)

// OwnerRequest carries the lobby owner token.
type OwnerRequest struct {
	OwnerToken string `json:"ownerToken" binding:"required"`
}

// ParametersRequest is the body for POST /multiplayer/:code/parameters.
type ParametersRequest struct {
	OwnerRequest
	ParametersPatch
}

// GuessBody is the body for POST /multiplayer/:code/guess.
type GuessBody struct {
	UserName string    `json:"userName" binding:"required"`
	Token    string    `json:"token"`
	Secret   string    `json:"secret"`
	Voxel    []int     `json:"voxel" binding:"required"`
	MM       []float64 `json:"mm" binding:"required"`
}

// Handler handles multiplayer HTTP and WebSocket endpoints.
type Handler struct {
	ctrl     *Controller
	hub      *realtime.Hub
	upgrader *websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a multiplayer handler.
func NewHandler(ctrl *Controller, hub *realtime.Hub, upgrader *websocket.Upgrader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ctrl: ctrl, hub: hub, upgrader: upgrader, logger: logger}
}

// Create handles POST /multiplayer/create (authenticated).
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	res, err := h.ctrl.CreateMatch(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// State handles GET /multiplayer/:code.
func (h *Handler) State(c *gin.Context) {
	res, err := h.ctrl.State(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// UpdateParameters handles POST /multiplayer/:code/parameters (owner).
func (h *Handler) UpdateParameters(c *gin.Context) {
	var req ParametersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	params, err := h.ctrl.UpdateParameters(c.Request.Context(), c.Param("code"), req.OwnerToken, req.ParametersPatch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, params)
}

// Launch handles POST /multiplayer/:code/launch (owner).
func (h *Handler) Launch(c *gin.Context) {
	var req OwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.ctrl.Launch(c.Request.Context(), c.Param("code"), req.OwnerToken); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"code": c.Param("code"), "launched": true})
}

// Guess handles POST /multiplayer/:code/guess.
func (h *Handler) Guess(c *gin.Context) {
	var req GuessBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.ctrl.ValidateGuess(c.Request.Context(), c.Param("code"), GuessRequest{
		UserName: req.UserName,
		Token:    req.Token,
		Secret:   req.Secret,
		Voxel:    req.Voxel,
		MM:       req.MM,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Join handles GET /multiplayer/:code/ws?token=... or ?name=... and runs the connection until it closes.
func (h *Handler) Join(c *gin.Context) {
	code := c.Param("code")
	req := JoinRequest{Token: c.Query("token"), Name: c.Query("name")}
	if req.Token == "" && req.Name == "" {
		response.BadRequest(c, "token or name required")
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	var client *realtime.Client
	who, err := h.ctrl.Join(c.Request.Context(), code, req, func(name string) error {
		client = realtime.NewClient(h.hub, conn, code, name, h.logger)
		return h.hub.Register(client)
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			h.logger.Error("join failed", zap.String("code", code), zap.Error(err))
		}
		realtime.SendError(conn, apperror.Message(err))
		return
	}
	client.Run(nil, func() { h.ctrl.Leave(code, who.Name) })
}

// RegisterRoutes mounts the multiplayer endpoints. auth guards lobby creation; throttle limits
// lobby creation and joins per client.
func (h *Handler) RegisterRoutes(r gin.IRouter, auth, throttle gin.HandlerFunc) {
	g := r.Group("/multiplayer")
	g.POST("/create", throttle, auth, h.Create)
	g.GET("/:code", h.State)
	g.POST("/:code/parameters", h.UpdateParameters)
	g.POST("/:code/launch", h.Launch)
	g.POST("/:code/guess", h.Guess)
	g.GET("/:code/ws", throttle, h.Join)
}
