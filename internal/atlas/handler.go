package atlas

import (
	"github.com/gin-gonic/gin"

	"github.com/brainquiz/backend/pkg/response"
)

// Handler serves the atlas catalog.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a catalog handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// List handles GET /atlases.
func (h *Handler) List(c *gin.Context) {
	response.OK(c, h.catalog.List())
}

// Get handles GET /atlases/:id.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")
	for _, s := range h.catalog.List() {
		if s.ID == id {
			response.OK(c, s)
			return
		}
	}
	response.NotFound(c, "atlas not found")
}

// RegisterRoutes mounts the catalog endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/atlases", h.List)
	r.GET("/atlases/:id", h.Get)
}
