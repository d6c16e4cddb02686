package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/services"
)

type MenuController struct {
	catalog services.Catalog
}

func NewMenuController(catalog services.Catalog) *MenuController {
	return &MenuController{catalog: catalog}
}

// GetMenu GET /api/v1/menu
func (mc *MenuController) GetMenu(c *gin.Context) {
	items, err := mc.catalog.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}
