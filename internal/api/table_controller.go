package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"

	"tableside/server/internal/models"
	"tableside/server/internal/services"
	"tableside/server/internal/store"
)

type TableController struct {
	tables *services.TableService
}

func NewTableController(tables *services.TableService) *TableController {
	return &TableController{tables: tables}
}

type CreateTableRequest struct {
	Number      int    `json:"number" binding:"required,min=1"`
	Floor       string `json:"floor"`
	MinCapacity int    `json:"min_capacity"`
	MaxCapacity int    `json:"max_capacity"`
	Shape       string `json:"shape"`
	Color       string `json:"color"`
}

type SetTableStatusRequest struct {
	Status          models.TableStatus `json:"status" binding:"required"`
	ExpectedVersion int64              `json:"expected_version"`
}

// TableView стол для схемы зала
type TableView struct {
	ID              string             `json:"id"`
	Number          int                `json:"number"`
	Floor           string             `json:"floor"`
	MinCapacity     int                `json:"min_capacity"`
	MaxCapacity     int                `json:"max_capacity"`
	Shape           string             `json:"shape,omitempty"`
	Color           string             `json:"color,omitempty"`
	Status          models.TableStatus `json:"status"`
	OrderID         *string            `json:"order_id,omitempty"`
	StaffID         *string            `json:"staff_id,omitempty"`
	OccupiedSince   *time.Time         `json:"occupied_since,omitempty"`
	OccupiedMinutes int                `json:"occupied_minutes,omitempty"`
	Version         int64              `json:"version"`
}

func toTableView(table *models.Table, now time.Time) (TableView, error) {
	var view TableView
	if err := copier.Copy(&view, table); err != nil {
		return view, fmt.Errorf("map table %s: %w", table.ID, err)
	}
	if table.OccupiedSince != nil {
		view.OccupiedMinutes = int(now.Sub(*table.OccupiedSince).Minutes())
	}
	return view, nil
}

func (tc *TableController) respondTable(c *gin.Context, status int, table *models.Table) {
	view, err := toTableView(table, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, view)
}

// CreateTable POST /api/v1/tables
func (tc *TableController) CreateTable(c *gin.Context) {
	var req CreateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var input services.CreateTableInput
	if err := copier.Copy(&input, &req); err != nil {
		badRequest(c, err)
		return
	}

	table, err := tc.tables.CreateTable(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	tc.respondTable(c, http.StatusCreated, table)
}

// ListTables GET /api/v1/tables?status=&floor=&staff_id=
func (tc *TableController) ListTables(c *gin.Context) {
	filter := store.TableFilter{
		Status:  models.TableStatus(c.Query("status")),
		Floor:   c.Query("floor"),
		StaffID: c.Query("staff_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": "unknown table status " + string(filter.Status)})
		return
	}

	tables, err := tc.tables.ListTables(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	now := time.Now()
	views := make([]TableView, 0, len(tables))
	for i := range tables {
		view, err := toTableView(&tables[i], now)
		if err != nil {
			respondError(c, err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"tables": views, "count": len(views)})
}

// GetTable GET /api/v1/tables/:id
func (tc *TableController) GetTable(c *gin.Context) {
	table, err := tc.tables.GetTable(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	tc.respondTable(c, http.StatusOK, table)
}

// SetStatus PUT /api/v1/tables/:id/status
func (tc *TableController) SetStatus(c *gin.Context) {
	var req SetTableStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	table, err := tc.tables.SetStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status, req.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	tc.respondTable(c, http.StatusOK, table)
}
