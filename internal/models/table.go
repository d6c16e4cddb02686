package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TableStatus статус занятости стола
type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableCleaning    TableStatus = "cleaning"
	TableMaintenance TableStatus = "maintenance"
)

// Valid проверяет, что статус входит в перечисление
func (s TableStatus) Valid() bool {
	switch s {
	case TableAvailable, TableOccupied, TableReserved, TableCleaning, TableMaintenance:
		return true
	}
	return false
}

// ErrBrokenBinding нарушено правило occupied <=> привязанный заказ
var ErrBrokenBinding = errors.New("table binding invariant violated")

// Table физический стол в зале.
// Статус occupied выставляется только привязкой заказа, вручную его не поставить.
type Table struct {
	ID            string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Number        int         `gorm:"not null;uniqueIndex" json:"number"`
	Floor         string      `gorm:"type:varchar(50);not null;default:'main';index" json:"floor"`
	MinCapacity   int         `gorm:"not null;default:1" json:"min_capacity"`
	MaxCapacity   int         `gorm:"not null;default:4" json:"max_capacity"`
	Shape         string      `gorm:"type:varchar(20)" json:"shape,omitempty"`
	Color         string      `gorm:"type:varchar(20)" json:"color,omitempty"`
	Status        TableStatus `gorm:"type:varchar(20);not null;default:'available';index" json:"status"`
	OrderID       *string     `gorm:"type:varchar(36);uniqueIndex" json:"order_id,omitempty"` // Текущий открытый заказ
	StaffID       *string     `gorm:"type:varchar(36);index" json:"staff_id,omitempty"`
	OccupiedSince *time.Time  `json:"occupied_since,omitempty"`
	Version       int64       `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName возвращает имя таблицы ("tables" зарезервировано под смысл БД, берем явное имя)
func (Table) TableName() string {
	return "restaurant_tables"
}

func (t *Table) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// IsBound привязан ли к столу открытый заказ
func (t *Table) IsBound() bool {
	return t.OrderID != nil && *t.OrderID != ""
}

// BoundTo привязан ли стол именно к этому заказу
func (t *Table) BoundTo(orderID string) bool {
	return t.IsBound() && *t.OrderID == orderID
}

// CheckBinding проверяет status = occupied <=> есть заказ
func (t *Table) CheckBinding() error {
	if (t.Status == TableOccupied) != t.IsBound() {
		return ErrBrokenBinding
	}
	return nil
}

// Occupy занимает стол заказом. Проверку доступности делает вызывающий код.
func (t *Table) Occupy(orderID, staffID string, at time.Time) {
	t.Status = TableOccupied
	t.OrderID = &orderID
	if staffID != "" {
		t.StaffID = &staffID
	} else {
		t.StaffID = nil
	}
	t.OccupiedSince = &at
}

// Free освобождает стол
func (t *Table) Free() {
	t.Status = TableAvailable
	t.OrderID = nil
	t.StaffID = nil
	t.OccupiedSince = nil
}
