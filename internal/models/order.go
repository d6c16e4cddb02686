package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderKind тип заказа
type OrderKind string

const (
	OrderDineIn   OrderKind = "dine_in"
	OrderTakeaway OrderKind = "takeaway"
)

func (k OrderKind) Valid() bool {
	return k == OrderDineIn || k == OrderTakeaway
}

// OrderStatus статус заказа
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderReady     OrderStatus = "ready"
	OrderServed    OrderStatus = "served"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderReady, OrderServed, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// IsTerminal completed и cancelled финальные
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

var progressRank = map[OrderStatus]int{
	OrderReady:     1,
	OrderServed:    2,
	OrderCompleted: 3,
}

// HasPassed заказ уже продвинулся дальше target по пути ready -> served -> completed.
// Для cancelled и для target pending всегда false.
func (s OrderStatus) HasPassed(target OrderStatus) bool {
	t, ok := progressRank[target]
	return ok && progressRank[s] > t
}

// ItemStatus готовность позиции (и строки тикета)
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemReady   ItemStatus = "ready"
)

// ErrKindTableMismatch стол указан только у dine_in
var ErrKindTableMismatch = errors.New("table reference must be present exactly for dine-in orders")

// Order заказ: шапка + позиции.
// Сумма заказа не хранится, всегда считается по позициям.
type Order struct {
	ID              string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Number          string      `gorm:"type:varchar(32);not null;uniqueIndex" json:"number"` // ORD_YYYYMMDD_NNN
	Kind            OrderKind   `gorm:"type:varchar(20);not null" json:"kind"`
	TableID         *string     `gorm:"type:varchar(36);index" json:"table_id,omitempty"`
	CustomerName    string      `gorm:"type:varchar(255)" json:"customer_name,omitempty"`
	CustomerPhone   string      `gorm:"type:varchar(20)" json:"customer_phone,omitempty"`
	StaffID         string      `gorm:"type:varchar(36);not null;index" json:"staff_id"`
	Status          OrderStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	SkippedReady    bool        `gorm:"not null;default:false" json:"skipped_ready"`    // pending -> served в обход кухни
	AwaitingKitchen bool        `gorm:"not null;default:false" json:"awaiting_kitchen"` // дозаказ к ready заказу еще готовится
	CancelReason    string      `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt       time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	ReadyAt         *time.Time  `json:"ready_at,omitempty"`
	ServedAt        *time.Time  `json:"served_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CancelledAt     *time.Time  `json:"cancelled_at,omitempty"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	Version         int64       `gorm:"not null;default:1" json:"version"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// Total сумма позиций
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// CheckKind стол есть тогда и только тогда, когда заказ dine_in
func (o *Order) CheckKind() error {
	hasTable := o.TableID != nil && *o.TableID != ""
	if hasTable != (o.Kind == OrderDineIn) {
		return ErrKindTableMismatch
	}
	return nil
}

// AcceptsItems дозаказ возможен в pending/ready/served
func (o *Order) AcceptsItems() bool {
	return o.Status == OrderPending || o.Status == OrderReady || o.Status == OrderServed
}

// NextLine номер следующей строки заказа
func (o *Order) NextLine() int {
	line := 0
	for _, item := range o.Items {
		if item.Line > line {
			line = item.Line
		}
	}
	return line + 1
}

// OrderItem позиция заказа. Цена фиксируется в момент добавления.
type OrderItem struct {
	ID         string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID    string          `gorm:"type:varchar(36);not null;index" json:"order_id"`
	Line       int             `gorm:"not null" json:"line"`
	MenuItemID string          `gorm:"type:varchar(36);not null" json:"menu_item_id"`
	Name       string          `gorm:"type:varchar(255);not null" json:"name"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Station    string          `gorm:"type:varchar(50);not null" json:"station"`
	Note       string          `gorm:"type:text" json:"note,omitempty"`
	Status     ItemStatus      `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ReadyAt    *time.Time      `json:"ready_at,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}

// Subtotal цена * количество
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderStatusLog журнал переходов статуса заказа
type OrderStatusLog struct {
	ID           uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      string      `gorm:"type:varchar(36);not null;index" json:"order_id"`
	FromStatus   OrderStatus `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus     OrderStatus `gorm:"type:varchar(20);not null" json:"to_status"`
	ChangedBy    string      `gorm:"type:varchar(36)" json:"changed_by"`
	Note         string      `gorm:"type:text" json:"note,omitempty"`
	SkippedReady bool        `gorm:"not null;default:false" json:"skipped_ready"`
	ChangedAt    time.Time   `gorm:"not null;index" json:"changed_at"`
}

func (OrderStatusLog) TableName() string {
	return "order_status_log"
}
