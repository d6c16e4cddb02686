// Package store описывает транзакционное хранилище зала: столы, заказы, тикеты, счета.
// Реализации: Gorm (PostgreSQL, SERIALIZABLE) и Memory (тесты и локальный запуск).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tableside/server/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("concurrent modification")
	ErrDuplicate = errors.New("duplicate record")
	errReadOnly  = errors.New("write inside read-only view")
)

type TableFilter struct {
	Status  models.TableStatus
	Floor   string
	StaffID string
}

type OrderFilter struct {
	Statuses      []models.OrderStatus
	StaffID       string
	Kind          models.OrderKind
	TableID       string
	CreatedBefore time.Time
	Limit         int
}

type TicketFilter struct {
	OrderID    string
	Station    string
	Status     models.TicketStatus
	OpenedFrom time.Time
	OpenedTo   time.Time
}

// Repository операции над записями внутри одной транзакции.
// Update* это compare-and-swap по Version: при расхождении ErrConflict, при успехе Version+1.
// Get* внутри Atomic блокируют строку до конца транзакции.
type Repository interface {
	CreateTable(ctx context.Context, table *models.Table) error
	GetTable(ctx context.Context, id string) (*models.Table, error)
	ListTables(ctx context.Context, filter TableFilter) ([]models.Table, error)
	UpdateTable(ctx context.Context, table *models.Table) error

	NextOrderSequence(ctx context.Context, day time.Time) (int, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	AddOrderItems(ctx context.Context, items []models.OrderItem) error
	UpdateOrderItem(ctx context.Context, item *models.OrderItem) error
	AppendStatusLog(ctx context.Context, entry *models.OrderStatusLog) error
	ListStatusLog(ctx context.Context, orderID string) ([]models.OrderStatusLog, error)

	CreateTicket(ctx context.Context, ticket *models.KitchenTicket) error
	GetTicket(ctx context.Context, id string) (*models.KitchenTicket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.KitchenTicket, error)
	UpdateTicket(ctx context.Context, ticket *models.KitchenTicket) error

	CreateBill(ctx context.Context, bill *models.Bill) error
	GetBill(ctx context.Context, id string) (*models.Bill, error)
	GetBillByOrder(ctx context.Context, orderID string) (*models.Bill, error)
	UpdateBill(ctx context.Context, bill *models.Bill) error
	AddPayments(ctx context.Context, payments []models.Payment) error

	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	UpdateCustomer(ctx context.Context, customer *models.Customer) error
	AddCreditEntry(ctx context.Context, entry *models.CreditEntry) error
}

// Store выдает Repository в рамках транзакции.
// Atomic: либо все записи fn видны, либо ни одной. fn может быть вызвана повторно.
type Store interface {
	Atomic(ctx context.Context, fn func(repo Repository) error) error
	View(ctx context.Context, fn func(repo Repository) error) error
	Ping(ctx context.Context) error
}

// OrderNumber формат номера заказа ORD_YYYYMMDD_NNN
func OrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("ORD_%s_%03d", day.UTC().Format("20060102"), seq)
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
