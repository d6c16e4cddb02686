package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tableside/server/internal/models"
)

// Gorm хранилище на PostgreSQL.
// Каждая Atomic это SERIALIZABLE транзакция; serialization failure и deadlock
// повторяются с экспоненциальной задержкой и jitter.
type Gorm struct {
	db         *gorm.DB
	maxRetries int
	baseDelay  time.Duration
}

func NewGorm(db *gorm.DB, maxRetries int) *Gorm {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Gorm{db: db, maxRetries: maxRetries, baseDelay: 10 * time.Millisecond}
}

func (s *Gorm) Atomic(ctx context.Context, fn func(repo Repository) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormRepo{db: tx, lock: true})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil {
			if attempt > 0 {
				log.Printf("✅ Atomic: успешно после %d попыток", attempt+1)
			}
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == s.maxRetries-1 {
			break
		}

		delay := s.baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(rand.Intn(10))*time.Millisecond
		log.Printf("⚠️ Atomic: serialization failure (попытка %d/%d), retry через %v", attempt+1, s.maxRetries, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: serialization failure after %d attempts: %v", ErrConflict, s.maxRetries, err)
}

func (s *Gorm) View(ctx context.Context, fn func(repo Repository) error) error {
	return fn(&gormRepo{db: s.db.WithContext(ctx)})
}

func (s *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isRetryable 40001 serialization_failure, 40P01 deadlock_detected,
// 23505 на номере заказа (две транзакции взяли один порядковый номер)
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		case "23505":
			return pgErr.ConstraintName == orderNumberConstraint
		}
		return false
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "could not serialize") || strings.Contains(errMsg, "deadlock")
}

// translate приводит ошибки драйвера к ошибкам store
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName != orderNumberConstraint {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

const orderNumberConstraint = "idx_orders_number"

type gormRepo struct {
	db   *gorm.DB
	lock bool
}

func (r *gormRepo) q(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *gormRepo) locked(ctx context.Context) *gorm.DB {
	db := r.q(ctx)
	if r.lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// cas обновляет строку, только если версия совпадает
func (r *gormRepo) cas(ctx context.Context, model interface{}, id string, version int64, values map[string]interface{}) error {
	values["version"] = version + 1
	res := r.q(ctx).Model(model).Where("id = ? AND version = ?", id, version).Updates(values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.q(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return translate(err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// ---- tables

func (r *gormRepo) CreateTable(ctx context.Context, table *models.Table) error {
	if table.Status == "" {
		table.Status = models.TableAvailable
	}
	table.Version = 1
	return translate(r.q(ctx).Create(table).Error)
}

func (r *gormRepo) GetTable(ctx context.Context, id string) (*models.Table, error) {
	var table models.Table
	if err := r.locked(ctx).Where("id = ?", id).First(&table).Error; err != nil {
		return nil, translate(err)
	}
	return &table, nil
}

func (r *gormRepo) ListTables(ctx context.Context, filter TableFilter) ([]models.Table, error) {
	query := r.q(ctx).Model(&models.Table{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Floor != "" {
		query = query.Where("floor = ?", filter.Floor)
	}
	if filter.StaffID != "" {
		query = query.Where("staff_id = ?", filter.StaffID)
	}
	var tables []models.Table
	if err := query.Order("number ASC").Find(&tables).Error; err != nil {
		return nil, translate(err)
	}
	return tables, nil
}

func (r *gormRepo) UpdateTable(ctx context.Context, table *models.Table) error {
	err := r.cas(ctx, &models.Table{}, table.ID, table.Version, map[string]interface{}{
		"floor":          table.Floor,
		"min_capacity":   table.MinCapacity,
		"max_capacity":   table.MaxCapacity,
		"shape":          table.Shape,
		"color":          table.Color,
		"status":         table.Status,
		"order_id":       table.OrderID,
		"staff_id":       table.StaffID,
		"occupied_since": table.OccupiedSince,
	})
	if err != nil {
		return err
	}
	table.Version++
	return nil
}

// ---- orders

func (r *gormRepo) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	from, to := dayBounds(day)
	var count int64
	err := r.q(ctx).Model(&models.Order{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Count(&count).Error
	if err != nil {
		return 0, translate(err)
	}
	return int(count) + 1, nil
}

func (r *gormRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	order.Version = 1
	return translate(r.q(ctx).Create(order).Error)
}

func (r *gormRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.locked(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *gormRepo) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := r.q(ctx).Model(&models.Order{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line ASC") })
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.StaffID != "" {
		query = query.Where("staff_id = ?", filter.StaffID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.TableID != "" {
		query = query.Where("table_id = ?", filter.TableID)
	}
	if !filter.CreatedBefore.IsZero() {
		query = query.Where("created_at < ?", filter.CreatedBefore)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var orders []models.Order
	if err := query.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, translate(err)
	}
	return orders, nil
}

func (r *gormRepo) UpdateOrder(ctx context.Context, order *models.Order) error {
	err := r.cas(ctx, &models.Order{}, order.ID, order.Version, map[string]interface{}{
		"table_id":         order.TableID,
		"status":           order.Status,
		"skipped_ready":    order.SkippedReady,
		"awaiting_kitchen": order.AwaitingKitchen,
		"cancel_reason":    order.CancelReason,
		"ready_at":         order.ReadyAt,
		"served_at":        order.ServedAt,
		"completed_at":     order.CompletedAt,
		"cancelled_at":     order.CancelledAt,
	})
	if err != nil {
		return err
	}
	order.Version++
	return nil
}

func (r *gormRepo) AddOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return translate(r.q(ctx).Create(&items).Error)
}

func (r *gormRepo) UpdateOrderItem(ctx context.Context, item *models.OrderItem) error {
	res := r.q(ctx).Model(&models.OrderItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"status":   item.Status,
		"ready_at": item.ReadyAt,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepo) AppendStatusLog(ctx context.Context, entry *models.OrderStatusLog) error {
	return translate(r.q(ctx).Create(entry).Error)
}

func (r *gormRepo) ListStatusLog(ctx context.Context, orderID string) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := r.q(ctx).Where("order_id = ?", orderID).Order("changed_at ASC, id ASC").Find(&logs).Error
	if err != nil {
		return nil, translate(err)
	}
	return logs, nil
}

// ---- kitchen tickets

func (r *gormRepo) CreateTicket(ctx context.Context, ticket *models.KitchenTicket) error {
	ticket.Version = 1
	return translate(r.q(ctx).Create(ticket).Error)
}

func (r *gormRepo) GetTicket(ctx context.Context, id string) (*models.KitchenTicket, error) {
	var ticket models.KitchenTicket
	err := r.locked(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("line ASC") }).
		Where("id = ?", id).
		First(&ticket).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

func (r *gormRepo) ListTickets(ctx context.Context, filter TicketFilter) ([]models.KitchenTicket, error) {
	query := r.q(ctx).Model(&models.KitchenTicket{}).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("line ASC") })
	if filter.OrderID != "" {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.Station != "" {
		query = query.Where("station = ?", filter.Station)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.OpenedFrom.IsZero() {
		query = query.Where("opened_at >= ?", filter.OpenedFrom)
	}
	if !filter.OpenedTo.IsZero() {
		query = query.Where("opened_at < ?", filter.OpenedTo)
	}
	var tickets []models.KitchenTicket
	if err := query.Order("opened_at ASC, station ASC").Find(&tickets).Error; err != nil {
		return nil, translate(err)
	}
	return tickets, nil
}

func (r *gormRepo) UpdateTicket(ctx context.Context, ticket *models.KitchenTicket) error {
	err := r.cas(ctx, &models.KitchenTicket{}, ticket.ID, ticket.Version, map[string]interface{}{
		"status":       ticket.Status,
		"started_at":   ticket.StartedAt,
		"completed_at": ticket.CompletedAt,
	})
	if err != nil {
		return err
	}
	for _, entry := range ticket.Entries {
		res := r.q(ctx).Model(&models.TicketEntry{}).Where("id = ?", entry.ID).Updates(map[string]interface{}{
			"status":   entry.Status,
			"ready_at": entry.ReadyAt,
		})
		if res.Error != nil {
			return translate(res.Error)
		}
	}
	ticket.Version++
	return nil
}

// ---- bills

func (r *gormRepo) CreateBill(ctx context.Context, bill *models.Bill) error {
	bill.Version = 1
	return translate(r.q(ctx).Omit("Payments").Create(bill).Error)
}

func (r *gormRepo) GetBill(ctx context.Context, id string) (*models.Bill, error) {
	var bill models.Bill
	err := r.locked(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("leg ASC") }).
		Where("id = ?", id).
		First(&bill).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bill, nil
}

func (r *gormRepo) GetBillByOrder(ctx context.Context, orderID string) (*models.Bill, error) {
	var bill models.Bill
	err := r.locked(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("leg ASC") }).
		Where("order_id = ?", orderID).
		First(&bill).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bill, nil
}

func (r *gormRepo) UpdateBill(ctx context.Context, bill *models.Bill) error {
	err := r.cas(ctx, &models.Bill{}, bill.ID, bill.Version, map[string]interface{}{
		"subtotal":           bill.Subtotal,
		"service_charge_pct": bill.ServiceChargePct,
		"service_charge":     bill.ServiceCharge,
		"tax_pct":            bill.TaxPct,
		"tax":                bill.Tax,
		"discount":           bill.Discount,
		"discount_reason":    bill.DiscountReason,
		"grand_total":        bill.GrandTotal,
		"status":             bill.Status,
		"cashier_id":         bill.CashierID,
		"paid_at":            bill.PaidAt,
	})
	if err != nil {
		return err
	}
	bill.Version++
	return nil
}

func (r *gormRepo) AddPayments(ctx context.Context, payments []models.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	return translate(r.q(ctx).Create(&payments).Error)
}

// ---- customers

func (r *gormRepo) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return translate(r.q(ctx).Create(customer).Error)
}

func (r *gormRepo) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.locked(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		return nil, translate(err)
	}
	return &customer, nil
}

func (r *gormRepo) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	res := r.q(ctx).Model(&models.Customer{}).Where("id = ?", customer.ID).Updates(map[string]interface{}{
		"name":    customer.Name,
		"balance": customer.Balance,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepo) AddCreditEntry(ctx context.Context, entry *models.CreditEntry) error {
	return translate(r.q(ctx).Create(entry).Error)
}
