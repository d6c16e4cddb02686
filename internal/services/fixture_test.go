package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

var (
	admin   = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	waiter  = auth.Actor{ID: "waiter-1", Role: auth.RoleWaiter}
	cook    = auth.Actor{ID: "cook-1", Role: auth.RoleKitchen}
	cashier = auth.Actor{ID: "cashier-1", Role: auth.RoleCashier}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx     context.Context
	store   *store.Memory
	rec     *events.Recorder
	clock   *testClock
	catalog *StaticCatalog
	tables  *TableService
	kitchen *KitchenService
	orders  *OrderService
	billing *BillingService
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newFixture(t *testing.T, opts OrderOptions) *fixture {
	t.Helper()
	st := store.NewMemory()
	rec := &events.Recorder{}
	clock := &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	catalog := NewStaticCatalog(
		models.MenuItem{ID: "m-burger", Name: "Burger", Category: "mains", Price: dec("100"), Station: "grill", IsActive: true},
		models.MenuItem{ID: "m-steak", Name: "Steak", Category: "mains", Price: dec("250"), Station: "grill", IsActive: true},
		models.MenuItem{ID: "m-cola", Name: "Cola", Category: "drinks", Price: dec("2.50"), Station: "bar", IsActive: true},
		models.MenuItem{ID: "m-salad", Name: "Salad", Category: "starters", Price: dec("7.25"), Station: "cold", IsActive: true},
		models.MenuItem{ID: "m-old", Name: "Retired", Category: "mains", Price: dec("9"), Station: "grill", IsActive: false},
	)

	tables := NewTableService(st, rec)
	kitchen := NewKitchenService(st, rec)
	orders := NewOrderService(st, tables, kitchen, catalog, rec, opts)
	billing := NewBillingService(st, tables, rec, BillingDefaults{TaxPct: dec("13"), ServiceChargePct: dec("10")})
	tables.now, kitchen.now, orders.now, billing.now = clock.Now, clock.Now, clock.Now, clock.Now

	return &fixture{
		ctx:     context.Background(),
		store:   st,
		rec:     rec,
		clock:   clock,
		catalog: catalog,
		tables:  tables,
		kitchen: kitchen,
		orders:  orders,
		billing: billing,
	}
}

func (f *fixture) table(t *testing.T, number int) *models.Table {
	t.Helper()
	table, err := f.tables.CreateTable(f.ctx, admin, CreateTableInput{Number: number, Floor: "main", MinCapacity: 2, MaxCapacity: 4})
	if err != nil {
		t.Fatalf("CreateTable(%d): %v", number, err)
	}
	return table
}

func (f *fixture) dineIn(t *testing.T, tableID string, items ...ItemInput) *OrderDetails {
	t.Helper()
	order, err := f.orders.CreateOrder(f.ctx, waiter, CreateOrderInput{Kind: models.OrderDineIn, TableID: tableID, Items: items})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (f *fixture) takeaway(t *testing.T, items ...ItemInput) *OrderDetails {
	t.Helper()
	order, err := f.orders.CreateOrder(f.ctx, waiter, CreateOrderInput{Kind: models.OrderTakeaway, CustomerName: "Mira", CustomerPhone: "+15550100", Items: items})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (f *fixture) getOrder(t *testing.T, id string) *OrderDetails {
	t.Helper()
	order, err := f.orders.GetOrder(f.ctx, id)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return order
}

func (f *fixture) getTable(t *testing.T, id string) *models.Table {
	t.Helper()
	table, err := f.tables.GetTable(f.ctx, id)
	if err != nil {
		t.Fatalf("GetTable: %v", err)
	}
	return table
}

// readyAll отмечает готовыми все строки всех тикетов заказа
func (f *fixture) readyAll(t *testing.T, orderID string) {
	t.Helper()
	tickets, err := f.kitchen.ListTickets(f.ctx, store.TicketFilter{OrderID: orderID})
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	for _, ticket := range tickets {
		for _, entry := range ticket.Entries {
			if _, err := f.kitchen.MarkItemReady(f.ctx, cook, ticket.ID, entry.ID); err != nil {
				t.Fatalf("MarkItemReady: %v", err)
			}
		}
	}
}

// served доводит заказ до served через кухню
func (f *fixture) served(t *testing.T, orderID string) {
	t.Helper()
	f.readyAll(t, orderID)
	if _, err := f.orders.AdvanceStatus(f.ctx, waiter, orderID, models.OrderServed, 0); err != nil {
		t.Fatalf("AdvanceStatus(served): %v", err)
	}
}

func (f *fixture) bill(t *testing.T, orderID string) *models.Bill {
	t.Helper()
	bill, err := f.billing.ComputeBill(f.ctx, cashier, orderID, ComputeBillInput{})
	if err != nil {
		t.Fatalf("ComputeBill: %v", err)
	}
	return bill
}

// assertBindings проверяет occupied <=> открытый заказ, ссылающийся на этот стол
func (f *fixture) assertBindings(t *testing.T) {
	t.Helper()
	tables, err := f.tables.ListTables(f.ctx, store.TableFilter{})
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	for _, table := range tables {
		if err := table.CheckBinding(); err != nil {
			t.Errorf("table %d: status=%s order=%v", table.Number, table.Status, table.OrderID)
			continue
		}
		if !table.IsBound() {
			continue
		}
		order := f.getOrder(t, *table.OrderID)
		if order.TableID == nil || *order.TableID != table.ID {
			t.Errorf("table %d bound to order %s which references %v", table.Number, order.Number, order.TableID)
		}
		if order.Status.IsTerminal() {
			t.Errorf("table %d bound to %s order %s", table.Number, order.Status, order.Number)
		}
	}
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %q, want %q (%v)", got, want, err)
	}
	if !errors.Is(err, &Error{Kind: want}) {
		t.Fatalf("errors.Is(%v, %s) = false", err, want)
	}
}

func item(id string, qty int) ItemInput {
	return ItemInput{MenuItemID: id, Quantity: qty}
}
