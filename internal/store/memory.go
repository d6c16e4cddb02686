package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"tableside/server/internal/models"
)

// Memory хранилище в памяти процесса.
// Один писатель за раз: транзакция работает над копией данных и подменяет их при успехе.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	tables    map[string]models.Table
	orders    map[string]models.Order // без Items, позиции лежат в items
	items     map[string]models.OrderItem
	logs      []models.OrderStatusLog
	tickets   map[string]models.KitchenTicket // без Entries
	entries   map[string]models.TicketEntry
	bills     map[string]models.Bill // без Payments
	payments  map[string]models.Payment
	customers map[string]models.Customer
	credits   map[string]models.CreditEntry
}

func NewMemory() *Memory {
	return &Memory{data: &memData{
		tables:    map[string]models.Table{},
		orders:    map[string]models.Order{},
		items:     map[string]models.OrderItem{},
		tickets:   map[string]models.KitchenTicket{},
		entries:   map[string]models.TicketEntry{},
		bills:     map[string]models.Bill{},
		payments:  map[string]models.Payment{},
		customers: map[string]models.Customer{},
		credits:   map[string]models.CreditEntry{},
	}}
}

func (d *memData) clone() *memData {
	return &memData{
		tables:    maps.Clone(d.tables),
		orders:    maps.Clone(d.orders),
		items:     maps.Clone(d.items),
		logs:      slices.Clone(d.logs),
		tickets:   maps.Clone(d.tickets),
		entries:   maps.Clone(d.entries),
		bills:     maps.Clone(d.bills),
		payments:  maps.Clone(d.payments),
		customers: maps.Clone(d.customers),
		credits:   maps.Clone(d.credits),
	}
}

func (m *Memory) Atomic(ctx context.Context, fn func(repo Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memRepo{d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(repo Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memRepo{d: m.data, readOnly: true})
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memRepo struct {
	d        *memData
	readOnly bool
}

func (r *memRepo) write() error {
	if r.readOnly {
		return errReadOnly
	}
	return nil
}

// ---- tables

func (r *memRepo) CreateTable(ctx context.Context, table *models.Table) error {
	if err := r.write(); err != nil {
		return err
	}
	if err := table.BeforeCreate(nil); err != nil {
		return err
	}
	for _, t := range r.d.tables {
		if t.Number == table.Number || t.ID == table.ID {
			return ErrDuplicate
		}
	}
	if table.Status == "" {
		table.Status = models.TableAvailable
	}
	now := time.Now().UTC()
	table.Version = 1
	table.CreatedAt, table.UpdatedAt = now, now
	r.d.tables[table.ID] = *table
	return nil
}

func (r *memRepo) GetTable(ctx context.Context, id string) (*models.Table, error) {
	t, ok := r.d.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *memRepo) ListTables(ctx context.Context, filter TableFilter) ([]models.Table, error) {
	out := []models.Table{}
	for _, t := range r.d.tables {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Floor != "" && t.Floor != filter.Floor {
			continue
		}
		if filter.StaffID != "" && (t.StaffID == nil || *t.StaffID != filter.StaffID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *memRepo) UpdateTable(ctx context.Context, table *models.Table) error {
	if err := r.write(); err != nil {
		return err
	}
	current, ok := r.d.tables[table.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != table.Version {
		return ErrConflict
	}
	if table.OrderID != nil {
		for id, t := range r.d.tables {
			if id != table.ID && t.OrderID != nil && *t.OrderID == *table.OrderID {
				return ErrDuplicate
			}
		}
	}
	table.Version++
	table.UpdatedAt = time.Now().UTC()
	r.d.tables[table.ID] = *table
	return nil
}

// ---- orders

func (r *memRepo) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	from, to := dayBounds(day)
	n := 0
	for _, o := range r.d.orders {
		if !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) {
			n++
		}
	}
	return n + 1, nil
}

func (r *memRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := r.write(); err != nil {
		return err
	}
	if err := order.BeforeCreate(nil); err != nil {
		return err
	}
	for _, o := range r.d.orders {
		if o.ID == order.ID || o.Number == order.Number {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	if err := r.AddOrderItems(ctx, order.Items); err != nil {
		return err
	}
	header := *order
	header.Items = nil
	r.d.orders[order.ID] = header
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, ok := r.d.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o.Items = r.itemsOf(id)
	return &o, nil
}

func (r *memRepo) itemsOf(orderID string) []models.OrderItem {
	items := []models.OrderItem{}
	for _, it := range r.d.items {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Line < items[j].Line })
	return items
}

func (r *memRepo) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	out := []models.Order{}
	for _, o := range r.d.orders {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, o.Status) {
			continue
		}
		if filter.StaffID != "" && o.StaffID != filter.StaffID {
			continue
		}
		if filter.Kind != "" && o.Kind != filter.Kind {
			continue
		}
		if filter.TableID != "" && (o.TableID == nil || *o.TableID != filter.TableID) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !o.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		o.Items = r.itemsOf(o.ID)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memRepo) UpdateOrder(ctx context.Context, order *models.Order) error {
	if err := r.write(); err != nil {
		return err
	}
	current, ok := r.d.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != order.Version {
		return ErrConflict
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	header := *order
	header.Items = nil
	r.d.orders[order.ID] = header
	return nil
}

func (r *memRepo) AddOrderItems(ctx context.Context, items []models.OrderItem) error {
	if err := r.write(); err != nil {
		return err
	}
	for i := range items {
		if err := items[i].BeforeCreate(nil); err != nil {
			return err
		}
		for _, existing := range r.d.items {
			if existing.OrderID == items[i].OrderID && existing.Line == items[i].Line {
				return ErrDuplicate
			}
		}
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = time.Now().UTC()
		}
		r.d.items[items[i].ID] = items[i]
	}
	return nil
}

func (r *memRepo) UpdateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if err := r.write(); err != nil {
		return err
	}
	if _, ok := r.d.items[item.ID]; !ok {
		return ErrNotFound
	}
	r.d.items[item.ID] = *item
	return nil
}

func (r *memRepo) AppendStatusLog(ctx context.Context, entry *models.OrderStatusLog) error {
	if err := r.write(); err != nil {
		return err
	}
	entry.ID = uint(len(r.d.logs) + 1)
	r.d.logs = append(r.d.logs, *entry)
	return nil
}

func (r *memRepo) ListStatusLog(ctx context.Context, orderID string) ([]models.OrderStatusLog, error) {
	out := []models.OrderStatusLog{}
	for _, l := range r.d.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ---- kitchen tickets

func (r *memRepo) CreateTicket(ctx context.Context, ticket *models.KitchenTicket) error {
	if err := r.write(); err != nil {
		return err
	}
	if err := ticket.BeforeCreate(nil); err != nil {
		return err
	}
	if _, ok := r.d.tickets[ticket.ID]; ok {
		return ErrDuplicate
	}
	ticket.Version = 1
	for i := range ticket.Entries {
		e := &ticket.Entries[i]
		if err := e.BeforeCreate(nil); err != nil {
			return err
		}
		e.TicketID = ticket.ID
		r.d.entries[e.ID] = *e
	}
	header := *ticket
	header.Entries = nil
	r.d.tickets[ticket.ID] = header
	return nil
}

func (r *memRepo) GetTicket(ctx context.Context, id string) (*models.KitchenTicket, error) {
	t, ok := r.d.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Entries = r.entriesOf(id)
	return &t, nil
}

func (r *memRepo) entriesOf(ticketID string) []models.TicketEntry {
	entries := []models.TicketEntry{}
	for _, e := range r.d.entries {
		if e.TicketID == ticketID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Line < entries[j].Line })
	return entries
}

func (r *memRepo) ListTickets(ctx context.Context, filter TicketFilter) ([]models.KitchenTicket, error) {
	out := []models.KitchenTicket{}
	for _, t := range r.d.tickets {
		if filter.OrderID != "" && t.OrderID != filter.OrderID {
			continue
		}
		if filter.Station != "" && t.Station != filter.Station {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if !filter.OpenedFrom.IsZero() && t.OpenedAt.Before(filter.OpenedFrom) {
			continue
		}
		if !filter.OpenedTo.IsZero() && !t.OpenedAt.Before(filter.OpenedTo) {
			continue
		}
		t.Entries = r.entriesOf(t.ID)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Station < out[j].Station
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

func (r *memRepo) UpdateTicket(ctx context.Context, ticket *models.KitchenTicket) error {
	if err := r.write(); err != nil {
		return err
	}
	current, ok := r.d.tickets[ticket.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != ticket.Version {
		return ErrConflict
	}
	for _, e := range ticket.Entries {
		if _, ok := r.d.entries[e.ID]; !ok {
			return ErrNotFound
		}
		r.d.entries[e.ID] = e
	}
	ticket.Version++
	header := *ticket
	header.Entries = nil
	r.d.tickets[ticket.ID] = header
	return nil
}

// ---- bills

func (r *memRepo) CreateBill(ctx context.Context, bill *models.Bill) error {
	if err := r.write(); err != nil {
		return err
	}
	if err := bill.BeforeCreate(nil); err != nil {
		return err
	}
	for _, b := range r.d.bills {
		if b.ID == bill.ID || b.OrderID == bill.OrderID {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	bill.CreatedAt, bill.UpdatedAt = now, now
	bill.Version = 1
	header := *bill
	header.Payments = nil
	r.d.bills[bill.ID] = header
	return nil
}

func (r *memRepo) GetBill(ctx context.Context, id string) (*models.Bill, error) {
	b, ok := r.d.bills[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Payments = r.paymentsOf(id)
	return &b, nil
}

func (r *memRepo) GetBillByOrder(ctx context.Context, orderID string) (*models.Bill, error) {
	for id, b := range r.d.bills {
		if b.OrderID == orderID {
			return r.GetBill(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) paymentsOf(billID string) []models.Payment {
	var out []models.Payment
	for _, p := range r.d.payments {
		if p.BillID == billID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Leg < out[j].Leg })
	return out
}

func (r *memRepo) UpdateBill(ctx context.Context, bill *models.Bill) error {
	if err := r.write(); err != nil {
		return err
	}
	current, ok := r.d.bills[bill.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != bill.Version {
		return ErrConflict
	}
	bill.Version++
	bill.UpdatedAt = time.Now().UTC()
	header := *bill
	header.Payments = nil
	r.d.bills[bill.ID] = header
	return nil
}

func (r *memRepo) AddPayments(ctx context.Context, payments []models.Payment) error {
	if err := r.write(); err != nil {
		return err
	}
	for i := range payments {
		if err := payments[i].BeforeCreate(nil); err != nil {
			return err
		}
		if payments[i].CreatedAt.IsZero() {
			payments[i].CreatedAt = time.Now().UTC()
		}
		r.d.payments[payments[i].ID] = payments[i]
	}
	return nil
}

// ---- customers

func (r *memRepo) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if err := r.write(); err != nil {
		return err
	}
	if err := customer.BeforeCreate(nil); err != nil {
		return err
	}
	for _, c := range r.d.customers {
		if c.ID == customer.ID || c.Phone == customer.Phone {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	customer.CreatedAt, customer.UpdatedAt = now, now
	r.d.customers[customer.ID] = *customer
	return nil
}

func (r *memRepo) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c, ok := r.d.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *memRepo) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	if err := r.write(); err != nil {
		return err
	}
	if _, ok := r.d.customers[customer.ID]; !ok {
		return ErrNotFound
	}
	customer.UpdatedAt = time.Now().UTC()
	r.d.customers[customer.ID] = *customer
	return nil
}

func (r *memRepo) AddCreditEntry(ctx context.Context, entry *models.CreditEntry) error {
	if err := r.write(); err != nil {
		return err
	}
	if err := entry.BeforeCreate(nil); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.d.credits[entry.ID] = *entry
	return nil
}
