package services

import (
	"sync"
	"testing"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

func TestDineInRoundTrip(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)

	order := f.dineIn(t, t1.ID, item("m-burger", 2))
	if order.Status != models.OrderPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if got := f.getTable(t, t1.ID); got.Status != models.TableOccupied || !got.BoundTo(order.ID) {
		t.Fatalf("table after seating: status=%s order=%v", got.Status, got.OrderID)
	}
	if len(order.Tickets) != 1 || len(order.Tickets[0].Entries) != 1 {
		t.Fatalf("expected one ticket with one entry, got %+v", order.Tickets)
	}

	ticket := order.Tickets[0]
	res, err := f.kitchen.MarkItemReady(f.ctx, cook, ticket.ID, ticket.Entries[0].ID)
	if err != nil {
		t.Fatalf("MarkItemReady: %v", err)
	}
	if !res.TicketReady || res.Ticket.Status != models.TicketReady {
		t.Fatalf("ticket status = %s, want ready", res.Ticket.Status)
	}
	if !res.OrderAdvance || res.Order.Status != models.OrderReady {
		t.Fatalf("order status = %s, want ready", res.Order.Status)
	}

	if _, err := f.orders.AdvanceStatus(f.ctx, waiter, order.ID, models.OrderServed, 0); err != nil {
		t.Fatalf("AdvanceStatus(served): %v", err)
	}

	bill, err := f.billing.ComputeBill(f.ctx, cashier, order.ID, ComputeBillInput{
		TaxPct:           decPtr("13"),
		ServiceChargePct: decPtr("10"),
	})
	if err != nil {
		t.Fatalf("ComputeBill: %v", err)
	}
	for name, pair := range map[string][2]string{
		"subtotal":       {bill.Subtotal.StringFixed(2), "200.00"},
		"service charge": {bill.ServiceCharge.StringFixed(2), "20.00"},
		"tax":            {bill.Tax.StringFixed(2), "26.00"},
		"grand total":    {bill.GrandTotal.StringFixed(2), "246.00"},
	} {
		if pair[0] != pair[1] {
			t.Errorf("%s = %s, want %s", name, pair[0], pair[1])
		}
	}

	settled, err := f.billing.Settle(f.ctx, cashier, bill.ID, []LegInput{{Method: models.PaymentCash, Amount: dec("246")}}, 0)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if settled.Bill.Status != models.BillPaid {
		t.Errorf("bill status = %s, want paid", settled.Bill.Status)
	}
	if settled.Order.Status != models.OrderCompleted {
		t.Errorf("order status = %s, want completed", settled.Order.Status)
	}
	if got := f.getTable(t, t1.ID); got.Status != models.TableAvailable || got.IsBound() {
		t.Errorf("table after settle: status=%s order=%v", got.Status, got.OrderID)
	}
	f.assertBindings(t)

	types := f.rec.Types()
	for _, want := range []events.Type{events.OrderCreated, events.TableBound, events.TicketOpened, events.TicketReady, events.BillPaid, events.TableReleased} {
		found := false
		for _, got := range types {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("event %s was not published", want)
		}
	}
}

func TestCreateOrderRejects(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)

	tests := []struct {
		name  string
		actor auth.Actor
		input CreateOrderInput
		want  Kind
	}{
		{"empty items", waiter, CreateOrderInput{Kind: models.OrderDineIn, TableID: t1.ID}, KindEmptyOrder},
		{"dine-in without table", waiter, CreateOrderInput{Kind: models.OrderDineIn, Items: []ItemInput{item("m-burger", 1)}}, KindValidation},
		{"takeaway with table", waiter, CreateOrderInput{Kind: models.OrderTakeaway, TableID: t1.ID, Items: []ItemInput{item("m-burger", 1)}}, KindValidation},
		{"unknown kind", waiter, CreateOrderInput{Kind: "delivery", Items: []ItemInput{item("m-burger", 1)}}, KindValidation},
		{"zero quantity", waiter, CreateOrderInput{Kind: models.OrderTakeaway, Items: []ItemInput{item("m-burger", 0)}}, KindValidation},
		{"unknown menu item", waiter, CreateOrderInput{Kind: models.OrderTakeaway, Items: []ItemInput{item("m-nope", 1)}}, KindUnknownMenuItem},
		{"inactive menu item", waiter, CreateOrderInput{Kind: models.OrderTakeaway, Items: []ItemInput{item("m-old", 1)}}, KindUnknownMenuItem},
		{"unknown table", waiter, CreateOrderInput{Kind: models.OrderDineIn, TableID: "missing", Items: []ItemInput{item("m-burger", 1)}}, KindUnknownTable},
		{"kitchen cannot take orders", cook, CreateOrderInput{Kind: models.OrderTakeaway, Items: []ItemInput{item("m-burger", 1)}}, KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(f.ctx, tt.actor, tt.input)
			assertKind(t, err, tt.want)
		})
	}

	orders, err := f.orders.ListOrders(f.ctx, store.OrderFilter{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("rejected commands left %d orders behind", len(orders))
	}
	if got := f.getTable(t, t1.ID); got.Status != models.TableAvailable {
		t.Errorf("rejected commands changed table status to %s", got.Status)
	}
}

func TestCreateOrderOnOccupiedTable(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)
	first := f.dineIn(t, t1.ID, item("m-burger", 1))

	_, err := f.orders.CreateOrder(f.ctx, waiter, CreateOrderInput{
		Kind:    models.OrderDineIn,
		TableID: t1.ID,
		Items:   []ItemInput{item("m-cola", 1)},
	})
	assertKind(t, err, KindTableUnavailable)

	if got := f.getTable(t, t1.ID); !got.BoundTo(first.ID) {
		t.Errorf("table rebound to %v", got.OrderID)
	}
	orders, _ := f.orders.ListOrders(f.ctx, store.OrderFilter{})
	if len(orders) != 1 {
		t.Errorf("orders = %d, want 1", len(orders))
	}
	tickets, _ := f.kitchen.ListTickets(f.ctx, store.TicketFilter{})
	if len(tickets) != 1 {
		t.Errorf("tickets = %d, want 1 (failed order must not open tickets)", len(tickets))
	}
	f.assertBindings(t)
}

func TestConcurrentSeatingSingleWinner(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.CreateOrder(f.ctx, waiter, CreateOrderInput{
				Kind:    models.OrderDineIn,
				TableID: t1.ID,
				Items:   []ItemInput{item("m-burger", 1)},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case KindOf(err) == KindTableUnavailable:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || rejected != workers-1 {
		t.Fatalf("wins=%d rejected=%d, want 1/%d", wins, rejected, workers-1)
	}
	f.assertBindings(t)
}

func TestOrderNumbersAreSequentialPerDay(t *testing.T) {
	f := newFixture(t, OrderOptions{})

	first := f.takeaway(t, item("m-cola", 1))
	second := f.takeaway(t, item("m-cola", 1))

	if first.Number != "ORD_20260314_001" || second.Number != "ORD_20260314_002" {
		t.Errorf("numbers = %s, %s", first.Number, second.Number)
	}
	if first.Total != "2.50" {
		t.Errorf("total = %s, want 2.50", first.Total)
	}
}

func TestAdvanceStatusIsIdempotent(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)
	order := f.dineIn(t, t1.ID, item("m-burger", 1))
	f.readyAll(t, order.ID)

	first, err := f.orders.AdvanceStatus(f.ctx, waiter, order.ID, models.OrderServed, 0)
	if err != nil {
		t.Fatalf("first AdvanceStatus: %v", err)
	}
	second, err := f.orders.AdvanceStatus(f.ctx, waiter, order.ID, models.OrderServed, 0)
	if err != nil {
		t.Fatalf("second AdvanceStatus should be a no-op, got %v", err)
	}
	if first.Status != second.Status || first.Version != second.Version {
		t.Errorf("second call changed state: %s/v%d -> %s/v%d", first.Status, first.Version, second.Status, second.Version)
	}
	if got := f.getTable(t, t1.ID); got.Status != models.TableAvailable {
		t.Errorf("served dine-in order must release table, status=%s", got.Status)
	}

	history, err := f.orders.History(f.ctx, order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	served := 0
	for _, entry := range history {
		if entry.ToStatus == models.OrderServed {
			served++
		}
	}
	if served != 1 {
		t.Errorf("served recorded %d times, want 1", served)
	}
}

func TestAdvanceStatusRejects(t *testing.T) {
	f := newFixture(t, OrderOptions{})

	pending := f.takeaway(t, item("m-burger", 1))
	ready := f.takeaway(t, item("m-cola", 1))
	f.readyAll(t, ready.ID)
	cancelled := f.takeaway(t, item("m-cola", 1))
	if _, err := f.orders.CancelOrder(f.ctx, waiter, cancelled.ID, "guest left", 0); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	tests := []struct {
		name    string
		orderID string
		target  models.OrderStatus
		version int64
		want    Kind
	}{
		{"ready while tickets open", pending.ID, models.OrderReady, 0, KindIllegalTransition},
		{"back to pending", ready.ID, models.OrderPending, 0, KindIllegalTransition},
		{"complete before serving", ready.ID, models.OrderCompleted, 0, KindIllegalTransition},
		{"cancel through advance", pending.ID, models.OrderCancelled, 0, KindValidation},
		{"unknown status", pending.ID, "eaten", 0, KindValidation},
		{"terminal order", cancelled.ID, models.OrderServed, 0, KindOrderClosed},
		{"stale version", pending.ID, models.OrderServed, 99, KindConflict},
		{"unknown order", "missing", models.OrderServed, 0, KindUnknownOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.AdvanceStatus(f.ctx, waiter, tt.orderID, tt.target, tt.version)
			assertKind(t, err, tt.want)
		})
	}

	if _, err := f.orders.AdvanceStatus(f.ctx, cook, pending.ID, models.OrderServed, 0); KindOf(err) != KindForbidden {
		t.Errorf("kitchen advancing an order: got %v, want Forbidden", err)
	}
}

func TestPendingToServedIsRecorded(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	order := f.takeaway(t, item("m-cola", 1))

	got, err := f.orders.AdvanceStatus(f.ctx, waiter, order.ID, models.OrderServed, 0)
	if err != nil {
		t.Fatalf("AdvanceStatus: %v", err)
	}
	if !got.SkippedReady {
		t.Error("order should be flagged skipped_ready")
	}

	history, err := f.orders.History(f.ctx, order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	last := history[len(history)-1]
	if last.FromStatus != models.OrderPending || last.ToStatus != models.OrderServed || !last.SkippedReady {
		t.Errorf("last history entry = %+v", last)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)
	order := f.dineIn(t, t1.ID, item("m-burger", 1))

	_, err := f.orders.CancelOrder(f.ctx, waiter, order.ID, "   ", 0)
	assertKind(t, err, KindValidation)

	cancelled, err := f.orders.CancelOrder(f.ctx, waiter, order.ID, "kitchen out of buns", 0)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != models.OrderCancelled || cancelled.CancelReason != "kitchen out of buns" || cancelled.CancelledAt == nil {
		t.Errorf("cancelled order = %+v", cancelled)
	}
	if got := f.getTable(t, t1.ID); got.Status != models.TableAvailable {
		t.Errorf("table status = %s, want available", got.Status)
	}

	if _, err := f.orders.CancelOrder(f.ctx, waiter, order.ID, "again", 0); err != nil {
		t.Errorf("repeated cancel should be a no-op, got %v", err)
	}

	ticket := order.Tickets[0]
	_, err = f.kitchen.MarkItemReady(f.ctx, cook, ticket.ID, ticket.Entries[0].ID)
	assertKind(t, err, KindOrderClosed)
	_, err = f.kitchen.StartTicket(f.ctx, cook, ticket.ID)
	assertKind(t, err, KindOrderClosed)
	_, err = f.orders.AppendItems(f.ctx, waiter, order.ID, []ItemInput{item("m-cola", 1)}, 0)
	assertKind(t, err, KindOrderClosed)
	_, err = f.billing.ComputeBill(f.ctx, cashier, order.ID, ComputeBillInput{})
	assertKind(t, err, KindOrderClosed)

	// стол снова свободен для новых гостей
	f.dineIn(t, t1.ID, item("m-cola", 2))
	f.assertBindings(t)
}

func TestCancelCompletedOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	order := f.takeaway(t, item("m-cola", 1))
	f.served(t, order.ID)
	bill := f.bill(t, order.ID)
	if _, err := f.billing.Settle(f.ctx, cashier, bill.ID, []LegInput{{Method: models.PaymentCard, Amount: bill.GrandTotal}}, 0); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	_, err := f.orders.CancelOrder(f.ctx, admin, order.ID, "refund", 0)
	assertKind(t, err, KindOrderClosed)
}

func TestLateAdvanceAfterSettleIsNoOp(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	order := f.takeaway(t, item("m-cola", 1))
	f.served(t, order.ID)
	bill := f.bill(t, order.ID)
	if _, err := f.billing.Settle(f.ctx, cashier, bill.ID, []LegInput{{Method: models.PaymentCard, Amount: bill.GrandTotal}}, 0); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	before, err := f.orders.History(f.ctx, order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}

	for _, target := range []models.OrderStatus{models.OrderServed, models.OrderReady} {
		got, err := f.orders.AdvanceStatus(f.ctx, waiter, order.ID, target, 0)
		if err != nil {
			t.Fatalf("late %s: %v", target, err)
		}
		if got.Status != models.OrderCompleted {
			t.Errorf("late %s moved order to %s", target, got.Status)
		}
	}

	after, err := f.orders.History(f.ctx, order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("history grew from %d to %d entries", len(before), len(after))
	}

	cancelled := f.takeaway(t, item("m-cola", 1))
	if _, err := f.orders.CancelOrder(f.ctx, waiter, cancelled.ID, "guest left", 0); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	_, err = f.orders.AdvanceStatus(f.ctx, waiter, cancelled.ID, models.OrderServed, 0)
	assertKind(t, err, KindOrderClosed)
}

func TestAppendItemsKeepsReadyOrderAwaitingKitchen(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	order := f.takeaway(t, item("m-burger", 1))
	f.readyAll(t, order.ID)

	appended, err := f.orders.AppendItems(f.ctx, waiter, order.ID, []ItemInput{item("m-cola", 2)}, 0)
	if err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
	if appended.Status != models.OrderReady || !appended.AwaitingKitchen {
		t.Fatalf("after append: status=%s awaiting=%v", appended.Status, appended.AwaitingKitchen)
	}
	if len(appended.Tickets) != 1 || appended.Tickets[0].Station != "bar" {
		t.Fatalf("expected one new bar ticket, got %+v", appended.Tickets)
	}
	if appended.Items[1].Line != 2 {
		t.Errorf("appended line = %d, want 2", appended.Items[1].Line)
	}

	f.readyAll(t, order.ID)
	got := f.getOrder(t, order.ID)
	if got.Status != models.OrderReady || got.AwaitingKitchen {
		t.Errorf("after kitchen caught up: status=%s awaiting=%v", got.Status, got.AwaitingKitchen)
	}
	if len(got.Tickets) != 2 {
		t.Errorf("tickets = %d, want 2 (append must not merge tickets)", len(got.Tickets))
	}
}

func TestAppendItemsReopensReadyOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{ReopenReadyOnAppend: true})
	order := f.takeaway(t, item("m-burger", 1))
	f.readyAll(t, order.ID)

	appended, err := f.orders.AppendItems(f.ctx, waiter, order.ID, []ItemInput{item("m-salad", 1)}, 0)
	if err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
	if appended.Status != models.OrderPending || appended.ReadyAt != nil {
		t.Fatalf("after append: status=%s ready_at=%v", appended.Status, appended.ReadyAt)
	}

	f.readyAll(t, order.ID)
	if got := f.getOrder(t, order.ID); got.Status != models.OrderReady {
		t.Errorf("status = %s, want ready once new ticket completes", got.Status)
	}
}

func TestAppendItemsFreezesPrices(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	order := f.takeaway(t, item("m-burger", 1))

	burger := f.catalog.items["m-burger"]
	burger.Price = dec("120")
	f.catalog.items["m-burger"] = burger

	appended, err := f.orders.AppendItems(f.ctx, waiter, order.ID, []ItemInput{item("m-burger", 1)}, 0)
	if err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
	if p := appended.Items[0].UnitPrice.StringFixed(2); p != "100.00" {
		t.Errorf("first line price = %s, want frozen 100.00", p)
	}
	if p := appended.Items[1].UnitPrice.StringFixed(2); p != "120.00" {
		t.Errorf("appended line price = %s, want 120.00", p)
	}
	if appended.Total != "220.00" {
		t.Errorf("total = %s, want 220.00", appended.Total)
	}
}

func TestTransferOrder(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1, t2, t3 := f.table(t, 1), f.table(t, 2), f.table(t, 3)
	order := f.dineIn(t, t1.ID, item("m-burger", 1))
	other := f.dineIn(t, t3.ID, item("m-cola", 1))

	_, err := f.orders.TransferOrder(f.ctx, waiter, order.ID, t3.ID, 0)
	assertKind(t, err, KindTableUnavailable)
	if got := f.getTable(t, t1.ID); !got.BoundTo(order.ID) {
		t.Fatalf("failed transfer released the original table")
	}

	moved, err := f.orders.TransferOrder(f.ctx, waiter, order.ID, t2.ID, 0)
	if err != nil {
		t.Fatalf("TransferOrder: %v", err)
	}
	if *moved.TableID != t2.ID {
		t.Errorf("order table = %s, want %s", *moved.TableID, t2.ID)
	}
	if got := f.getTable(t, t1.ID); got.Status != models.TableAvailable {
		t.Errorf("old table status = %s", got.Status)
	}
	if got := f.getTable(t, t2.ID); !got.BoundTo(order.ID) {
		t.Errorf("new table not bound")
	}

	takeaway := f.takeaway(t, item("m-cola", 1))
	_, err = f.orders.TransferOrder(f.ctx, waiter, takeaway.ID, t1.ID, 0)
	assertKind(t, err, KindValidation)

	f.served(t, other.ID)
	_, err = f.orders.TransferOrder(f.ctx, waiter, other.ID, t1.ID, 0)
	assertKind(t, err, KindIllegalTransition)
	f.assertBindings(t)
}

func TestExpectedVersionGuardsAppend(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	order := f.takeaway(t, item("m-burger", 1))

	_, err := f.orders.AppendItems(f.ctx, waiter, order.ID, []ItemInput{item("m-cola", 1)}, order.Version+5)
	assertKind(t, err, KindConflict)

	appended, err := f.orders.AppendItems(f.ctx, waiter, order.ID, []ItemInput{item("m-cola", 1)}, order.Version)
	if err != nil {
		t.Fatalf("AppendItems with current version: %v", err)
	}
	if appended.Version != order.Version+1 {
		t.Errorf("version = %d, want %d", appended.Version, order.Version+1)
	}
}

func TestListOrdersFilters(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)
	f.dineIn(t, t1.ID, item("m-burger", 1))
	f.takeaway(t, item("m-cola", 1))
	done := f.takeaway(t, item("m-cola", 1))
	f.served(t, done.ID)

	tests := []struct {
		name   string
		filter store.OrderFilter
		want   int
	}{
		{"all", store.OrderFilter{}, 3},
		{"dine-in", store.OrderFilter{Kind: models.OrderDineIn}, 1},
		{"pending", store.OrderFilter{Statuses: []models.OrderStatus{models.OrderPending}}, 2},
		{"served", store.OrderFilter{Statuses: []models.OrderStatus{models.OrderServed}}, 1},
		{"by staff", store.OrderFilter{StaffID: waiter.ID}, 3},
		{"other staff", store.OrderFilter{StaffID: "waiter-2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, err := f.orders.ListOrders(f.ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListOrders: %v", err)
			}
			if len(orders) != tt.want {
				t.Errorf("got %d orders, want %d", len(orders), tt.want)
			}
		})
	}

	_, err := f.orders.ListOrders(f.ctx, store.OrderFilter{Statuses: []models.OrderStatus{"lost"}})
	assertKind(t, err, KindValidation)
}
