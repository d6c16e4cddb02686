package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

type OrderOptions struct {
	// ReopenReadyOnAppend: дозаказ к ready заказу возвращает его в pending.
	// Иначе заказ остается ready с флагом AwaitingKitchen.
	ReopenReadyOnAppend bool
}

// OrderService учет заказов: создание, дозаказ, статусы, отмена, пересадка
type OrderService struct {
	store     store.Store
	tables    *TableService
	kitchen   *KitchenService
	catalog   Catalog
	publisher events.Publisher
	opts      OrderOptions
	now       func() time.Time
}

func NewOrderService(st store.Store, tables *TableService, kitchen *KitchenService, catalog Catalog, publisher events.Publisher, opts OrderOptions) *OrderService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &OrderService{
		store:     st,
		tables:    tables,
		kitchen:   kitchen,
		catalog:   catalog,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

type ItemInput struct {
	MenuItemID string `json:"menu_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"min=1,max=999"`
	Note       string `json:"note" validate:"max=500"`
}

type CreateOrderInput struct {
	Kind          models.OrderKind `json:"kind" validate:"required,oneof=dine_in takeaway"`
	TableID       string           `json:"table_id"`
	CustomerName  string           `json:"customer_name" validate:"max=255"`
	CustomerPhone string           `json:"customer_phone" validate:"max=20"`
	Items         []ItemInput      `json:"items" validate:"dive"`
}

// OrderDetails заказ вместе с тикетами и счетом (если есть)
type OrderDetails struct {
	*models.Order
	Total   string                 `json:"total"`
	Tickets []models.KitchenTicket `json:"tickets"`
	Bill    *models.Bill           `json:"bill,omitempty"`
}

// resolveItems замораживает цену, название и станцию на момент добавления
func (s *OrderService) resolveItems(ctx context.Context, inputs []ItemInput) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		menuItem, err := s.catalog.Lookup(ctx, in.MenuItemID)
		if err != nil {
			return nil, err
		}
		items = append(items, models.OrderItem{
			ID:         uuid.New().String(),
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			Quantity:   in.Quantity,
			UnitPrice:  menuItem.Price.Round(2),
			Station:    menuItem.Station,
			Note:       strings.TrimSpace(in.Note),
			Status:     models.ItemPending,
		})
	}
	return items, nil
}

func (s *OrderService) CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*OrderDetails, error) {
	if err := authorize(actor, auth.CmdCreateOrder); err != nil {
		return nil, err
	}
	if len(input.Items) == 0 {
		return nil, newError(KindEmptyOrder, "order must contain at least one item")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if (input.TableID != "") != (input.Kind == models.OrderDineIn) {
		return nil, &Error{Kind: KindValidation, Message: models.ErrKindTableMismatch.Error(), Err: models.ErrKindTableMismatch}
	}

	resolved, err := s.resolveItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		tickets []models.KitchenTicket
		box     outbox
	)
	err = s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		now := s.now()

		seq, err := repo.NextOrderSequence(ctx, now)
		if err != nil {
			return err
		}
		order = &models.Order{
			ID:            uuid.New().String(),
			Number:        store.OrderNumber(now, seq),
			Kind:          input.Kind,
			CustomerName:  strings.TrimSpace(input.CustomerName),
			CustomerPhone: strings.TrimSpace(input.CustomerPhone),
			StaffID:       actor.ID,
			Status:        models.OrderPending,
			CreatedAt:     now,
		}
		if input.TableID != "" {
			tableID := input.TableID
			order.TableID = &tableID
		}
		// Копия: повторная попытка транзакции начинается с чистых позиций
		order.Items = make([]models.OrderItem, len(resolved))
		copy(order.Items, resolved)
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
			order.Items[i].Line = i + 1
		}
		if err := order.CheckKind(); err != nil {
			return err
		}

		if order.Kind == models.OrderDineIn {
			table, _, err := s.tables.Bind(ctx, repo, *order.TableID, order.ID, actor.ID, now)
			if err != nil {
				return err
			}
			box.add(tableEvent(events.TableBound, table, order.ID, actor.ID, now))
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		tickets, err = s.kitchen.OpenTickets(ctx, repo, order, order.Items, now)
		if err != nil {
			return err
		}
		if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
			OrderID:   order.ID,
			ToStatus:  models.OrderPending,
			ChangedBy: actor.ID,
			Note:      "order created",
			ChangedAt: now,
		}); err != nil {
			return err
		}

		box.add(orderEvent(events.OrderCreated, order, actor.ID, now))
		for i := range tickets {
			box.add(ticketOpenedEvent(&tickets[i], actor.ID, now))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	log.Printf("✅ Заказ %s создан (%s, позиций: %d, тикетов: %d)", order.Number, order.Kind, len(order.Items), len(tickets))
	return &OrderDetails{Order: order, Total: order.Total().StringFixed(2), Tickets: tickets}, nil
}

// AppendItems дозаказ в pending/ready/served заказ. Новые позиции уходят новыми тикетами.
func (s *OrderService) AppendItems(ctx context.Context, actor auth.Actor, orderID string, inputs []ItemInput, expectedVersion int64) (*OrderDetails, error) {
	if err := authorize(actor, auth.CmdAppendItems); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, newError(KindEmptyOrder, "no items to append")
	}
	for _, in := range inputs {
		if err := validateInput(in); err != nil {
			return nil, err
		}
	}
	resolved, err := s.resolveItems(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		tickets []models.KitchenTicket
		box     outbox
	)
	err = s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		now := s.now()

		var err error
		order, err = repo.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", orderID)
		}
		if err := checkVersion(expectedVersion, order.Version, "order"); err != nil {
			return err
		}
		if !order.AcceptsItems() {
			return newError(KindOrderClosed, "order %s is %s", order.Number, order.Status)
		}

		added := make([]models.OrderItem, len(resolved))
		copy(added, resolved)
		line := order.NextLine()
		for i := range added {
			added[i].ID = uuid.New().String()
			added[i].OrderID = order.ID
			added[i].Line = line + i
		}
		if err := repo.AddOrderItems(ctx, added); err != nil {
			return err
		}
		order.Items = append(order.Items, added...)

		tickets, err = s.kitchen.OpenTickets(ctx, repo, order, added, now)
		if err != nil {
			return err
		}

		statusChanged := false
		switch order.Status {
		case models.OrderReady:
			if s.opts.ReopenReadyOnAppend {
				if err := order.Reopen(now); err != nil {
					return err
				}
				statusChanged = true
				if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
					OrderID:    order.ID,
					FromStatus: models.OrderReady,
					ToStatus:   models.OrderPending,
					ChangedBy:  actor.ID,
					Note:       "reopened: items appended",
					ChangedAt:  now,
				}); err != nil {
					return err
				}
			} else {
				order.AwaitingKitchen = true
			}
		case models.OrderServed:
			order.AwaitingKitchen = true
		}
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return err
		}

		appended := orderEvent(events.OrderItemsAppended, order, actor.ID, now)
		appended.Payload = map[string]interface{}{"items": float64(len(added))}
		box.add(appended)
		if statusChanged {
			box.add(orderEvent(events.OrderStatusChanged, order, actor.ID, now))
		}
		for i := range tickets {
			box.add(ticketOpenedEvent(&tickets[i], actor.ID, now))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	log.Printf("✅ Дозаказ в %s: +%d позиций (статус %s, ждет кухню: %v)", order.Number, len(resolved), order.Status, order.AwaitingKitchen)
	return &OrderDetails{Order: order, Total: order.Total().StringFixed(2), Tickets: tickets}, nil
}

// AdvanceStatus переводит заказ по графу статусов. Повтор уже достигнутого или пройденного
// статуса (запоздавший served после оплаты) не ошибка и ничего не меняет.
// На served/completed стол dine_in заказа освобождается в той же транзакции.
func (s *OrderService) AdvanceStatus(ctx context.Context, actor auth.Actor, orderID string, target models.OrderStatus, expectedVersion int64) (*models.Order, error) {
	cmd := auth.CmdAdvanceOrder
	if target == models.OrderCompleted {
		cmd = auth.CmdCloseOrder
	}
	if err := authorize(actor, cmd); err != nil {
		return nil, err
	}
	switch {
	case !target.Valid():
		return nil, newError(KindValidation, "unknown order status %q", target)
	case target == models.OrderCancelled:
		return nil, newError(KindValidation, "use cancel to cancel an order")
	}

	var (
		order *models.Order
		box   outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		now := s.now()

		var err error
		order, err = repo.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", orderID)
		}
		if order.Status == target || order.Status.HasPassed(target) {
			return nil
		}
		if err := checkVersion(expectedVersion, order.Version, "order"); err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return newError(KindOrderClosed, "order %s is %s", order.Number, order.Status)
		}
		if target == models.OrderReady {
			ready, err := s.kitchen.allTicketsReady(ctx, repo, order.ID)
			if err != nil {
				return err
			}
			if !ready {
				return newError(KindIllegalTransition, "order %s still has kitchen tickets in progress", order.Number)
			}
		}

		from := order.Status
		if err := order.TransitionTo(target, now); err != nil {
			return newError(KindIllegalTransition, "%s -> %s is not allowed", from, target)
		}
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		entry := &models.OrderStatusLog{
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   target,
			ChangedBy:  actor.ID,
			ChangedAt:  now,
		}
		if from == models.OrderPending && target == models.OrderServed {
			entry.SkippedReady = true
			entry.Note = "served before kitchen reported ready"
			log.Printf("⚠️ Заказ %s подан в обход статуса ready (%s)", order.Number, actor.ID)
		}
		if err := repo.AppendStatusLog(ctx, entry); err != nil {
			return err
		}
		box.add(orderEvent(events.OrderStatusChanged, order, actor.ID, now))

		if (target == models.OrderServed || target == models.OrderCompleted) && order.Kind == models.OrderDineIn && order.TableID != nil {
			table, released, err := s.tables.ReleaseFor(ctx, repo, *order.TableID, order.ID)
			if err != nil {
				return err
			}
			if released {
				box.add(tableEvent(events.TableReleased, table, order.ID, actor.ID, now))
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	return order, nil
}

// CancelOrder отмена из любого нефинального статуса. Финальна: дальнейшие
// действия кухни и кассы по заказу получают OrderClosed.
func (s *OrderService) CancelOrder(ctx context.Context, actor auth.Actor, orderID, reason string, expectedVersion int64) (*models.Order, error) {
	if err := authorize(actor, auth.CmdCancelOrder); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(KindValidation, "cancel reason is required")
	}

	var (
		order *models.Order
		box   outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		now := s.now()

		var err error
		order, err = repo.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", orderID)
		}
		switch order.Status {
		case models.OrderCancelled:
			return nil
		case models.OrderCompleted:
			return newError(KindOrderClosed, "order %s is completed", order.Number)
		}
		if err := checkVersion(expectedVersion, order.Version, "order"); err != nil {
			return err
		}

		from := order.Status
		if err := order.TransitionTo(models.OrderCancelled, now); err != nil {
			return newError(KindIllegalTransition, "%s -> cancelled is not allowed", from)
		}
		order.CancelReason = reason
		order.AwaitingKitchen = false
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   models.OrderCancelled,
			ChangedBy:  actor.ID,
			Note:       reason,
			ChangedAt:  now,
		}); err != nil {
			return err
		}
		box.add(orderEvent(events.OrderStatusChanged, order, actor.ID, now))

		if order.TableID != nil {
			table, released, err := s.tables.ReleaseFor(ctx, repo, *order.TableID, order.ID)
			if err != nil {
				return err
			}
			if released {
				box.add(tableEvent(events.TableReleased, table, order.ID, actor.ID, now))
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	log.Printf("🛑 Заказ %s отменен: %s", order.Number, reason)
	return order, nil
}

// TransferOrder пересаживает открытый dine_in заказ на другой свободный стол
func (s *OrderService) TransferOrder(ctx context.Context, actor auth.Actor, orderID, tableID string, expectedVersion int64) (*models.Order, error) {
	if err := authorize(actor, auth.CmdTransferOrder); err != nil {
		return nil, err
	}
	if tableID == "" {
		return nil, newError(KindValidation, "table_id is required")
	}

	var (
		order *models.Order
		box   outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		now := s.now()

		var err error
		order, err = repo.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", orderID)
		}
		if err := checkVersion(expectedVersion, order.Version, "order"); err != nil {
			return err
		}
		if order.Kind != models.OrderDineIn || order.TableID == nil {
			return newError(KindValidation, "only dine-in orders can change tables")
		}
		switch order.Status {
		case models.OrderPending, models.OrderReady:
		case models.OrderServed:
			return newError(KindIllegalTransition, "order %s is already served", order.Number)
		default:
			return newError(KindOrderClosed, "order %s is %s", order.Number, order.Status)
		}
		oldTableID := *order.TableID
		if oldTableID == tableID {
			return nil
		}

		released, _, err := s.tables.ReleaseFor(ctx, repo, oldTableID, order.ID)
		if err != nil {
			return err
		}
		bound, _, err := s.tables.Bind(ctx, repo, tableID, order.ID, order.StaffID, now)
		if err != nil {
			return err
		}
		order.TableID = &tableID
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			ChangedBy:  actor.ID,
			Note:       "transferred from table " + oldTableID + " to " + tableID,
			ChangedAt:  now,
		}); err != nil {
			return err
		}

		moved := orderEvent(events.OrderTransferred, order, actor.ID, now)
		moved.Payload = map[string]interface{}{"from_table_id": oldTableID}
		box.add(moved)
		box.add(tableEvent(events.TableReleased, released, order.ID, actor.ID, now))
		box.add(tableEvent(events.TableBound, bound, order.ID, actor.ID, now))
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*OrderDetails, error) {
	var details *OrderDetails
	err := s.store.View(ctx, func(repo store.Repository) error {
		order, err := repo.GetOrder(ctx, id)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", id)
		}
		tickets, err := repo.ListTickets(ctx, store.TicketFilter{OrderID: id})
		if err != nil {
			return err
		}
		details = &OrderDetails{Order: order, Total: order.Total().StringFixed(2), Tickets: tickets}
		bill, err := repo.GetBillByOrder(ctx, id)
		switch {
		case err == nil:
			details.Bill = bill
		case isNotFound(err):
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return details, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, newError(KindValidation, "unknown order status %q", st)
		}
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, newError(KindValidation, "unknown order kind %q", filter.Kind)
	}
	var orders []models.Order
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		orders, err = repo.ListOrders(ctx, filter)
		return err
	})
	return orders, storeErr(err)
}

// History журнал переходов статуса заказа
func (s *OrderService) History(ctx context.Context, orderID string) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := s.store.View(ctx, func(repo store.Repository) error {
		if _, err := repo.GetOrder(ctx, orderID); err != nil {
			return lookupErr(err, KindUnknownOrder, "order", orderID)
		}
		var err error
		logs, err = repo.ListStatusLog(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return logs, nil
}

// StaleOrders открытые заказы, созданные раньше before. Только отчет, статус не меняется.
func (s *OrderService) StaleOrders(ctx context.Context, before time.Time) ([]models.Order, error) {
	return s.ListOrders(ctx, store.OrderFilter{
		Statuses:      []models.OrderStatus{models.OrderPending, models.OrderReady},
		CreatedBefore: before,
	})
}
