package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

// KitchenService кухонные тикеты (KOT): открытие по станциям, готовность позиций,
// fan-in готовности тикетов в статус заказа.
type KitchenService struct {
	store     store.Store
	publisher events.Publisher
	now       func() time.Time
}

func NewKitchenService(st store.Store, publisher events.Publisher) *KitchenService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &KitchenService{store: st, publisher: publisher, now: time.Now}
}

// OpenTickets группирует новые позиции по станциям и открывает по одному тикету
// на станцию. Существующие тикеты заказа не дополняются.
func (s *KitchenService) OpenTickets(ctx context.Context, repo store.Repository, order *models.Order, items []models.OrderItem, at time.Time) ([]models.KitchenTicket, error) {
	var stations []string
	byStation := make(map[string][]models.OrderItem)
	for _, item := range items {
		if _, ok := byStation[item.Station]; !ok {
			stations = append(stations, item.Station)
		}
		byStation[item.Station] = append(byStation[item.Station], item)
	}

	tickets := make([]models.KitchenTicket, 0, len(stations))
	for _, station := range stations {
		ticket := models.KitchenTicket{
			ID:          uuid.New().String(),
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Station:     station,
			Status:      models.TicketPending,
			OpenedAt:    at,
		}
		for _, item := range byStation[station] {
			ticket.Entries = append(ticket.Entries, models.TicketEntry{
				ID:          uuid.New().String(),
				TicketID:    ticket.ID,
				OrderItemID: item.ID,
				Line:        item.Line,
				Name:        item.Name,
				Quantity:    item.Quantity,
				Note:        item.Note,
				Status:      models.ItemPending,
			})
		}
		if err := repo.CreateTicket(ctx, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// StartTicket pending -> preparing. Повторный вызов ничего не меняет.
func (s *KitchenService) StartTicket(ctx context.Context, actor auth.Actor, ticketID string) (*models.KitchenTicket, error) {
	if err := authorize(actor, auth.CmdStartTicket); err != nil {
		return nil, err
	}

	var (
		ticket *models.KitchenTicket
		box    outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		var err error
		ticket, err = repo.GetTicket(ctx, ticketID)
		if err != nil {
			return lookupErr(err, KindUnknownTicket, "ticket", ticketID)
		}
		if err := s.ensureOrderOpen(ctx, repo, ticket.OrderID); err != nil {
			return err
		}
		now := s.now()
		if !ticket.Start(now) {
			return nil
		}
		if err := repo.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		box.add(ticketEvent(events.TicketStarted, ticket, actor.ID, now))
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	return ticket, nil
}

// ReadyResult итог отметки позиции: тикет и заказ после транзакции
type ReadyResult struct {
	Ticket       *models.KitchenTicket `json:"ticket"`
	Order        *models.Order         `json:"order"`
	TicketReady  bool                  `json:"ticket_ready"`
	OrderAdvance bool                  `json:"order_advanced"`
}

// MarkItemReady отмечает строку тикета готовой. Если тикет стал ready и все тикеты
// заказа ready, заказ pending переходит в ready в той же транзакции.
func (s *KitchenService) MarkItemReady(ctx context.Context, actor auth.Actor, ticketID, entryID string) (*ReadyResult, error) {
	if err := authorize(actor, auth.CmdMarkItemReady); err != nil {
		return nil, err
	}

	var (
		result ReadyResult
		box    outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		result = ReadyResult{}

		ticket, err := repo.GetTicket(ctx, ticketID)
		if err != nil {
			return lookupErr(err, KindUnknownTicket, "ticket", ticketID)
		}
		order, err := repo.GetOrder(ctx, ticket.OrderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", ticket.OrderID)
		}
		if order.Status == models.OrderCancelled {
			return newError(KindOrderClosed, "order %s is cancelled", order.Number)
		}
		result.Ticket, result.Order = ticket, order

		now := s.now()
		entry, changed, becameReady, err := ticket.MarkEntryReady(entryID, now)
		if errors.Is(err, models.ErrUnknownEntry) {
			return newError(KindUnknownTicketItem, "entry %s does not belong to ticket %s", entryID, ticketID)
		}
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := repo.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		if err := s.mirrorItem(ctx, repo, order, entry); err != nil {
			return err
		}

		itemReady := ticketEvent(events.TicketItemReady, ticket, actor.ID, now)
		itemReady.Payload = map[string]interface{}{"entry_id": entry.ID, "name": entry.Name}
		box.add(itemReady)
		if !becameReady {
			return nil
		}
		result.TicketReady = true
		box.add(ticketEvent(events.TicketReady, ticket, actor.ID, now))

		advanced, err := s.onTicketReady(ctx, repo, order, actor, now)
		if err != nil {
			return err
		}
		if advanced {
			result.OrderAdvance = true
			box.add(orderEvent(events.OrderStatusChanged, order, actor.ID, now))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	if result.OrderAdvance {
		log.Printf("✅ Заказ %s готов: все тикеты кухни закрыты", result.Order.Number)
	}
	return &result, nil
}

func (s *KitchenService) mirrorItem(ctx context.Context, repo store.Repository, order *models.Order, entry *models.TicketEntry) error {
	for i := range order.Items {
		item := &order.Items[i]
		if item.ID != entry.OrderItemID {
			continue
		}
		item.Status = models.ItemReady
		item.ReadyAt = entry.ReadyAt
		return repo.UpdateOrderItem(ctx, item)
	}
	return nil
}

// onTicketReady fan-in: заказ готов, только когда готов последний тикет.
// Заказ без тикетов считается готовым.
func (s *KitchenService) onTicketReady(ctx context.Context, repo store.Repository, order *models.Order, actor auth.Actor, at time.Time) (bool, error) {
	ready, err := s.allTicketsReady(ctx, repo, order.ID)
	if err != nil || !ready {
		return false, err
	}

	switch order.Status {
	case models.OrderPending:
		from := order.Status
		if err := order.TransitionTo(models.OrderReady, at); err != nil {
			return false, err
		}
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return false, err
		}
		return true, repo.AppendStatusLog(ctx, &models.OrderStatusLog{
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   models.OrderReady,
			ChangedBy:  actor.ID,
			Note:       "all kitchen tickets ready",
			ChangedAt:  at,
		})
	case models.OrderReady, models.OrderServed:
		if !order.AwaitingKitchen {
			return false, nil
		}
		order.AwaitingKitchen = false
		return false, repo.UpdateOrder(ctx, order)
	}
	return false, nil
}

func (s *KitchenService) allTicketsReady(ctx context.Context, repo store.Repository, orderID string) (bool, error) {
	tickets, err := repo.ListTickets(ctx, store.TicketFilter{OrderID: orderID})
	if err != nil {
		return false, err
	}
	for _, t := range tickets {
		if t.Status != models.TicketReady {
			return false, nil
		}
	}
	return true, nil
}

func (s *KitchenService) ensureOrderOpen(ctx context.Context, repo store.Repository, orderID string) error {
	order, err := repo.GetOrder(ctx, orderID)
	if err != nil {
		return lookupErr(err, KindUnknownOrder, "order", orderID)
	}
	if order.Status == models.OrderCancelled {
		return newError(KindOrderClosed, "order %s is cancelled", order.Number)
	}
	return nil
}

func (s *KitchenService) GetTicket(ctx context.Context, id string) (*models.KitchenTicket, error) {
	var ticket *models.KitchenTicket
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		ticket, err = repo.GetTicket(ctx, id)
		return err
	})
	if err != nil {
		return nil, lookupErr(err, KindUnknownTicket, "ticket", id)
	}
	return ticket, nil
}

func (s *KitchenService) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.KitchenTicket, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newError(KindValidation, "unknown ticket status %q", filter.Status)
	}
	var tickets []models.KitchenTicket
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		tickets, err = repo.ListTickets(ctx, filter)
		return err
	})
	return tickets, storeErr(err)
}

// StationStats агрегат по станции (или по всей кухне, Station = "")
type StationStats struct {
	Station        string                      `json:"station,omitempty"`
	Counts         map[models.TicketStatus]int `json:"counts"`
	Total          int                         `json:"total"`
	AvgPrepSeconds float64                     `json:"avg_prep_seconds"`
}

type KitchenStats struct {
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Overall  StationStats   `json:"overall"`
	Stations []StationStats `json:"stations"`
}

// Stats только чтение: количество тикетов по статусам и среднее время готовки.
// station = "" значит все станции; day нулевой значит сегодня.
func (s *KitchenService) Stats(ctx context.Context, station string, day time.Time) (*KitchenStats, error) {
	if day.IsZero() {
		day = s.now()
	}
	d := day.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	tickets, err := s.ListTickets(ctx, store.TicketFilter{Station: station, OpenedFrom: from, OpenedTo: to})
	if err != nil {
		return nil, err
	}

	type acc struct {
		stats StationStats
		prep  time.Duration
		done  int
	}
	newAcc := func(name string) *acc {
		return &acc{stats: StationStats{Station: name, Counts: map[models.TicketStatus]int{
			models.TicketPending: 0, models.TicketPreparing: 0, models.TicketReady: 0,
		}}}
	}
	overall := newAcc(station)
	perStation := make(map[string]*acc)
	for _, t := range tickets {
		a, ok := perStation[t.Station]
		if !ok {
			a = newAcc(t.Station)
			perStation[t.Station] = a
		}
		for _, x := range []*acc{overall, a} {
			x.stats.Counts[t.Status]++
			x.stats.Total++
			if d, ok := t.PrepDuration(); ok {
				x.prep += d
				x.done++
			}
		}
	}

	finish := func(a *acc) StationStats {
		if a.done > 0 {
			a.stats.AvgPrepSeconds = (a.prep / time.Duration(a.done)).Seconds()
		}
		return a.stats
	}
	result := &KitchenStats{From: from, To: to, Overall: finish(overall)}
	for _, a := range perStation {
		result.Stations = append(result.Stations, finish(a))
	}
	sort.Slice(result.Stations, func(i, j int) bool { return result.Stations[i].Station < result.Stations[j].Station })
	return result, nil
}
