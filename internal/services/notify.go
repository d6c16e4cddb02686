package services

import (
	"context"
	"time"

	"tableside/server/internal/events"
	"tableside/server/internal/models"
)

// outbox копит события транзакции. Сбрасывается в начале каждой попытки,
// публикуется только после коммита.
type outbox struct {
	events []events.Event
}

func (o *outbox) reset() { o.events = o.events[:0] }

func (o *outbox) add(e events.Event) { o.events = append(o.events, e) }

func (o *outbox) flush(ctx context.Context, pub events.Publisher) {
	if pub == nil || len(o.events) == 0 {
		return
	}
	pub.Publish(context.WithoutCancel(ctx), o.events...)
}

func orderEvent(t events.Type, order *models.Order, actor string, at time.Time) events.Event {
	e := events.New(t, at)
	e.OrderID = order.ID
	e.OrderNumber = order.Number
	if order.TableID != nil {
		e.TableID = *order.TableID
	}
	e.Status = string(order.Status)
	e.Actor = actor
	e.Version = order.Version
	return e
}

func tableEvent(t events.Type, table *models.Table, orderID, actor string, at time.Time) events.Event {
	e := events.New(t, at)
	e.TableID = table.ID
	e.OrderID = orderID
	e.Status = string(table.Status)
	e.Actor = actor
	e.Version = table.Version
	e.Payload = map[string]interface{}{"number": float64(table.Number), "floor": table.Floor}
	return e
}

func ticketEvent(t events.Type, ticket *models.KitchenTicket, actor string, at time.Time) events.Event {
	e := events.New(t, at)
	e.TicketID = ticket.ID
	e.OrderID = ticket.OrderID
	e.OrderNumber = ticket.OrderNumber
	e.Station = ticket.Station
	e.Status = string(ticket.Status)
	e.Actor = actor
	e.Version = ticket.Version
	return e
}

func ticketOpenedEvent(ticket *models.KitchenTicket, actor string, at time.Time) events.Event {
	e := ticketEvent(events.TicketOpened, ticket, actor, at)
	items := make([]interface{}, 0, len(ticket.Entries))
	for _, entry := range ticket.Entries {
		items = append(items, map[string]interface{}{
			"entry_id": entry.ID,
			"name":     entry.Name,
			"quantity": float64(entry.Quantity),
			"note":     entry.Note,
		})
	}
	e.Payload = map[string]interface{}{"items": items}
	return e
}

func billEvent(t events.Type, bill *models.Bill, order *models.Order, actor string, at time.Time) events.Event {
	e := events.New(t, at)
	e.BillID = bill.ID
	e.OrderID = bill.OrderID
	if order != nil {
		e.OrderNumber = order.Number
		if order.TableID != nil {
			e.TableID = *order.TableID
		}
	}
	e.Status = string(bill.Status)
	e.Actor = actor
	e.Version = bill.Version
	e.Payload = map[string]interface{}{"grand_total": bill.GrandTotal.StringFixed(2)}
	return e
}
