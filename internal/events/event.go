// Package events доставляет изменения заказов, столов, тикетов и счетов подписчикам.
// События публикуются только после коммита транзакции; ошибка доставки
// логируется и не меняет результат команды.
package events

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	OrderCreated       Type = "order.created"
	OrderItemsAppended Type = "order.items_appended"
	OrderStatusChanged Type = "order.status_changed"
	OrderTransferred   Type = "order.transferred"
	OrderStale         Type = "order.stale"
	TableBound         Type = "table.bound"
	TableReleased      Type = "table.released"
	TableStatusChanged Type = "table.status_changed"
	TicketOpened       Type = "ticket.opened"
	TicketStarted      Type = "ticket.started"
	TicketItemReady    Type = "ticket.item_ready"
	TicketReady        Type = "ticket.ready"
	BillComputed       Type = "bill.computed"
	BillPaid           Type = "bill.paid"
	KitchenStats       Type = "kitchen.stats"
)

// Топики локального брокера и WebSocket досок
const (
	TopicKitchen = "kitchen"
	TopicFloor   = "floor"
)

type Event struct {
	ID          string                 `json:"id"`
	Type        Type                   `json:"type"`
	OrderID     string                 `json:"order_id,omitempty"`
	OrderNumber string                 `json:"order_number,omitempty"`
	TableID     string                 `json:"table_id,omitempty"`
	TicketID    string                 `json:"ticket_id,omitempty"`
	BillID      string                 `json:"bill_id,omitempty"`
	Station     string                 `json:"station,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Actor       string                 `json:"actor,omitempty"`
	Version     int64                  `json:"version,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	At          time.Time              `json:"at"`
}

func New(t Type, at time.Time) Event {
	return Event{ID: uuid.New().String(), Type: t, At: at.UTC()}
}

// Topics на какие топики брокера уходит событие
func (e Event) Topics() []string {
	var topics []string
	if e.OrderID != "" {
		topics = append(topics, OrderTopic(e.OrderID))
	}
	if e.TableID != "" {
		topics = append(topics, TableTopic(e.TableID))
	}
	if strings.HasPrefix(string(e.Type), "ticket.") || strings.HasPrefix(string(e.Type), "kitchen.") {
		topics = append(topics, TopicKitchen)
	} else {
		topics = append(topics, TopicFloor)
	}
	return topics
}

func OrderTopic(orderID string) string { return "order:" + orderID }
func TableTopic(tableID string) string { return "table:" + tableID }

// Publisher получатель событий после коммита
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Multi рассылает события во все публикаторы по очереди
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events ...Event) {
	if len(events) == 0 {
		return
	}
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, events...)
		}
	}
}

// Nop ничего не делает
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) {}

// Logger пишет события в лог (режим разработки)
type Logger struct{}

func (Logger) Publish(_ context.Context, events ...Event) {
	for _, e := range events {
		log.Printf("📡 %s order=%s table=%s ticket=%s status=%s", e.Type, e.OrderID, e.TableID, e.TicketID, e.Status)
	}
}
