package models

import (
	"errors"
	"time"
)

// ErrIllegalTransition переход отсутствует в графе статусов
var ErrIllegalTransition = errors.New("illegal order status transition")

// Граф переходов заказа. Любой мутатор статуса идет через move().
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderReady, OrderServed, OrderCancelled},
	OrderReady:   {OrderServed, OrderCancelled},
	OrderServed:  {OrderCompleted, OrderCancelled},
}

// Откат ready -> pending выполняет только система при дозаказе (REOPEN_READY_ON_APPEND)
var reopenTransitions = map[OrderStatus][]OrderStatus{
	OrderReady: {OrderPending},
}

// CanTransition разрешен ли переход from -> to
func CanTransition(from, to OrderStatus) bool {
	return allowed(orderTransitions, from, to)
}

func allowed(graph map[OrderStatus][]OrderStatus, from, to OrderStatus) bool {
	for _, next := range graph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo переводит заказ в статус to и проставляет метку времени
func (o *Order) TransitionTo(to OrderStatus, at time.Time) error {
	return o.move(orderTransitions, to, at)
}

// Reopen возвращает ready заказ в pending до готовности новых тикетов
func (o *Order) Reopen(at time.Time) error {
	return o.move(reopenTransitions, OrderPending, at)
}

func (o *Order) move(graph map[OrderStatus][]OrderStatus, to OrderStatus, at time.Time) error {
	if !allowed(graph, o.Status, to) {
		return ErrIllegalTransition
	}
	ts := at
	switch to {
	case OrderPending:
		o.ReadyAt = nil
	case OrderReady:
		o.ReadyAt = &ts
		o.AwaitingKitchen = false
	case OrderServed:
		o.ServedAt = &ts
		if o.Status == OrderPending {
			o.SkippedReady = true
		}
	case OrderCompleted:
		o.CompletedAt = &ts
	case OrderCancelled:
		o.CancelledAt = &ts
	}
	o.Status = to
	return nil
}
