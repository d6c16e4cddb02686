package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	amqp "github.com/rabbitmq/amqp091-go"
)

// KitchenExchange topic exchange, в который уходят новые тикеты для принтеров и экранов станций
const KitchenExchange = "kitchen_topic"

// StationRoutingKey kitchen.<slug станции>, например "Гриль Бар" -> kitchen.gril-bar
func StationRoutingKey(station string) string {
	return "kitchen." + slug.Make(station)
}

const (
	dispatchQueueSize = 256
	confirmTimeout    = 5 * time.Second
)

// ticketChannel часть *amqp.Channel, которой пользуется диспетчер
type ticketChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// TicketDispatcher отправляет открытые тикеты в RabbitMQ с подтверждением брокера.
// Publish только ставит событие в очередь, отправку и ожидание confirm делает воркер.
type TicketDispatcher struct {
	conn    *amqp.Connection
	ch      ticketChannel
	queue   chan Event
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	timeout time.Duration
}

func DialTicketDispatcher(url string) (*TicketDispatcher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	if strings.HasPrefix(url, "amqps://") {
		conn, err = amqp.DialTLS(url, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = amqp.Dial(url)
	}
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(KitchenExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	log.Printf("✅ RabbitMQ: exchange %s готов", KitchenExchange)
	d := newTicketDispatcher(ch, dispatchQueueSize, confirmTimeout)
	d.conn = conn
	return d, nil
}

func newTicketDispatcher(ch ticketChannel, queueSize int, timeout time.Duration) *TicketDispatcher {
	d := &TicketDispatcher{
		ch:      ch,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish ставит ticket.opened в очередь и не ждет брокера. Полная очередь: событие теряется.
func (d *TicketDispatcher) Publish(_ context.Context, events ...Event) {
	for _, e := range events {
		if e.Type != TicketOpened {
			continue
		}
		select {
		case <-d.done:
			return
		default:
		}
		select {
		case d.queue <- e:
		default:
			log.Printf("⚠️ RabbitMQ: очередь отправки заполнена, тикет %s (%s) пропущен", e.TicketID, e.Station)
		}
	}
}

func (d *TicketDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case e := <-d.queue:
			if err := d.dispatch(e); err != nil {
				log.Printf("⚠️ RabbitMQ: тикет %s (%s) не отправлен: %v", e.TicketID, e.Station, err)
			}
		}
	}
}

func (d *TicketDispatcher) dispatch(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if d.conn != nil && d.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	confirm, err := d.ch.PublishWithDeferredConfirmWithContext(ctx, KitchenExchange, StationRoutingKey(e.Station), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    e.ID,
		Timestamp:    e.At,
		Headers:      amqp.Table{"order_number": e.OrderNumber},
		Body:         body,
	})
	if err != nil {
		return err
	}
	// nil: канал не в confirm-режиме
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm timeout: %w", err)
	}
	if !acked {
		return errors.New("publish NACK from broker")
	}
	return nil
}

// Close останавливает воркер и закрывает канал и соединение. Неотправленные тикеты теряются.
func (d *TicketDispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		d.cancel()
		d.wg.Wait()
		if d.ch != nil {
			_ = d.ch.Close()
		}
		if d.conn != nil {
			_ = d.conn.Close()
		}
	})
}
