package events

import (
	"context"
	"log"
	"sync"
)

const subscriptionBuffer = 64

// Broker локальный pub/sub по топикам. На нем работают SSE /orders/:id/watch.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription подписка на один или несколько топиков
type Subscription struct {
	C <-chan Event

	ch     chan Event
	topics []string
	broker *Broker
	once   sync.Once
}

func (b *Broker) Subscribe(topics ...string) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch, topics: topics, broker: b}

	b.mu.Lock()
	for _, topic := range topics {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[*Subscription]struct{})
		}
		b.subs[topic][sub] = struct{}{}
	}
	b.mu.Unlock()
	return sub
}

// Close отписывает и закрывает канал. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		for _, topic := range s.topics {
			delete(b.subs[topic], s)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		}
		close(s.ch)
		b.mu.Unlock()
	})
}

// Publish не блокируется: медленный подписчик теряет событие
func (b *Broker) Publish(_ context.Context, events ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range events {
		delivered := make(map[*Subscription]bool)
		for _, topic := range e.Topics() {
			for sub := range b.subs[topic] {
				if delivered[sub] {
					continue
				}
				delivered[sub] = true
				select {
				case sub.ch <- e:
				default:
					log.Printf("⚠️ Broker: подписчик не успевает, событие %s потеряно", e.Type)
				}
			}
		}
	}
}

// Subscribers количество подписок на топик
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
