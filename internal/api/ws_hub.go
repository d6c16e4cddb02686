package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tableside/server/internal/events"
)

const writeWait = 10 * time.Second

// Hub рассылает события по WebSocket: кухонная доска получает тикеты,
// доска зала получает заказы, столы и счета.
type Hub struct {
	name      string
	accept    func(events.Event) bool
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.RWMutex
}

func NewHub(name string, accept func(events.Event) bool) *Hub {
	return &Hub{
		name:      name,
		accept:    accept,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256), // Буферизованный канал для производительности
	}
}

// NewKitchenHub хаб для планшетов поваров
func NewKitchenHub() *Hub {
	return NewHub(events.TopicKitchen, func(e events.Event) bool {
		return containsTopic(e.Topics(), events.TopicKitchen)
	})
}

// NewFloorHub хаб для официантов и кассы
func NewFloorHub() *Hub {
	return NewHub(events.TopicFloor, func(e events.Event) bool {
		return containsTopic(e.Topics(), events.TopicFloor)
	})
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Run пишет сообщения клиентам до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.mutex.RLock()
			var failed []*websocket.Conn
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					failed = append(failed, client)
				}
			}
			h.mutex.RUnlock()
			// Удаляем клиентов с ошибкой записи
			for _, client := range failed {
				h.RemoveClient(client)
			}
		}
	}
}

// Publish реализует events.Publisher
func (h *Hub) Publish(_ context.Context, evs ...events.Event) {
	for _, e := range evs {
		if h.accept != nil && !h.accept(e) {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			log.Printf("⚠️ [%s hub] не удалось сериализовать %s: %v", h.name, e.Type, err)
			continue
		}
		h.BroadcastMessage(data)
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mutex.Unlock()
}

// BroadcastMessage не блокирует: при переполненном канале сообщение пропускается
func (h *Hub) BroadcastMessage(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Printf("⚠️ [%s hub] буфер переполнен, сообщение пропущено", h.name)
	}
}

func (h *Hub) GetClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
