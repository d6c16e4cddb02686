package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Доски работают с планшетов в локальной сети зала
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS подключает планшет к хабу. Входящие сообщения читаются только
// ради ping/pong и обнаружения разрыва.
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("⚠️ Ошибка обновления WebSocket соединения: %v", err)
			return
		}

		hub.AddClient(conn)
		log.Printf("📱 [%s] планшет подключен. Всего подключений: %d", hub.name, hub.GetClientsCount())

		defer func() {
			hub.RemoveClient(conn)
			log.Printf("📱 [%s] планшет отключен. Осталось подключений: %d", hub.name, hub.GetClientsCount())
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("⚠️ WebSocket ошибка: %v", err)
				}
				break
			}
		}
	}
}
