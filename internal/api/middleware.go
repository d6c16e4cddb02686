package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tableside/server/internal/auth"
)

const actorKey = "actor"

// RequestLogger логирование всех запросов
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		log.Printf("🌐 %s %s - Status: %d - Latency: %v", method, path, status, latency)
	}
}

// CORS для планшетов и кассы
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequireActor проверяет bearer токен и кладет актора в контекст.
// Браузерный WebSocket не умеет заголовки, поэтому токен принимается и в ?token=.
func RequireActor(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			respondError(c, fmt.Errorf("%w: missing bearer token", auth.ErrInvalidToken))
			return
		}

		actor, err := tokens.Parse(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// actorFrom актор текущего запроса; пустой, если middleware не отработал
func actorFrom(c *gin.Context) auth.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(auth.Actor); ok {
			return actor
		}
	}
	return auth.Actor{}
}
