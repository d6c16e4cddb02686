// Package jobs фоновые задачи зала: снимок статистики кухни, отчет о зависших
// заказах и проба БД для gRPC health. Задачи только читают состояние.
package jobs

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/services"
)

const (
	StatsKey = "kitchen:stats:today"
	statsTTL = 5 * time.Minute
)

// StatsCache куда кладется снимок статистики (utils.RedisClient)
type StatsCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// HealthReporter принимает результат пробы (api.HealthServer)
type HealthReporter interface {
	SetServing(ok bool)
}

type Runner struct {
	kitchen    *services.KitchenService
	orders     *services.OrderService
	publisher  events.Publisher
	cache      StatsCache
	ping       func(ctx context.Context) error
	health     HealthReporter
	staleAfter time.Duration
	now        func() time.Time
}

type RunnerDeps struct {
	Kitchen    *services.KitchenService
	Orders     *services.OrderService
	Publisher  events.Publisher
	Cache      StatsCache
	Ping       func(ctx context.Context) error
	Health     HealthReporter
	StaleAfter time.Duration
}

func NewRunner(d RunnerDeps) *Runner {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = 45 * time.Minute
	}
	return &Runner{
		kitchen:    d.Kitchen,
		orders:     d.Orders,
		publisher:  d.Publisher,
		cache:      d.Cache,
		ping:       d.Ping,
		health:     d.Health,
		staleAfter: d.StaleAfter,
		now:        time.Now,
	}
}

// SnapshotStats считает статистику кухни за сегодня, кладет в кэш и шлет на доску
func (r *Runner) SnapshotStats(ctx context.Context) (*services.KitchenStats, error) {
	stats, err := r.kitchen.Stats(ctx, "", r.now())
	if err != nil {
		return nil, fmt.Errorf("kitchen stats: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, StatsKey, stats, statsTTL); err != nil {
			log.Printf("⚠️ Не удалось сохранить статистику кухни в Redis: %v", err)
		}
	}

	e := events.New(events.KitchenStats, r.now())
	e.Actor = auth.System.ID
	e.Payload = map[string]interface{}{
		"total":            stats.Overall.Total,
		"avg_prep_seconds": stats.Overall.AvgPrepSeconds,
		"pending":          stats.Overall.Counts[models.TicketPending],
		"preparing":        stats.Overall.Counts[models.TicketPreparing],
		"ready":            stats.Overall.Counts[models.TicketReady],
	}
	r.publisher.Publish(ctx, e)
	return stats, nil
}

// ReportStale логирует открытые заказы старше staleAfter и шлет order.stale.
// Статус заказов не меняется.
func (r *Runner) ReportStale(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.orders.StaleOrders(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("stale orders: %w", err)
	}

	evs := make([]events.Event, 0, len(stale))
	for i := range stale {
		order := &stale[i]
		age := now.Sub(order.CreatedAt).Round(time.Minute)
		log.Printf("⏰ Заказ %s (%s) висит в статусе %s уже %v", order.Number, order.ID, order.Status, age)

		e := events.New(events.OrderStale, now)
		e.OrderID = order.ID
		e.OrderNumber = order.Number
		e.Status = string(order.Status)
		e.Actor = auth.System.ID
		e.Version = order.Version
		if order.TableID != nil {
			e.TableID = *order.TableID
		}
		e.Payload = map[string]interface{}{"age_minutes": int(age.Minutes())}
		evs = append(evs, e)
	}
	r.publisher.Publish(ctx, evs...)
	return len(stale), nil
}

// ProbeHealth пингует хранилище и выставляет статус gRPC health
func (r *Runner) ProbeHealth(ctx context.Context) bool {
	ok := true
	if r.ping != nil {
		if err := r.ping(ctx); err != nil {
			log.Printf("❌ Хранилище недоступно: %v", err)
			ok = false
		}
	}
	if r.health != nil {
		r.health.SetServing(ok)
	}
	return ok
}

// LogMemoryStats логирует текущую статистику использования памяти
func (r *Runner) LogMemoryStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Конвертируем байты в мегабайты
	heapAllocMB := float64(m.HeapAlloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024
	numGoroutines := runtime.NumGoroutine()

	log.Printf("💾 Memory Stats: HeapAlloc=%.2f MB, Sys=%.2f MB, GC=%d, Goroutines=%d",
		heapAllocMB, sysMB, m.NumGC, numGoroutines)

	// SSE и WebSocket держат по горутине на клиента, поэтому порог выше обычного
	if numGoroutines > 500 {
		log.Printf("⚠️ WARNING: High number of goroutines detected: %d (possible goroutine leak)", numGoroutines)
	}
}
