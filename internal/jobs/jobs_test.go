package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/services"
	"tableside/server/internal/store"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]interface{})}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value
	return true, nil
}

func (f *fakeRedis) CompareAndDelete(_ context.Context, key, expected string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[key]; ok && v == expected {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeRedis) get(key string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

type fakeHealth struct {
	serving []bool
}

func (h *fakeHealth) SetServing(ok bool) { h.serving = append(h.serving, ok) }

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	redis := newFakeRedis()
	locker := NewRedisLocker(redis, time.Minute)

	first, err := locker.Lock(ctx, "kitchen-stats")
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := locker.Lock(ctx, "kitchen-stats"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second lock err = %v, want ErrLockHeld", err)
	}
	if _, err := locker.Lock(ctx, "stale-orders"); err != nil {
		t.Fatalf("other job lock: %v", err)
	}

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.Lock(ctx, "kitchen-stats"); err != nil {
		t.Errorf("lock after unlock: %v", err)
	}
}

func TestRedisLockerUnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	redis := newFakeRedis()
	locker := NewRedisLocker(redis, time.Minute)

	lock, err := locker.Lock(ctx, "job")
	if err != nil {
		t.Fatal(err)
	}
	// Ключ истек и его взял другой инстанс
	redis.values["jobs:lock:job"] = "someone-else"

	if err := lock.Unlock(ctx); err != nil {
		t.Fatal(err)
	}
	if v, ok := redis.get("jobs:lock:job"); !ok || v != "someone-else" {
		t.Errorf("foreign lock was removed: %v %v", v, ok)
	}
}

type jobsFixture struct {
	runner  *Runner
	orders  *services.OrderService
	rec     *events.Recorder
	redis   *fakeRedis
	health  *fakeHealth
	pingErr error
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	st := store.NewMemory()
	catalog := services.NewStaticCatalog(
		models.MenuItem{ID: "m-soup", Name: "Soup", Price: decimal.NewFromInt(5), Station: "hot", IsActive: true},
	)
	tables := services.NewTableService(st, nil)
	kitchen := services.NewKitchenService(st, nil)
	orders := services.NewOrderService(st, tables, kitchen, catalog, nil, services.OrderOptions{})

	f := &jobsFixture{orders: orders, rec: &events.Recorder{}, redis: newFakeRedis(), health: &fakeHealth{}}
	f.runner = NewRunner(RunnerDeps{
		Kitchen:    kitchen,
		Orders:     orders,
		Publisher:  f.rec,
		Cache:      f.redis,
		Ping:       func(context.Context) error { return f.pingErr },
		Health:     f.health,
		StaleAfter: 30 * time.Minute,
	})
	return f
}

func (f *jobsFixture) takeaway(t *testing.T) *services.OrderDetails {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), auth.Actor{ID: "w-1", Role: auth.RoleWaiter}, services.CreateOrderInput{
		Kind:  models.OrderTakeaway,
		Items: []services.ItemInput{{MenuItemID: "m-soup", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestSnapshotStats(t *testing.T) {
	f := newJobsFixture(t)
	f.takeaway(t)
	f.takeaway(t)

	stats, err := f.runner.SnapshotStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Overall.Total != 2 || stats.Overall.Counts[models.TicketPending] != 2 {
		t.Errorf("overall = %+v", stats.Overall)
	}
	if _, ok := f.redis.get(StatsKey); !ok {
		t.Error("snapshot not cached")
	}
	if types := f.rec.Types(); len(types) != 1 || types[0] != events.KitchenStats {
		t.Errorf("events = %v", types)
	}
}

func TestReportStale(t *testing.T) {
	f := newJobsFixture(t)
	order := f.takeaway(t)

	n, err := f.runner.ReportStale(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("fresh order reported: n=%d err=%v", n, err)
	}

	f.runner.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = f.runner.ReportStale(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("stale report n=%d err=%v", n, err)
	}

	evs := f.rec.Events()
	if len(evs) != 1 || evs[0].Type != events.OrderStale || evs[0].OrderID != order.ID {
		t.Fatalf("events = %+v", evs)
	}

	// Отчет не меняет заказ
	got, err := f.orders.GetOrder(context.Background(), order.ID)
	if err != nil || got.Status != models.OrderPending || got.Version != order.Version {
		t.Errorf("order changed by report: %+v %v", got, err)
	}
}

func TestProbeHealth(t *testing.T) {
	f := newJobsFixture(t)

	if !f.runner.ProbeHealth(context.Background()) {
		t.Error("probe should pass")
	}
	f.pingErr = errors.New("connection refused")
	if f.runner.ProbeHealth(context.Background()) {
		t.Error("probe should fail")
	}
	if len(f.health.serving) != 2 || !f.health.serving[0] || f.health.serving[1] {
		t.Errorf("serving history = %v", f.health.serving)
	}
}

func TestStartRegistersJobs(t *testing.T) {
	f := newJobsFixture(t)

	every := DefaultIntervals()
	every.Memory = 0
	s, err := Start(context.Background(), f.runner, every, NewRedisLocker(f.redis, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	if s.Jobs() != 3 {
		t.Errorf("jobs = %d, want 3", s.Jobs())
	}
	if len(f.health.serving) == 0 || !f.health.serving[0] {
		t.Error("initial health probe did not run")
	}
}
