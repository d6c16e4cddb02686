package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type Intervals struct {
	Stats  time.Duration
	Stale  time.Duration
	Health time.Duration
	Memory time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Stats:  time.Minute,
		Stale:  5 * time.Minute,
		Health: 15 * time.Second,
		Memory: 30 * time.Second,
	}
}

// Scheduler обертка над gocron с контекстом задач
type Scheduler struct {
	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

// Start регистрирует задачи и запускает планировщик.
// locker может быть nil (один инстанс). Проба здоровья и память идут на каждом инстансе.
func Start(ctx context.Context, runner *Runner, every Intervals, locker gocron.Locker) (*Scheduler, error) {
	opts := []gocron.SchedulerOption{gocron.WithLocation(time.UTC)}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	sched := &Scheduler{scheduler: s, cancel: cancel}

	jobs := []struct {
		name  string
		every time.Duration
		local bool
		task  func()
	}{
		{"kitchen-stats", every.Stats, false, func() {
			if _, err := runner.SnapshotStats(jobCtx); err != nil {
				log.Printf("⚠️ [CRON] kitchen-stats: %v", err)
			}
		}},
		{"stale-orders", every.Stale, false, func() {
			n, err := runner.ReportStale(jobCtx)
			if err != nil {
				log.Printf("⚠️ [CRON] stale-orders: %v", err)
				return
			}
			if n > 0 {
				log.Printf("⏰ [CRON] зависших заказов: %d", n)
			}
		}},
		{"health-probe", every.Health, true, func() { runner.ProbeHealth(jobCtx) }},
		{"memory-stats", every.Memory, true, runner.LogMemoryStats},
	}

	for _, j := range jobs {
		if j.every <= 0 {
			continue
		}
		jobOpts := []gocron.JobOption{
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if j.local {
			jobOpts = append(jobOpts, gocron.WithDisabledDistributedJobLocker(true))
		}
		if _, err := s.NewJob(gocron.DurationJob(j.every), gocron.NewTask(j.task), jobOpts...); err != nil {
			cancel()
			_ = s.Shutdown()
			return nil, err
		}
	}

	// Первая проба сразу, чтобы health не ждал интервал
	runner.ProbeHealth(jobCtx)

	s.Start()
	log.Printf("✅ Планировщик запущен: статистика %v, зависшие заказы %v, health %v", every.Stats, every.Stale, every.Health)
	return sched, nil
}

// Jobs количество зарегистрированных задач
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

func (s *Scheduler) Stop() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
