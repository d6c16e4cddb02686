package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tableside/server/internal/api"
	"tableside/server/internal/auth"
	"tableside/server/internal/config"
	"tableside/server/internal/database"
	"tableside/server/internal/events"
	"tableside/server/internal/jobs"
	"tableside/server/internal/models"
	"tableside/server/internal/services"
	"tableside/server/internal/store"
	"tableside/server/internal/utils"
)

func main() {
	// Загружаем переменные окружения из .env файла (если существует)
	// Игнорируем ошибку, если файл не найден (для production окружений)
	if err := godotenv.Load(); err != nil {
		log.Printf("ℹ️ .env файл не найден, используем переменные окружения системы")
	} else {
		log.Printf("✅ Переменные окружения загружены из .env файла")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis необязателен: без него нет межинстансной рассылки, кэша статистики и блокировок задач
	var redisUtil *utils.RedisClient
	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName)
	if err != nil {
		log.Printf("⚠️ Redis недоступен, работаем без него: %v", err)
	} else {
		redisUtil = utils.NewRedisClient(redisClient)
		defer database.CloseRedis(redisClient)
	}

	var (
		st      store.Store
		catalog services.Catalog
	)
	switch cfg.StoreDriver {
	case "memory":
		log.Printf("⚠️ STORE_DRIVER=memory: данные живут только до перезапуска")
		st = store.NewMemory()
		catalog = loadStaticCatalog(cfg.MenuSeedFile)
	default:
		log.Printf("📋 DATABASE_URL установлен: %s", safeURL(cfg.DatabaseURL))
		db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, database.DefaultPool)
		if err != nil {
			log.Fatalf("❌ Не удалось подключиться к PostgreSQL: %v (для запуска без БД: STORE_DRIVER=memory)", err)
		}
		defer database.ClosePostgres(db)

		if err := models.AutoMigrate(db); err != nil {
			log.Fatalf("❌ Миграция не удалась: %v", err)
		}
		st = store.NewGorm(db, cfg.TxMaxRetries)

		menu := services.NewMenuService(db, redisUtil)
		if err := menu.LoadMenu(ctx); err != nil {
			log.Printf("⚠️ Меню не загружено, будет дочитываться по запросу: %v", err)
		}
		menu.StartAutoReload(ctx)
		defer menu.Stop()
		catalog = menu
	}

	// События: локальные получатели (SSE брокер и доски) + внешние каналы
	broker := events.NewBroker()
	kitchenHub := api.NewKitchenHub()
	floorHub := api.NewFloorHub()
	go kitchenHub.Run(ctx)
	go floorHub.Run(ctx)

	local := events.Multi{broker, kitchenHub, floorHub}
	publishers := events.Multi{local}
	if cfg.Environment != "production" {
		publishers = append(publishers, events.Logger{})
	}
	if redisUtil != nil {
		bridge := events.NewRedisBridge(redisUtil)
		go bridge.Relay(ctx, local)
		publishers = append(publishers, bridge)
	}
	if cfg.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
	} else {
		log.Printf("ℹ️ KAFKA_BROKERS не установлен, журнал событий в Kafka отключен")
	}
	if cfg.RabbitMQURL != "" {
		dispatcher, err := events.DialTicketDispatcher(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("⚠️ RabbitMQ недоступен, тикеты не рассылаются по станциям: %v", err)
		} else {
			defer dispatcher.Close()
			publishers = append(publishers, dispatcher)
		}
	}

	tables := services.NewTableService(st, publishers)
	kitchen := services.NewKitchenService(st, publishers)
	orders := services.NewOrderService(st, tables, kitchen, catalog, publishers, services.OrderOptions{
		ReopenReadyOnAppend: cfg.ReopenReadyOnAppend,
	})
	billing := services.NewBillingService(st, tables, publishers, services.BillingDefaults{
		TaxPct:           decimal.NewFromFloat(cfg.DefaultTaxPct),
		ServiceChargePct: decimal.NewFromFloat(cfg.DefaultServiceChargePct),
	})

	health := api.NewHealthServer()
	go func() {
		if err := health.Serve(cfg.GRPCPort); err != nil {
			log.Printf("❌ gRPC health server: %v", err)
		}
	}()
	defer health.Stop()

	runner := jobs.NewRunner(jobs.RunnerDeps{
		Kitchen:    kitchen,
		Orders:     orders,
		Publisher:  publishers,
		Cache:      statsCache(redisUtil),
		Ping:       st.Ping,
		Health:     health,
		StaleAfter: time.Duration(cfg.StaleOrderMinutes) * time.Minute,
	})
	var locker gocron.Locker
	if redisUtil != nil {
		locker = jobs.NewRedisLocker(redisUtil, 2*time.Minute)
	}
	scheduler, err := jobs.Start(ctx, runner, jobs.DefaultIntervals(), locker)
	if err != nil {
		log.Fatalf("❌ Планировщик не запустился: %v", err)
	}
	defer scheduler.Stop()

	router := api.NewRouter(api.Deps{
		Tables:      tables,
		Orders:      orders,
		Kitchen:     kitchen,
		Billing:     billing,
		Catalog:     catalog,
		Broker:      broker,
		KitchenHub:  kitchenHub,
		FloorHub:    floorHub,
		Tokens:      auth.NewTokens(cfg.JWTSecret, 12*time.Hour),
		Environment: cfg.Environment,
		Ping:        st.Ping,
	})

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.ServerPort)
		log.Printf("📡 API доступен на http://0.0.0.0:%s/api/v1", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("🛑 Останавливаемся...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
}

// safeURL скрывает пароль в строке подключения
func safeURL(raw string) string {
	if idx := strings.Index(raw, "@"); idx > 0 {
		if schemeIdx := strings.Index(raw, "://"); schemeIdx > 0 {
			return raw[:schemeIdx+3] + "***@" + raw[idx+1:]
		}
	}
	return raw
}

func loadStaticCatalog(path string) *services.StaticCatalog {
	if path == "" {
		log.Printf("⚠️ MENU_SEED_FILE не задан, меню пустое")
		return services.NewStaticCatalog()
	}
	catalog, err := services.LoadStaticCatalog(path)
	if err != nil {
		log.Fatalf("❌ Не удалось прочитать меню из %s: %v", path, err)
	}
	log.Printf("✅ Меню загружено из %s", path)
	return catalog
}

// statsCache nil-интерфейс, если Redis нет
func statsCache(redisUtil *utils.RedisClient) jobs.StatsCache {
	if redisUtil == nil {
		return nil
	}
	return redisUtil
}
