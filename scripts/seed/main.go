package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tableside/server/internal/config"
	"tableside/server/internal/database"
	"tableside/server/internal/models"
	"tableside/server/internal/services"
	"tableside/server/internal/utils"
)

type menuSeed struct {
	id, name, category, price, station string
	prep                               int
}

var menu = []menuSeed{
	{"m-borscht", "Борщ", "Супы", "6.50", "hot", 8},
	{"m-caesar", "Цезарь", "Салаты", "8.90", "cold", 6},
	{"m-burger", "Бургер", "Горячее", "12.00", "grill", 12},
	{"m-steak", "Стейк рибай", "Горячее", "29.00", "grill", 18},
	{"m-fries", "Картофель фри", "Гарниры", "3.50", "fryer", 5},
	{"m-lemonade", "Лимонад", "Напитки", "3.00", "bar", 2},
	{"m-espresso", "Эспрессо", "Напитки", "2.20", "bar", 2},
	{"m-cheesecake", "Чизкейк", "Десерты", "5.40", "pastry", 3},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ .env файл не найден, используем переменные окружения системы")
	}
	cfg := config.Load()
	ctx := context.Background()

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, database.DefaultPool)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к БД: %v", err)
	}
	defer database.ClosePostgres(db)

	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Миграция не удалась: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, m := range menu {
			item := models.MenuItem{
				ID:          m.id,
				Name:        m.name,
				Category:    m.category,
				Price:       decimal.RequireFromString(m.price),
				Station:     m.station,
				PrepMinutes: m.prep,
				IsActive:    true,
			}
			if err := tx.Where(models.MenuItem{ID: m.id}).FirstOrCreate(&item).Error; err != nil {
				return err
			}
		}
		log.Printf("✅ Меню: %d позиций", len(menu))

		for number := 1; number <= 12; number++ {
			floor, maxCap := "main", 4
			if number > 8 {
				floor, maxCap = "terrace", 6
			}
			table := models.Table{Number: number, Floor: floor, MinCapacity: 1, MaxCapacity: maxCap, Status: models.TableAvailable, Version: 1}
			if err := tx.Where(models.Table{Number: number}).FirstOrCreate(&table).Error; err != nil {
				return err
			}
		}
		log.Printf("✅ Столы: 12 (8 в зале, 4 на террасе)")

		customer := models.Customer{Name: "ООО Соседи", Phone: "+70000000001"}
		if err := tx.Where(models.Customer{Phone: customer.Phone}).FirstOrCreate(&customer).Error; err != nil {
			return err
		}
		log.Printf("✅ Клиент для оплаты в долг: %s (ID: %s)", customer.Name, customer.ID)
		return nil
	})
	if err != nil {
		log.Fatalf("❌ Ошибка заполнения: %v", err)
	}

	// Просим запущенные инстансы перечитать меню
	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName)
	if err != nil {
		log.Printf("ℹ️ Redis недоступен, инстансы подхватят меню по таймеру: %v", err)
		return
	}
	defer database.CloseRedis(redisClient)
	if err := services.NewMenuService(db, utils.NewRedisClient(redisClient)).PublishUpdate(ctx); err != nil {
		log.Printf("⚠️ Не удалось отправить сигнал обновления меню: %v", err)
	}
	log.Println("🎉 Готово")
}
