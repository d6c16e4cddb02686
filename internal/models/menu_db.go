package models

import (
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MenuItem позиция меню (каталог ведется во внешней админке, сервис только читает)
type MenuItem struct {
	ID          string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Category    string          `gorm:"type:varchar(100);index" json:"category"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Station     string          `gorm:"type:varchar(50);not null" json:"station"` // Кухонная станция: grill, bar, cold...
	PrepMinutes int             `gorm:"not null;default:10" json:"prep_minutes"`
	IsActive    bool            `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MenuItem) TableName() string {
	return "menu_items"
}

// AutoMigrate создает таблицы в БД.
// Составные и частичные индексы создаются отдельно: тегами gorm их не описать.
func AutoMigrate(db *gorm.DB) error {
	tables := []interface{}{
		&MenuItem{},
		&Table{},
		&Order{},
		&OrderItem{},
		&OrderStatusLog{},
		&KitchenTicket{},
		&TicketEntry{},
		&Bill{},
		&Payment{},
		&Customer{},
		&CreditEntry{},
	}
	for _, table := range tables {
		if err := db.AutoMigrate(table); err != nil {
			log.Printf("❌ AutoMigrate для %T failed: %v", table, err)
			return err
		}
	}

	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_items_line ON order_items (order_id, line)",
		"CREATE INDEX IF NOT EXISTS ix_orders_open ON orders (status, created_at) WHERE status IN ('pending','ready','served')",
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			errStr := err.Error()
			if !strings.Contains(errStr, "already exists") {
				log.Printf("⚠️ Не удалось создать индекс: %v", err)
			}
		}
	}

	log.Println("✅ Таблицы зала, кухни и кассы мигрированы")
	return nil
}
