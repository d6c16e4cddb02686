package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Customer гость с кредитным счетом (оплата "в долг")
type Customer struct {
	ID        string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Phone     string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"phone"`
	Balance   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"` // Текущий долг
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// CreditEntry движение по кредитному счету клиента
type CreditEntry struct {
	ID         string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	CustomerID string          `gorm:"type:varchar(36);not null;index" json:"customer_id"`
	BillID     string          `gorm:"type:varchar(36);not null;index" json:"bill_id"`
	PaymentID  string          `gorm:"type:varchar(36);not null" json:"payment_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (CreditEntry) TableName() string {
	return "customer_credit_entries"
}

func (e *CreditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
