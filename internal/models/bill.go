package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillStatus статус счета
type BillStatus string

const (
	BillUnpaid BillStatus = "unpaid"
	BillPaid   BillStatus = "paid"
)

// PaymentMethod способ оплаты
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentOnline PaymentMethod = "online"
	PaymentCredit PaymentMethod = "credit" // в долг на счет клиента
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentOnline, PaymentCredit:
		return true
	}
	return false
}

// Bill счет по одному заказу.
// GrandTotal = Subtotal + ServiceCharge + Tax - Discount. Оплаченный счет не переоткрывается.
type Bill struct {
	ID               string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID          string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"order_id"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	ServiceChargePct decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"service_charge_pct"`
	ServiceCharge    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"service_charge"`
	TaxPct           decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"tax_pct"`
	Tax              decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"tax"`
	Discount         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	DiscountReason   string          `gorm:"type:varchar(255)" json:"discount_reason,omitempty"`
	GrandTotal       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"grand_total"`
	Status           BillStatus      `gorm:"type:varchar(20);not null;default:'unpaid';index" json:"status"`
	CashierID        string          `gorm:"type:varchar(36)" json:"cashier_id,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	Version          int64           `gorm:"not null;default:1" json:"version"`

	Payments []Payment `gorm:"foreignKey:BillID" json:"payments,omitempty"`
}

func (Bill) TableName() string {
	return "bills"
}

func (b *Bill) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// PaidSum сумма записанных платежей
func (b *Bill) PaidSum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range b.Payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// Payment одна нога оплаты. Несколько платежей = раздельная оплата.
type Payment struct {
	ID         string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	BillID     string          `gorm:"type:varchar(36);not null;index" json:"bill_id"`
	Leg        int             `gorm:"not null" json:"leg"`
	Method     PaymentMethod   `gorm:"type:varchar(20);not null" json:"method"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Tendered   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tendered"` // Сколько дал клиент (наличные)
	Change     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"change"`
	Reference  string          `gorm:"type:varchar(100)" json:"reference,omitempty"`
	CustomerID *string         `gorm:"type:varchar(36);index" json:"customer_id,omitempty"`
	Note       string          `gorm:"type:text" json:"note,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
