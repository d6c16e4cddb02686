package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

// Epsilon допуск сравнения денежных сумм: половина минимальной единицы валюты
var Epsilon = decimal.RequireFromString("0.005")

var hundred = decimal.NewFromInt(100)

type BillingDefaults struct {
	TaxPct           decimal.Decimal
	ServiceChargePct decimal.Decimal
}

// BillingService касса: расчет счета и оплата (в том числе раздельная и в долг)
type BillingService struct {
	store     store.Store
	tables    *TableService
	publisher events.Publisher
	defaults  BillingDefaults
	now       func() time.Time
}

func NewBillingService(st store.Store, tables *TableService, publisher events.Publisher, defaults BillingDefaults) *BillingService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &BillingService{store: st, tables: tables, publisher: publisher, defaults: defaults, now: time.Now}
}

// Totals итог расчета счета
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// CalculateTotals сервисный сбор и налог берутся от подытога, каждый округляется до копеек.
// Скидка больше подытога с начислениями отклоняется.
func CalculateTotals(subtotal, serviceChargePct, taxPct, discount decimal.Decimal) (Totals, error) {
	subtotal = subtotal.Round(2)
	discount = discount.Round(2)
	serviceCharge := subtotal.Mul(serviceChargePct).Div(hundred).Round(2)
	tax := subtotal.Mul(taxPct).Div(hundred).Round(2)
	gross := subtotal.Add(serviceCharge).Add(tax)
	if discount.GreaterThan(gross) {
		return Totals{}, newError(KindDiscountExceedsTotal, "discount %s exceeds total %s", discount.StringFixed(2), gross.StringFixed(2))
	}
	return Totals{
		Subtotal:      subtotal,
		ServiceCharge: serviceCharge,
		Tax:           tax,
		Discount:      discount,
		GrandTotal:    gross.Sub(discount),
	}, nil
}

type ComputeBillInput struct {
	TaxPct           *decimal.Decimal `json:"tax_pct"`
	ServiceChargePct *decimal.Decimal `json:"service_charge_pct"`
	Discount         decimal.Decimal  `json:"discount"`
	DiscountReason   string           `json:"discount_reason"`
	ExpectedVersion  int64            `json:"expected_version"`
}

func checkPct(name string, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return newError(KindValidation, "%s must be between 0 and 100", name)
	}
	return nil
}

// ComputeBill считает счет по поданному заказу. Неоплаченный счет пересчитывается на месте.
func (s *BillingService) ComputeBill(ctx context.Context, actor auth.Actor, orderID string, input ComputeBillInput) (*models.Bill, error) {
	if err := authorize(actor, auth.CmdComputeBill); err != nil {
		return nil, err
	}
	taxPct, svcPct := s.defaults.TaxPct, s.defaults.ServiceChargePct
	if input.TaxPct != nil {
		taxPct = *input.TaxPct
	}
	if input.ServiceChargePct != nil {
		svcPct = *input.ServiceChargePct
	}
	if err := checkPct("tax_pct", taxPct); err != nil {
		return nil, err
	}
	if err := checkPct("service_charge_pct", svcPct); err != nil {
		return nil, err
	}
	if input.Discount.IsNegative() {
		return nil, newError(KindValidation, "discount must not be negative")
	}

	var (
		bill *models.Bill
		box  outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		now := s.now()

		order, err := repo.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", orderID)
		}
		switch order.Status {
		case models.OrderCancelled:
			return newError(KindOrderClosed, "order %s is cancelled", order.Number)
		case models.OrderPending, models.OrderReady:
			return newError(KindOrderNotServable, "order %s is %s, bill requires served", order.Number, order.Status)
		}

		totals, err := CalculateTotals(order.Total(), svcPct, taxPct, input.Discount)
		if err != nil {
			return err
		}

		existing, err := repo.GetBillByOrder(ctx, order.ID)
		isNew := false
		switch {
		case err == nil:
			if existing.Status == models.BillPaid {
				return newError(KindAlreadyPaid, "bill for order %s is already paid", order.Number)
			}
			if err := checkVersion(input.ExpectedVersion, existing.Version, "bill"); err != nil {
				return err
			}
			bill = existing
		case isNotFound(err):
			if order.Status == models.OrderCompleted {
				log.Printf("⚠️ Счет по закрытому без оплаты заказу %s", order.Number)
			}
			bill = &models.Bill{ID: uuid.New().String(), OrderID: order.ID, Status: models.BillUnpaid}
			isNew = true
		default:
			return err
		}

		bill.Subtotal = totals.Subtotal
		bill.ServiceChargePct = svcPct
		bill.ServiceCharge = totals.ServiceCharge
		bill.TaxPct = taxPct
		bill.Tax = totals.Tax
		bill.Discount = totals.Discount
		bill.DiscountReason = strings.TrimSpace(input.DiscountReason)
		bill.GrandTotal = totals.GrandTotal
		bill.CashierID = actor.ID

		if isNew {
			err = repo.CreateBill(ctx, bill)
		} else {
			err = repo.UpdateBill(ctx, bill)
		}
		if err != nil {
			return err
		}
		box.add(billEvent(events.BillComputed, bill, order, actor.ID, now))
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	log.Printf("🧾 Счет %s: подытог %s, итого %s", bill.ID, bill.Subtotal.StringFixed(2), bill.GrandTotal.StringFixed(2))
	return bill, nil
}

type LegInput struct {
	Method     models.PaymentMethod `json:"method" validate:"required,oneof=cash card online credit"`
	Amount     decimal.Decimal      `json:"amount"`
	Reference  string               `json:"reference" validate:"max=100"`
	CustomerID string               `json:"customer_id"`
	Note       string               `json:"note" validate:"max=500"`
}

func validateLegs(legs []LegInput) error {
	if len(legs) == 0 {
		return newError(KindValidation, "at least one payment leg is required")
	}
	for i, leg := range legs {
		if err := validateInput(leg); err != nil {
			return err
		}
		if !leg.Amount.Round(2).IsPositive() {
			return newError(KindValidation, "leg %d amount must be at least 0.01", i+1)
		}
		if leg.Method == models.PaymentCredit && strings.TrimSpace(leg.CustomerID) == "" {
			return newError(KindCreditRequiresCustomer, "credit leg %d has no customer", i+1)
		}
	}
	return nil
}

// buildPayments сверяет ноги с итогом. Одна наличная нога может быть больше итога:
// тогда записывается сдача, а сумма платежа равна итогу.
func buildPayments(billID string, legs []LegInput, total decimal.Decimal) ([]models.Payment, error) {
	if len(legs) == 1 && legs[0].Method == models.PaymentCash {
		change, err := ChangeDue(legs, total)
		if err != nil {
			return nil, err
		}
		leg := legs[0]
		return []models.Payment{{
			ID:        uuid.New().String(),
			BillID:    billID,
			Leg:       1,
			Method:    leg.Method,
			Amount:    total,
			Tendered:  leg.Amount.Round(2),
			Change:    change,
			Reference: leg.Reference,
			Note:      leg.Note,
		}}, nil
	}

	// сверяется сумма уже округленных ног: именно они записываются в платежи
	sum := decimal.Zero
	for _, leg := range legs {
		sum = sum.Add(leg.Amount.Round(2))
	}
	if sum.Sub(total).Abs().GreaterThan(Epsilon) {
		return nil, newError(KindSplitMismatch, "legs sum to %s, bill total is %s", sum.StringFixed(2), total.StringFixed(2))
	}

	payments := make([]models.Payment, 0, len(legs))
	for i, leg := range legs {
		p := models.Payment{
			ID:        uuid.New().String(),
			BillID:    billID,
			Leg:       i + 1,
			Method:    leg.Method,
			Amount:    leg.Amount.Round(2),
			Reference: leg.Reference,
			Note:      leg.Note,
		}
		if leg.Method == models.PaymentCash {
			p.Tendered = p.Amount
		}
		if leg.CustomerID != "" {
			customerID := leg.CustomerID
			p.CustomerID = &customerID
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// ChangeDue сдача для одной наличной ноги. Меньше итога: InsufficientPayment.
func ChangeDue(legs []LegInput, total decimal.Decimal) (decimal.Decimal, error) {
	if len(legs) != 1 || legs[0].Method != models.PaymentCash {
		return decimal.Zero, newError(KindValidation, "change is computed for a single cash leg")
	}
	change := legs[0].Amount.Round(2).Sub(total.Round(2))
	if change.IsNegative() {
		return decimal.Zero, newError(KindInsufficientPayment, "tendered %s is less than total %s", legs[0].Amount.StringFixed(2), total.StringFixed(2))
	}
	return change, nil
}

// SettleResult счет, заказ и стол после оплаты
type SettleResult struct {
	Bill  *models.Bill  `json:"bill"`
	Order *models.Order `json:"order"`
	Table *models.Table `json:"table,omitempty"`
}

// Settle записывает оплату. Счет становится paid, заказ completed, стол свободен:
// все в одной транзакции. Первый успешный вызов выигрывает, остальные получают AlreadyPaid.
func (s *BillingService) Settle(ctx context.Context, actor auth.Actor, billID string, legs []LegInput, expectedVersion int64) (*SettleResult, error) {
	if err := authorize(actor, auth.CmdSettleBill); err != nil {
		return nil, err
	}
	if err := validateLegs(legs); err != nil {
		return nil, err
	}

	var (
		result SettleResult
		box    outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		result = SettleResult{}
		now := s.now()

		bill, err := repo.GetBill(ctx, billID)
		if err != nil {
			return lookupErr(err, KindUnknownBill, "bill", billID)
		}
		if bill.Status == models.BillPaid {
			return newError(KindAlreadyPaid, "bill %s is already paid", bill.ID)
		}
		if err := checkVersion(expectedVersion, bill.Version, "bill"); err != nil {
			return err
		}
		order, err := repo.GetOrder(ctx, bill.OrderID)
		if err != nil {
			return lookupErr(err, KindUnknownOrder, "order", bill.OrderID)
		}
		switch order.Status {
		case models.OrderCancelled:
			return newError(KindOrderClosed, "order %s is cancelled", order.Number)
		case models.OrderPending, models.OrderReady:
			return newError(KindOrderNotServable, "order %s is %s", order.Number, order.Status)
		}
		if !order.Total().Round(2).Equal(bill.Subtotal) {
			return newError(KindConflict, "order %s changed after the bill was computed, recompute first", order.Number)
		}

		payments, err := buildPayments(bill.ID, legs, bill.GrandTotal)
		if err != nil {
			return err
		}
		for i := range payments {
			p := &payments[i]
			if p.Method != models.PaymentCredit {
				continue
			}
			customer, err := repo.GetCustomer(ctx, *p.CustomerID)
			if isNotFound(err) {
				return newError(KindCreditRequiresCustomer, "customer %s not found", *p.CustomerID)
			}
			if err != nil {
				return err
			}
			customer.Balance = customer.Balance.Add(p.Amount)
			if err := repo.UpdateCustomer(ctx, customer); err != nil {
				return err
			}
			if err := repo.AddCreditEntry(ctx, &models.CreditEntry{
				ID:         uuid.New().String(),
				CustomerID: customer.ID,
				BillID:     bill.ID,
				PaymentID:  p.ID,
				Amount:     p.Amount,
			}); err != nil {
				return err
			}
		}
		if err := repo.AddPayments(ctx, payments); err != nil {
			return err
		}

		paidAt := now
		bill.Status = models.BillPaid
		bill.PaidAt = &paidAt
		bill.CashierID = actor.ID
		if err := repo.UpdateBill(ctx, bill); err != nil {
			return err
		}
		bill.Payments = payments
		box.add(billEvent(events.BillPaid, bill, order, actor.ID, now))

		if order.Status == models.OrderServed {
			if err := order.TransitionTo(models.OrderCompleted, now); err != nil {
				return err
			}
			if err := repo.UpdateOrder(ctx, order); err != nil {
				return err
			}
			if err := repo.AppendStatusLog(ctx, &models.OrderStatusLog{
				OrderID:    order.ID,
				FromStatus: models.OrderServed,
				ToStatus:   models.OrderCompleted,
				ChangedBy:  actor.ID,
				Note:       "bill settled",
				ChangedAt:  now,
			}); err != nil {
				return err
			}
			box.add(orderEvent(events.OrderStatusChanged, order, actor.ID, now))
		}

		if order.TableID != nil {
			table, released, err := s.tables.ReleaseFor(ctx, repo, *order.TableID, order.ID)
			if err != nil {
				return err
			}
			result.Table = table
			if released {
				box.add(tableEvent(events.TableReleased, table, order.ID, actor.ID, now))
			}
		}
		result.Bill, result.Order = bill, order
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	log.Printf("💰 Счет %s оплачен (%d ног), заказ %s %s", result.Bill.ID, len(legs), result.Order.Number, result.Order.Status)
	return &result, nil
}

// GetBill счет по заказу
func (s *BillingService) GetBill(ctx context.Context, orderID string) (*models.Bill, error) {
	var bill *models.Bill
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		bill, err = repo.GetBillByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, lookupErr(err, KindUnknownBill, "bill for order", orderID)
	}
	return bill, nil
}

func (s *BillingService) GetBillByID(ctx context.Context, id string) (*models.Bill, error) {
	var bill *models.Bill
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		bill, err = repo.GetBill(ctx, id)
		return err
	})
	if err != nil {
		return nil, lookupErr(err, KindUnknownBill, "bill", id)
	}
	return bill, nil
}

type CreateCustomerInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Phone string `json:"phone" validate:"required,max=20"`
}

func (s *BillingService) CreateCustomer(ctx context.Context, actor auth.Actor, input CreateCustomerInput) (*models.Customer, error) {
	if err := authorize(actor, auth.CmdManageCustomers); err != nil {
		return nil, err
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	customer := &models.Customer{Name: input.Name, Phone: input.Phone, Balance: decimal.Zero}
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		customer.ID = uuid.New().String()
		return repo.CreateCustomer(ctx, customer)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return customer, nil
}

func (s *BillingService) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer *models.Customer
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		customer, err = repo.GetCustomer(ctx, id)
		return err
	})
	if err != nil {
		return nil, lookupErr(err, KindUnknownCustomer, "customer", id)
	}
	return customer, nil
}
