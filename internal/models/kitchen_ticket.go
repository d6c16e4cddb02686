package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketStatus статус кухонного тикета
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketPreparing TicketStatus = "preparing"
	TicketReady     TicketStatus = "ready"
)

func (s TicketStatus) Valid() bool {
	return s == TicketPending || s == TicketPreparing || s == TicketReady
}

// ErrUnknownEntry строка не принадлежит тикету
var ErrUnknownEntry = errors.New("entry does not belong to ticket")

// KitchenTicket единица работы станции (KOT).
// Статус ready вычисляется только из строк и после этого не меняется.
type KitchenTicket struct {
	ID          string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID     string       `gorm:"type:varchar(36);not null;index" json:"order_id"`
	OrderNumber string       `gorm:"type:varchar(32)" json:"order_number"`
	Station     string       `gorm:"type:varchar(50);not null;index" json:"station"`
	Status      TicketStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	OpenedAt    time.Time    `gorm:"not null;index" json:"opened_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Version     int64        `gorm:"not null;default:1" json:"version"`

	Entries []TicketEntry `gorm:"foreignKey:TicketID" json:"entries"`
}

func (KitchenTicket) TableName() string {
	return "kitchen_tickets"
}

func (t *KitchenTicket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// TicketEntry строка тикета, зеркалит позицию заказа
type TicketEntry struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	TicketID    string     `gorm:"type:varchar(36);not null;index" json:"ticket_id"`
	OrderItemID string     `gorm:"type:varchar(36);not null;index" json:"order_item_id"`
	Line        int        `gorm:"not null" json:"line"`
	Name        string     `gorm:"type:varchar(255);not null" json:"name"`
	Quantity    int        `gorm:"not null" json:"quantity"`
	Note        string     `gorm:"type:text" json:"note,omitempty"`
	Status      ItemStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
}

func (TicketEntry) TableName() string {
	return "kitchen_ticket_entries"
}

func (e *TicketEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// Start pending -> preparing. Для уже начатого или готового тикета ничего не делает.
func (t *KitchenTicket) Start(at time.Time) bool {
	if t.Status != TicketPending {
		return false
	}
	ts := at
	t.Status = TicketPreparing
	t.StartedAt = &ts
	return true
}

// MarkEntryReady отмечает строку готовой и пересчитывает статус тикета.
// Возвращает строку, изменилась ли она и перешел ли тикет в ready.
func (t *KitchenTicket) MarkEntryReady(entryID string, at time.Time) (entry *TicketEntry, changed, becameReady bool, err error) {
	for i := range t.Entries {
		if t.Entries[i].ID != entryID {
			continue
		}
		entry = &t.Entries[i]
		if entry.Status == ItemReady {
			return entry, false, false, nil
		}
		ts := at
		entry.Status = ItemReady
		entry.ReadyAt = &ts
		return entry, true, t.Recompute(at), nil
	}
	return nil, false, false, ErrUnknownEntry
}

// Recompute: ready, если все строки готовы; иначе preparing, если хоть одна готова
// или тикет уже начат; иначе без изменений. Возвращает true при переходе в ready.
func (t *KitchenTicket) Recompute(at time.Time) bool {
	if t.Status == TicketReady {
		return false
	}
	ready := 0
	for _, e := range t.Entries {
		if e.Status == ItemReady {
			ready++
		}
	}
	ts := at
	switch {
	case ready == len(t.Entries):
		if t.StartedAt == nil {
			t.StartedAt = &ts
		}
		t.Status = TicketReady
		t.CompletedAt = &ts
		return true
	case ready > 0 || t.StartedAt != nil:
		if t.StartedAt == nil {
			t.StartedAt = &ts
		}
		t.Status = TicketPreparing
	}
	return false
}

// PrepDuration время от открытия до готовности
func (t *KitchenTicket) PrepDuration() (time.Duration, bool) {
	if t.Status != TicketReady || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(t.OpenedAt), true
}
