package services

import (
	"context"
	"log"
	"time"

	"tableside/server/internal/auth"
	"tableside/server/internal/events"
	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

// TableService реестр столов. Bind/Release/ReleaseFor вызываются только
// внутри транзакции заказа или счета, чтобы привязка менялась вместе со статусом.
type TableService struct {
	store     store.Store
	publisher events.Publisher
	now       func() time.Time
}

func NewTableService(st store.Store, publisher events.Publisher) *TableService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &TableService{store: st, publisher: publisher, now: time.Now}
}

type CreateTableInput struct {
	Number      int    `json:"number" validate:"required,min=1"`
	Floor       string `json:"floor" validate:"max=50"`
	MinCapacity int    `json:"min_capacity" validate:"min=0"`
	MaxCapacity int    `json:"max_capacity" validate:"min=0,gtefield=MinCapacity"`
	Shape       string `json:"shape" validate:"max=20"`
	Color       string `json:"color" validate:"max=20"`
}

func (s *TableService) CreateTable(ctx context.Context, actor auth.Actor, input CreateTableInput) (*models.Table, error) {
	if err := authorize(actor, auth.CmdManageTables); err != nil {
		return nil, err
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	table := &models.Table{
		Number:      input.Number,
		Floor:       input.Floor,
		MinCapacity: input.MinCapacity,
		MaxCapacity: input.MaxCapacity,
		Shape:       input.Shape,
		Color:       input.Color,
		Status:      models.TableAvailable,
	}
	if table.Floor == "" {
		table.Floor = "main"
	}
	if table.MinCapacity == 0 {
		table.MinCapacity = 1
	}
	if table.MaxCapacity == 0 {
		table.MaxCapacity = 4
	}
	if table.MaxCapacity < table.MinCapacity {
		return nil, newError(KindValidation, "max_capacity must not be below min_capacity")
	}

	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		table.ID = ""
		table.Version = 0
		return repo.CreateTable(ctx, table)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	log.Printf("✅ Стол %d создан (%s, этаж %s)", table.Number, table.ID, table.Floor)
	return table, nil
}

func (s *TableService) GetTable(ctx context.Context, id string) (*models.Table, error) {
	var table *models.Table
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		table, err = repo.GetTable(ctx, id)
		return err
	})
	if err != nil {
		return nil, lookupErr(err, KindUnknownTable, "table", id)
	}
	return table, nil
}

func (s *TableService) ListTables(ctx context.Context, filter store.TableFilter) ([]models.Table, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newError(KindValidation, "unknown table status %q", filter.Status)
	}
	var tables []models.Table
	err := s.store.View(ctx, func(repo store.Repository) error {
		var err error
		tables, err = repo.ListTables(ctx, filter)
		return err
	})
	return tables, storeErr(err)
}

// SetStatus административная смена статуса (reserved, cleaning, maintenance, available).
// occupied вручную не ставится. Стол с открытым заказом не меняется.
func (s *TableService) SetStatus(ctx context.Context, actor auth.Actor, id string, status models.TableStatus, expectedVersion int64) (*models.Table, error) {
	if err := authorize(actor, auth.CmdManageTables); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, newError(KindValidation, "unknown table status %q", status)
	}
	if status == models.TableOccupied {
		return nil, newError(KindValidation, "occupied is set only by seating an order")
	}

	var (
		table *models.Table
		box   outbox
	)
	err := s.store.Atomic(ctx, func(repo store.Repository) error {
		box.reset()
		var err error
		table, err = repo.GetTable(ctx, id)
		if err != nil {
			return lookupErr(err, KindUnknownTable, "table", id)
		}
		if err := checkVersion(expectedVersion, table.Version, "table"); err != nil {
			return err
		}
		if table.Status == status {
			return nil
		}
		now := s.now()
		if table.IsBound() {
			orderID := *table.OrderID
			if status != models.TableAvailable {
				return newError(KindTableOccupied, "table %d is bound to order %s", table.Number, orderID)
			}
			// available снимает только зависшую привязку к закрытому или удаленному заказу
			order, err := repo.GetOrder(ctx, orderID)
			if err == nil && !order.Status.IsTerminal() {
				return newError(KindTableOccupied, "table %d is bound to open order %s", table.Number, order.Number)
			}
			if err != nil && !isNotFound(err) {
				return err
			}
			log.Printf("⚠️ Стол %d: снята зависшая привязка к заказу %s (%s)", table.Number, orderID, actor.ID)
			table.Free()
			box.add(tableEvent(events.TableReleased, table, orderID, actor.ID, now))
		} else {
			table.Status = status
		}
		if err := table.CheckBinding(); err != nil {
			return err
		}
		if err := repo.UpdateTable(ctx, table); err != nil {
			return err
		}
		box.add(tableEvent(events.TableStatusChanged, table, "", actor.ID, now))
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	box.flush(ctx, s.publisher)
	return table, nil
}

// Bind занимает свободный стол заказом. Повторная привязка того же заказа ничего не меняет.
func (s *TableService) Bind(ctx context.Context, repo store.Repository, tableID, orderID, staffID string, at time.Time) (*models.Table, bool, error) {
	table, err := repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, false, lookupErr(err, KindUnknownTable, "table", tableID)
	}
	if table.BoundTo(orderID) {
		return table, false, nil
	}
	if table.Status != models.TableAvailable {
		return nil, false, newError(KindTableUnavailable, "table %d is %s", table.Number, table.Status)
	}
	table.Occupy(orderID, staffID, at)
	if err := table.CheckBinding(); err != nil {
		return nil, false, err
	}
	if err := repo.UpdateTable(ctx, table); err != nil {
		return nil, false, err
	}
	return table, true, nil
}

// Release освобождает стол. Свободный стол это no-op.
func (s *TableService) Release(ctx context.Context, repo store.Repository, tableID string) (*models.Table, bool, error) {
	table, err := repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, false, lookupErr(err, KindUnknownTable, "table", tableID)
	}
	if table.Status == models.TableAvailable && !table.IsBound() {
		return table, false, nil
	}
	table.Free()
	if err := table.CheckBinding(); err != nil {
		return nil, false, err
	}
	if err := repo.UpdateTable(ctx, table); err != nil {
		return nil, false, err
	}
	return table, true, nil
}

// ReleaseFor освобождает стол, только если он все еще занят этим заказом.
// Стол, уже пересаженный на другой заказ, не трогаем.
func (s *TableService) ReleaseFor(ctx context.Context, repo store.Repository, tableID, orderID string) (*models.Table, bool, error) {
	table, err := repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, false, lookupErr(err, KindUnknownTable, "table", tableID)
	}
	if !table.BoundTo(orderID) {
		return table, false, nil
	}
	return s.Release(ctx, repo, tableID)
}
