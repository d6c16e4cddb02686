package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tableside/server/internal/models"
)

func seedTable(t *testing.T, s *Memory, number int) *models.Table {
	t.Helper()
	table := &models.Table{Number: number, Floor: "main", MinCapacity: 1, MaxCapacity: 4}
	if err := s.Atomic(context.Background(), func(repo Repository) error {
		return repo.CreateTable(context.Background(), table)
	}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return table
}

func TestMemoryRollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	table := seedTable(t, s, 1)

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(repo Repository) error {
		tbl, err := repo.GetTable(ctx, table.ID)
		if err != nil {
			return err
		}
		tbl.Occupy("order-1", "waiter-1", time.Now())
		if err := repo.UpdateTable(ctx, tbl); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.View(ctx, func(repo Repository) error {
		tbl, err := repo.GetTable(ctx, table.ID)
		if err != nil {
			t.Fatalf("get table: %v", err)
		}
		if tbl.Status != models.TableAvailable || tbl.IsBound() {
			t.Errorf("write leaked after rollback: %+v", tbl)
		}
		if tbl.Version != 1 {
			t.Errorf("version = %d, want 1", tbl.Version)
		}
		return nil
	})
}

func TestMemoryCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	table := seedTable(t, s, 2)

	stale := *table
	err := s.Atomic(ctx, func(repo Repository) error {
		tbl, _ := repo.GetTable(ctx, table.ID)
		tbl.Status = models.TableCleaning
		return repo.UpdateTable(ctx, tbl)
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	err = s.Atomic(ctx, func(repo Repository) error {
		stale.Status = models.TableReserved
		return repo.UpdateTable(ctx, &stale)
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
}

func TestMemoryTableBoundToSingleOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	a := seedTable(t, s, 3)
	b := seedTable(t, s, 4)

	bind := func(id string) error {
		return s.Atomic(ctx, func(repo Repository) error {
			tbl, err := repo.GetTable(ctx, id)
			if err != nil {
				return err
			}
			tbl.Occupy("order-x", "", time.Now())
			return repo.UpdateTable(ctx, tbl)
		})
	}
	if err := bind(a.ID); err != nil {
		t.Fatalf("bind a: %v", err)
	}
	if err := bind(b.ID); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate when one order takes two tables, got %v", err)
	}
}

func TestMemoryViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	err := s.View(ctx, func(repo Repository) error {
		return repo.CreateTable(ctx, &models.Table{Number: 9})
	})
	if !errors.Is(err, errReadOnly) {
		t.Fatalf("expected errReadOnly, got %v", err)
	}
}

func TestMemoryOrdersAndSequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.Atomic(ctx, func(repo Repository) error {
			seq, err := repo.NextOrderSequence(ctx, day)
			if err != nil {
				return err
			}
			order := &models.Order{
				Number:    OrderNumber(day, seq),
				Kind:      models.OrderTakeaway,
				StaffID:   "w1",
				Status:    models.OrderPending,
				CreatedAt: day.Add(time.Duration(i) * time.Minute),
				Items: []models.OrderItem{
					{Line: 2, MenuItemID: "m2", Name: "Tea", Quantity: 1, UnitPrice: decimal.NewFromInt(3), Station: "bar"},
					{Line: 1, MenuItemID: "m1", Name: "Soup", Quantity: 2, UnitPrice: decimal.NewFromInt(5), Station: "hot"},
				},
			}
			return repo.CreateOrder(ctx, order)
		})
		if err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}

	_ = s.View(ctx, func(repo Repository) error {
		orders, err := repo.ListOrders(ctx, OrderFilter{Statuses: []models.OrderStatus{models.OrderPending}, Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(orders) != 2 {
			t.Fatalf("limit ignored: got %d orders", len(orders))
		}
		if orders[0].Number != "ORD_20260314_003" {
			t.Errorf("newest first expected, got %s", orders[0].Number)
		}
		if orders[0].Items[0].Line != 1 || orders[0].Items[1].Line != 2 {
			t.Errorf("items not sorted by line: %+v", orders[0].Items)
		}
		if !orders[0].Total().Equal(decimal.NewFromInt(13)) {
			t.Errorf("total = %s, want 13", orders[0].Total())
		}
		return nil
	})
}

func TestMemoryAtomicSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	table := seedTable(t, s, 5)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomic(ctx, func(repo Repository) error {
				tbl, err := repo.GetTable(ctx, table.ID)
				if err != nil {
					return err
				}
				if tbl.Status != models.TableAvailable {
					return errors.New("taken")
				}
				tbl.Occupy("order", "", time.Now())
				return repo.UpdateTable(ctx, tbl)
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestOrderNumber(t *testing.T) {
	day := time.Date(2026, 1, 2, 23, 59, 0, 0, time.UTC)
	tests := []struct {
		seq  int
		want string
	}{
		{1, "ORD_20260102_001"},
		{42, "ORD_20260102_042"},
		{1234, "ORD_20260102_1234"},
	}
	for _, tt := range tests {
		if got := OrderNumber(day, tt.seq); got != tt.want {
			t.Errorf("OrderNumber(%d) = %s, want %s", tt.seq, got, tt.want)
		}
	}
}
