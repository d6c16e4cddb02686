package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tableside/server/internal/models"
	"tableside/server/internal/store"
)

func TestCreateTable(t *testing.T) {
	f := newFixture(t, OrderOptions{})

	table, err := f.tables.CreateTable(f.ctx, admin, CreateTableInput{Number: 4})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if table.Status != models.TableAvailable || table.Floor != "main" || table.MinCapacity != 1 || table.MaxCapacity != 4 {
		t.Errorf("defaults not applied: %+v", table)
	}

	tests := []struct {
		name  string
		input CreateTableInput
		want  Kind
	}{
		{"duplicate number", CreateTableInput{Number: 4}, KindConflict},
		{"missing number", CreateTableInput{}, KindValidation},
		{"inverted capacity", CreateTableInput{Number: 5, MinCapacity: 6, MaxCapacity: 2}, KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tables.CreateTable(f.ctx, admin, tt.input)
			assertKind(t, err, tt.want)
		})
	}

	_, err = f.tables.CreateTable(f.ctx, waiter, CreateTableInput{Number: 9})
	assertKind(t, err, KindForbidden)
}

func TestSetTableStatus(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	free := f.table(t, 1)
	busy := f.table(t, 2)
	order := f.dineIn(t, busy.ID, item("m-burger", 1))

	reserved, err := f.tables.SetStatus(f.ctx, admin, free.ID, models.TableReserved, 0)
	if err != nil {
		t.Fatalf("SetStatus(reserved): %v", err)
	}
	if reserved.Status != models.TableReserved {
		t.Errorf("status = %s", reserved.Status)
	}
	_, err = f.orders.CreateOrder(f.ctx, waiter, CreateOrderInput{Kind: models.OrderDineIn, TableID: free.ID, Items: []ItemInput{item("m-cola", 1)}})
	assertKind(t, err, KindTableUnavailable)

	tests := []struct {
		name    string
		tableID string
		status  models.TableStatus
		version int64
		want    Kind
	}{
		{"occupied by hand", free.ID, models.TableOccupied, 0, KindValidation},
		{"unknown status", free.ID, "flooded", 0, KindValidation},
		{"cleaning a seated table", busy.ID, models.TableCleaning, 0, KindTableOccupied},
		{"freeing a seated table", busy.ID, models.TableAvailable, 0, KindTableOccupied},
		{"stale version", free.ID, models.TableCleaning, 1, KindConflict},
		{"unknown table", "missing", models.TableCleaning, 0, KindUnknownTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tables.SetStatus(f.ctx, admin, tt.tableID, tt.status, tt.version)
			assertKind(t, err, tt.want)
		})
	}

	same, err := f.tables.SetStatus(f.ctx, admin, free.ID, models.TableReserved, 0)
	if err != nil || same.Version != reserved.Version {
		t.Errorf("setting the same status should be a no-op: %v", err)
	}
	if got := f.getTable(t, busy.ID); !got.BoundTo(order.ID) {
		t.Error("seated table lost its order")
	}
	f.assertBindings(t)
}

func TestTableBindAndRelease(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	table := f.table(t, 1)
	at := f.clock.Now()

	err := f.store.Atomic(f.ctx, func(repo store.Repository) error {
		bound, changed, err := f.tables.Bind(f.ctx, repo, table.ID, "order-1", waiter.ID, at)
		if err != nil {
			return err
		}
		if !changed || !bound.BoundTo("order-1") || bound.OccupiedSince == nil || *bound.StaffID != waiter.ID {
			t.Errorf("bind result = %+v", bound)
		}
		if _, changed, err := f.tables.Bind(f.ctx, repo, table.ID, "order-1", waiter.ID, at); err != nil || changed {
			t.Errorf("rebinding the same order: changed=%v err=%v", changed, err)
		}
		if _, _, err := f.tables.Bind(f.ctx, repo, table.ID, "order-2", waiter.ID, at); KindOf(err) != KindTableUnavailable {
			t.Errorf("second order bind: %v", err)
		}
		if _, changed, err := f.tables.ReleaseFor(f.ctx, repo, table.ID, "order-2"); err != nil || changed {
			t.Errorf("release for a foreign order: changed=%v err=%v", changed, err)
		}
		released, changed, err := f.tables.Release(f.ctx, repo, table.ID)
		if err != nil || !changed || released.IsBound() || released.Status != models.TableAvailable {
			t.Errorf("release: %+v changed=%v err=%v", released, changed, err)
		}
		if _, changed, err := f.tables.Release(f.ctx, repo, table.ID); err != nil || changed {
			t.Errorf("second release should be a no-op: changed=%v err=%v", changed, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}

func TestListTablesFilters(t *testing.T) {
	f := newFixture(t, OrderOptions{})
	t1 := f.table(t, 1)
	f.table(t, 2)
	if _, err := f.tables.CreateTable(f.ctx, admin, CreateTableInput{Number: 3, Floor: "terrace"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	f.dineIn(t, t1.ID, item("m-burger", 1))

	tests := []struct {
		name   string
		filter store.TableFilter
		want   int
	}{
		{"all", store.TableFilter{}, 3},
		{"occupied", store.TableFilter{Status: models.TableOccupied}, 1},
		{"terrace", store.TableFilter{Floor: "terrace"}, 1},
		{"by waiter", store.TableFilter{StaffID: waiter.ID}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables, err := f.tables.ListTables(f.ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTables: %v", err)
			}
			if len(tables) != tt.want {
				t.Errorf("got %d tables, want %d", len(tables), tt.want)
			}
		})
	}
	_, err := f.tables.GetTable(f.ctx, "missing")
	assertKind(t, err, KindUnknownTable)
}

func TestStaticCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.json")
	menu := `[
		{"id": "m1", "name": "Momo", "category": "starters", "price": "4.50", "station": "steam", "is_active": true},
		{"id": "m2", "name": "Dal", "category": "mains", "price": "6", "station": "stove", "is_active": true},
		{"id": "m3", "name": "Old", "category": "mains", "price": "1", "station": "stove", "is_active": false}
	]`
	if err := os.WriteFile(path, []byte(menu), 0o600); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadStaticCatalog(path)
	if err != nil {
		t.Fatalf("LoadStaticCatalog: %v", err)
	}
	got, err := catalog.Lookup(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Price.StringFixed(2) != "4.50" || got.Station != "steam" {
		t.Errorf("m1 = %+v", got)
	}
	_, err = catalog.Lookup(context.Background(), "m3")
	assertKind(t, err, KindUnknownMenuItem)

	items, _ := catalog.List(context.Background())
	if len(items) != 2 || items[0].ID != "m2" {
		t.Errorf("List = %+v", items)
	}

	if _, err := LoadStaticCatalog(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing file should fail")
	}
}
