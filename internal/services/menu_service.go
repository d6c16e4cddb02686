package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"tableside/server/internal/models"
	"tableside/server/internal/utils"
)

const MenuUpdateChannel = "menu:update" // Канал для Pub/Sub обновлений меню

// Catalog источник цен и станций для позиций заказа.
// Неактивная или неизвестная позиция дает KindUnknownMenuItem.
type Catalog interface {
	Lookup(ctx context.Context, id string) (*models.MenuItem, error)
	List(ctx context.Context) ([]models.MenuItem, error)
}

// MenuService держит меню из БД в памяти и перечитывает его по сигналу из Redis
type MenuService struct {
	db             *gorm.DB
	redisUtil      *utils.RedisClient
	mu             sync.RWMutex
	items          map[string]models.MenuItem
	lastUpdate     time.Time
	updateInterval time.Duration
	stop           chan struct{}
	stopOnce       sync.Once
}

func NewMenuService(db *gorm.DB, redisUtil *utils.RedisClient) *MenuService {
	return &MenuService{
		db:             db,
		redisUtil:      redisUtil,
		items:          make(map[string]models.MenuItem),
		updateInterval: 5 * time.Minute, // Fallback, если Redis недоступен
		stop:           make(chan struct{}),
	}
}

// LoadMenu читает активные позиции и атомарно подменяет кэш
func (ms *MenuService) LoadMenu(ctx context.Context) error {
	var rows []models.MenuItem
	if err := ms.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return err
	}

	items := make(map[string]models.MenuItem, len(rows))
	for _, row := range rows {
		items[row.ID] = row
	}

	ms.mu.Lock()
	ms.items = items
	ms.lastUpdate = time.Now()
	ms.mu.Unlock()

	log.Printf("✅ Меню обновлено из БД: %d позиций", len(items))
	return nil
}

func (ms *MenuService) Lookup(ctx context.Context, id string) (*models.MenuItem, error) {
	ms.mu.RLock()
	item, ok := ms.items[id]
	ms.mu.RUnlock()
	if ok {
		return &item, nil
	}

	// Промах кэша: позицию могли добавить после последней загрузки
	var row models.MenuItem
	err := ms.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindUnknownMenuItem, "menu item %s is unknown or inactive", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup menu item: %w", err)
	}

	ms.mu.Lock()
	ms.items[row.ID] = row
	ms.mu.Unlock()
	return &row, nil
}

func (ms *MenuService) List(ctx context.Context) ([]models.MenuItem, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return sortedMenu(ms.items), nil
}

// StartAutoReload: Redis Pub/Sub для мгновенного обновления + таймер как fallback
func (ms *MenuService) StartAutoReload(ctx context.Context) {
	if ms.redisUtil != nil {
		go ms.listen(ctx)
		log.Println("📡 Redis Pub/Sub для меню запущен")
	}

	go func() {
		ticker := time.NewTicker(ms.updateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := ms.LoadMenu(ctx); err != nil {
					log.Printf("⚠️ Ошибка автообновления меню: %v", err)
				}
			case <-ms.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("🔄 Fallback автообновление меню запущено (каждые %s)", ms.updateInterval)
}

func (ms *MenuService) listen(ctx context.Context) {
	ch, closeFn := ms.redisUtil.Subscribe(ctx, MenuUpdateChannel)
	defer func() {
		if err := closeFn(); err != nil {
			log.Printf("⚠️ Ошибка закрытия Pub/Sub: %v", err)
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			log.Printf("🔔 Сигнал обновления меню: %s", msg.Payload)
			if err := ms.LoadMenu(ctx); err != nil {
				log.Printf("⚠️ Ошибка обновления меню по Pub/Sub: %v", err)
			}
		case <-ms.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// PublishUpdate просит все инстансы перечитать меню
func (ms *MenuService) PublishUpdate(ctx context.Context) error {
	if ms.redisUtil == nil {
		return ms.LoadMenu(ctx)
	}
	return ms.redisUtil.Publish(ctx, MenuUpdateChannel, "now")
}

func (ms *MenuService) LastUpdate() time.Time {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.lastUpdate
}

func (ms *MenuService) Stop() {
	ms.stopOnce.Do(func() { close(ms.stop) })
}

// StaticCatalog меню в памяти: тесты и STORE_DRIVER=memory
type StaticCatalog struct {
	items map[string]models.MenuItem
}

func NewStaticCatalog(items ...models.MenuItem) *StaticCatalog {
	c := &StaticCatalog{items: make(map[string]models.MenuItem, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// LoadStaticCatalog читает меню из JSON файла (массив MenuItem)
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}
	var items []models.MenuItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse menu file %s: %w", path, err)
	}
	return NewStaticCatalog(items...), nil
}

func (c *StaticCatalog) Lookup(_ context.Context, id string) (*models.MenuItem, error) {
	item, ok := c.items[id]
	if !ok || !item.IsActive {
		return nil, newError(KindUnknownMenuItem, "menu item %s is unknown or inactive", id)
	}
	return &item, nil
}

func (c *StaticCatalog) List(context.Context) ([]models.MenuItem, error) {
	active := make(map[string]models.MenuItem, len(c.items))
	for id, item := range c.items {
		if item.IsActive {
			active[id] = item
		}
	}
	return sortedMenu(active), nil
}

func sortedMenu(items map[string]models.MenuItem) []models.MenuItem {
	out := make([]models.MenuItem, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
