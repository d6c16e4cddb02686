// loadtest гоняет гонки против запущенного сервера: N официантов сажают гостей
// за один стол и N кассиров оплачивают один счет. Ровно один должен выиграть.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	baseURL     = pflag.String("url", "http://localhost:8080/api/v1", "API base URL")
	grpcAddr    = pflag.String("grpc", "localhost:9090", "gRPC health address")
	concurrency = pflag.IntP("concurrency", "c", 50, "параллельных горутин на гонку")
	rounds      = pflag.IntP("rounds", "r", 20, "количество раундов")
	tableNumber = pflag.Int("table", 900, "номер первого тестового стола")
	menuItem    = pflag.String("item", "m-burger", "позиция меню для заказов")
)

type counters struct {
	success  int64
	conflict int64
	failed   int64
	latency  int64
}

func (c *counters) record(code int, d time.Duration) {
	atomic.AddInt64(&c.latency, int64(d))
	switch {
	case code >= 200 && code < 300:
		atomic.AddInt64(&c.success, 1)
	case code == http.StatusConflict:
		atomic.AddInt64(&c.conflict, 1)
	default:
		atomic.AddInt64(&c.failed, 1)
	}
}

type client struct {
	http   *http.Client
	tokens map[string]string
}

func (c *client) call(role, method, path string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, *baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens[role]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (c *client) login(role string) {
	var resp struct {
		Token string `json:"token"`
	}
	code, err := c.call("", http.MethodPost, "/auth/token", map[string]string{"staff_id": "load-" + role, "role": role}, &resp)
	if err != nil || code != http.StatusOK {
		log.Fatalf("❌ Не удалось получить токен %s: %d %v", role, code, err)
	}
	c.tokens[role] = resp.Token
}

// race запускает n одинаковых запросов одновременно и возвращает число победителей
func race(n int, stats *counters, fn func() int) int64 {
	var (
		wg      sync.WaitGroup
		winners int64
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			began := time.Now()
			code := fn()
			stats.record(code, time.Since(began))
			if code >= 200 && code < 300 {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return winners
}

func checkHealth() {
	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Printf("⚠️ gRPC health: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Printf("⚠️ gRPC health: %v", err)
		return
	}
	log.Printf("💓 gRPC health: %s", resp.Status)
}

func main() {
	pflag.Parse()
	checkHealth()

	c := &client{http: &http.Client{Timeout: 10 * time.Second}, tokens: map[string]string{}}
	for _, role := range []string{"admin", "waiter", "kitchen", "cashier"} {
		c.login(role)
	}

	var seatStats, settleStats counters
	var seatViolations, settleViolations int
	began := time.Now()

	for round := 0; round < *rounds; round++ {
		var table struct {
			ID string `json:"id"`
		}
		code, err := c.call("admin", http.MethodPost, "/tables", map[string]interface{}{"number": *tableNumber + round}, &table)
		if err != nil || code != http.StatusCreated {
			log.Fatalf("❌ Стол %d не создан: %d %v (уже есть после прошлого запуска? укажите --table)", *tableNumber+round, code, err)
		}

		var orderID string
		var mu sync.Mutex
		winners := race(*concurrency, &seatStats, func() int {
			var order struct {
				ID string `json:"id"`
			}
			code, _ := c.call("waiter", http.MethodPost, "/orders", map[string]interface{}{
				"kind":     "dine_in",
				"table_id": table.ID,
				"items":    []map[string]interface{}{{"menu_item_id": *menuItem, "quantity": 1}},
			}, &order)
			if code == http.StatusCreated {
				mu.Lock()
				orderID = order.ID
				mu.Unlock()
			}
			return code
		})
		if winners != 1 {
			seatViolations++
			log.Printf("🔥 Раунд %d: стол занят %d заказами", round, winners)
			continue
		}

		if code, err := c.call("waiter", http.MethodPost, "/orders/"+orderID+"/status", map[string]string{"status": "served"}, nil); err != nil || code != http.StatusOK {
			log.Fatalf("❌ Заказ %s не подан: %d %v", orderID, code, err)
		}
		var bill struct {
			ID         string `json:"id"`
			GrandTotal string `json:"grand_total"`
		}
		if code, err := c.call("cashier", http.MethodPost, "/orders/"+orderID+"/bill", nil, &bill); err != nil || code != http.StatusOK {
			log.Fatalf("❌ Счет не посчитан: %d %v", code, err)
		}

		winners = race(*concurrency, &settleStats, func() int {
			code, _ := c.call("cashier", http.MethodPost, "/bills/"+bill.ID+"/settle", map[string]interface{}{
				"legs": []map[string]string{{"method": "card", "amount": bill.GrandTotal}},
			}, nil)
			return code
		})
		if winners != 1 {
			settleViolations++
			log.Printf("🔥 Раунд %d: счет оплачен %d раз", round, winners)
		}
	}

	elapsed := time.Since(began)
	report := func(name string, s *counters, violations int) {
		total := s.success + s.conflict + s.failed
		avg := time.Duration(0)
		if total > 0 {
			avg = time.Duration(s.latency / total)
		}
		fmt.Printf("%-8s запросов=%d успех=%d конфликт=%d ошибок=%d средняя задержка=%v нарушений=%d\n",
			name, total, s.success, s.conflict, s.failed, avg, violations)
	}

	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("⏱️  %d раундов за %v\n", *rounds, elapsed.Round(time.Millisecond))
	report("seat", &seatStats, seatViolations)
	report("settle", &settleStats, settleViolations)
	if seatViolations+settleViolations > 0 {
		log.Fatalf("❌ Найдены гонки")
	}
	fmt.Println("✅ Гонок не обнаружено")
}
