package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CreateKafkaTransport создает transport для Kafka с поддержкой SASL/PLAIN и TLS (для Aiven)
func CreateKafkaTransport(username, password, caCert string) *kafka.Transport {
	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
	}

	if username != "" && password != "" {
		transport.SASL = plain.Mechanism{Username: username, Password: password}
		log.Printf("🔐 Kafka: SASL/PLAIN аутентификация включена (username: %s)", username)
	}

	// Aiven требует TLS для SASL; без CA берем системные сертификаты
	if transport.SASL != nil || caCert != "" {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if caCert != "" {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM([]byte(caCert)) {
				tlsConfig.RootCAs = pool
				log.Printf("🔒 Kafka: TLS с CA сертификатом включен")
			} else {
				log.Printf("⚠️ Kafka: не удалось распарсить CA сертификат, используем системные сертификаты")
			}
		}
		transport.TLS = tlsConfig
	}

	return transport
}

// ParseKafkaBrokers парсит строку с брокерами (может быть через запятую)
func ParseKafkaBrokers(brokers string) []string {
	var result []string
	for _, broker := range strings.Split(strings.ReplaceAll(brokers, " ", ""), ",") {
		if broker != "" {
			result = append(result, broker)
		}
	}
	return result
}

// KafkaPublisher пишет события в топик для отчетности.
// Ключ сообщения = ID заказа, чтобы события одного заказа шли в одну партицию по порядку.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers, topic, username, password, caCert string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(ParseKafkaBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Transport:    CreateKafkaTransport(username, password, caCert),
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Printf("⚠️ Kafka: не доставлено %d событий: %v", len(messages), err)
			}
		},
	}
	log.Printf("✅ Kafka producer: topic=%s brokers=%s", topic, brokers)
	return &KafkaPublisher{writer: writer}
}

func (k *KafkaPublisher) Publish(ctx context.Context, events ...Event) {
	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := EncodeProto(e)
		if err != nil {
			log.Printf("⚠️ Kafka: encode %s: %v", e.Type, err)
			continue
		}
		key := e.OrderID
		if key == "" {
			key = e.TableID
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  e.At,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(e.Type)},
				{Key: "content-type", Value: []byte("application/protobuf")},
			},
		})
	}
	if len(messages) == 0 {
		return
	}
	if err := k.writer.WriteMessages(ctx, messages...); err != nil {
		log.Printf("⚠️ Kafka: write: %v", err)
	}
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// EncodeProto кодирует событие в google.protobuf.Struct
func EncodeProto(e Event) ([]byte, error) {
	fields := map[string]interface{}{
		"id":           e.ID,
		"type":         string(e.Type),
		"order_id":     e.OrderID,
		"order_number": e.OrderNumber,
		"table_id":     e.TableID,
		"ticket_id":    e.TicketID,
		"bill_id":      e.BillID,
		"station":      e.Station,
		"status":       e.Status,
		"actor":        e.Actor,
		"version":      float64(e.Version),
		"at":           e.At.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Payload) > 0 {
		fields["payload"] = e.Payload
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeProto обратная операция к EncodeProto
func DecodeProto(data []byte) (Event, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return Event{}, err
	}
	m := msg.AsMap()
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	e := Event{
		ID:          str("id"),
		Type:        Type(str("type")),
		OrderID:     str("order_id"),
		OrderNumber: str("order_number"),
		TableID:     str("table_id"),
		TicketID:    str("ticket_id"),
		BillID:      str("bill_id"),
		Station:     str("station"),
		Status:      str("status"),
		Actor:       str("actor"),
	}
	if v, ok := m["version"].(float64); ok {
		e.Version = int64(v)
	}
	if at, err := time.Parse(time.RFC3339Nano, str("at")); err == nil {
		e.At = at
	}
	if payload, ok := m["payload"].(map[string]interface{}); ok {
		e.Payload = payload
	}
	return e, nil
}
