package api

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName имя сервиса в grpc.health.v1 (пустое имя = весь сервер)
const HealthServiceName = "tableside.floor"

// HealthServer gRPC health check для балансировщика. Статус выставляет проба БД.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

func NewHealthServer() *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	h := &HealthServer{server: srv, health: hs}
	h.SetServing(false)
	return h
}

// SetServing переключает статус SERVING / NOT_SERVING
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}

// Health для тестов и внутренних проверок
func (h *HealthServer) Health() healthpb.HealthServer {
	return h.health
}

// Serve блокирует до Stop
func (h *HealthServer) Serve(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	log.Printf("📡 gRPC health server starting on port %s", port)
	return h.server.Serve(lis)
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
