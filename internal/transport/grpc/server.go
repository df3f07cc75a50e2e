package grpcx

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName: имя InquiryService, оно же сервис в health-протоколе.
const ServiceName = "cwrk.inquiry.v1.InquiryService"

type Server struct {
	GRPC   *grpc.Server
	health *health.Server
}

func NewServer(v TokenVerifier, guard time.Duration) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			UnaryServerInterceptor(guard),
			UnaryAuthInterceptor(v, "/grpc.health.v1.Health/"),
		),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{GRPC: gs, health: hs}
}

// RegisterInquiryService подключает InquiryService; вызывать до Serve.
func (s *Server) RegisterInquiryService(impl InquiryServer) {
	s.GRPC.RegisterService(&inquiryServiceDesc, impl)
}

// SetServing переключает статус health для сервиса и для "" (весь сервер).
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown переводит health в NOT_SERVING и мягко останавливает сервер.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GRPC.GracefulStop()
}
