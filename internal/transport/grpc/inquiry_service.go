package grpcx

import (
	"context"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/transport/apiconv"
	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type InquirySvc interface {
	Get(ctx context.Context, actor domain.Actor, id string) (*domain.Inquiry, error)
	Respond(ctx context.Context, actor domain.Actor, id string, decision domain.Decision) (*domain.Inquiry, error)
}

type ChatSvc interface {
	List(ctx context.Context, actor domain.Actor, inquiryID, cursor string, limit int) ([]domain.Message, string, error)
	Send(ctx context.Context, actor domain.Actor, inquiryID, content string) (*domain.Message, error)
}

// Запросы InquiryService. Ответы: DTO из pkg/api.
type (
	GetInquiryRequest struct {
		InquiryID string `json:"inquiry_id"`
	}
	RespondRequest struct {
		InquiryID string `json:"inquiry_id"`
		Decision  string `json:"decision"`
	}
	ListMessagesRequest struct {
		InquiryID string `json:"inquiry_id"`
		Cursor    string `json:"cursor,omitempty"`
		Limit     int    `json:"limit,omitempty"`
	}
	SendMessageRequest struct {
		InquiryID string `json:"inquiry_id"`
		Content   string `json:"content"`
	}
)

// InquiryServer: gRPC-вариант REST-операций для внутренних потребителей.
type InquiryServer interface {
	GetInquiry(ctx context.Context, req *GetInquiryRequest) (*api.Inquiry, error)
	RespondToInquiry(ctx context.Context, req *RespondRequest) (*api.Inquiry, error)
	ListMessages(ctx context.Context, req *ListMessagesRequest) (*api.MessageList, error)
	SendMessage(ctx context.Context, req *SendMessageRequest) (*api.Message, error)
}

// Полные имена методов, как их видят интерсепторы.
const (
	MethodGetInquiry       = "/" + ServiceName + "/GetInquiry"
	MethodRespondToInquiry = "/" + ServiceName + "/RespondToInquiry"
	MethodListMessages     = "/" + ServiceName + "/ListMessages"
	MethodSendMessage      = "/" + ServiceName + "/SendMessage"
)

var inquiryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InquiryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetInquiry", InquiryServer.GetInquiry),
		unary("RespondToInquiry", InquiryServer.RespondToInquiry),
		unary("ListMessages", InquiryServer.ListMessages),
		unary("SendMessage", InquiryServer.SendMessage),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inquiry_service",
}

// unary повторяет то, что protoc-gen-go-grpc генерирует для каждого unary-метода.
func unary[Req, Resp any](name string, call func(InquiryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(InquiryServer), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, handler)
		},
	}
}

type inquiryServer struct {
	inquiries InquirySvc
	chat      ChatSvc
}

func NewInquiryServer(inquiries InquirySvc, chat ChatSvc) InquiryServer {
	return &inquiryServer{inquiries: inquiries, chat: chat}
}

func callerFrom(ctx context.Context) (domain.Actor, error) {
	a, ok := ActorFromCtx(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "no actor in context")
	}
	return a, nil
}

func (s *inquiryServer) GetInquiry(ctx context.Context, req *GetInquiryRequest) (*api.Inquiry, error) {
	a, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	inq, err := s.inquiries.Get(ctx, a, req.InquiryID)
	if err != nil {
		return nil, err
	}
	out := apiconv.Inquiry(*inq)
	return &out, nil
}

func (s *inquiryServer) RespondToInquiry(ctx context.Context, req *RespondRequest) (*api.Inquiry, error) {
	a, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	d, err := domain.ParseDecision(req.Decision)
	if err != nil {
		return nil, err
	}
	inq, err := s.inquiries.Respond(ctx, a, req.InquiryID, d)
	if err != nil {
		return nil, err
	}
	out := apiconv.Inquiry(*inq)
	return &out, nil
}

func (s *inquiryServer) ListMessages(ctx context.Context, req *ListMessagesRequest) (*api.MessageList, error) {
	a, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	msgs, next, err := s.chat.List(ctx, a, req.InquiryID, req.Cursor, req.Limit)
	if err != nil {
		return nil, err
	}
	return &api.MessageList{Items: apiconv.Messages(msgs), NextCursor: next}, nil
}

func (s *inquiryServer) SendMessage(ctx context.Context, req *SendMessageRequest) (*api.Message, error) {
	a, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.chat.Send(ctx, a, req.InquiryID, req.Content)
	if err != nil {
		return nil, err
	}
	out := apiconv.Message(*m)
	return &out, nil
}
