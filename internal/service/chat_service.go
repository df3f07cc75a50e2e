package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/metrics"
	"github.com/cwrk-planet/inquiry-service/internal/repository"
)

type Subscriber interface {
	Subscribe(ctx context.Context, inquiryID string) (*fanout.Subscription, error)
}

type ChatConfig struct {
	MaxMessageLen   int
	DefaultPageSize int
	MaxPageSize     int
}

type ChatService struct {
	inquiries repository.InquiryRepository
	messages  repository.MessageRepository
	events    fanout.Publisher
	subs      Subscriber
	cfg       ChatConfig
}

func NewChatService(
	inquiries repository.InquiryRepository,
	messages repository.MessageRepository,
	events fanout.Publisher,
	subs Subscriber,
	cfg ChatConfig,
) *ChatService {
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = domain.DefaultMaxMessageLen
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	return &ChatService{
		inquiries: inquiries,
		messages:  messages,
		events:    events,
		subs:      subs,
		cfg:       cfg,
	}
}

// Send: sendMessage. Гейт и принадлежность отправителя проверяются хранилищем
// на текущем статусе в той же транзакции, что и запись.
func (s *ChatService) Send(ctx context.Context, actor domain.Actor, inquiryID, content string) (*domain.Message, error) {
	content, err := domain.NormalizeContent(content, s.cfg.MaxMessageLen)
	if err != nil {
		metrics.RecordMessageRejected("validation")
		return nil, err
	}

	m, err := s.messages.Append(ctx, inquiryID, actor.UserID, content)
	if err != nil {
		metrics.RecordMessageRejected(rejectReason(err))
		return nil, fmt.Errorf("messages.Append: %w", err)
	}
	metrics.RecordMessageAppended()

	ev := fanout.MessageEvent(*m)
	perr := s.events.Publish(context.WithoutCancel(ctx), ev)
	metrics.RecordPublish(string(ev.Kind), perr)
	if perr != nil {
		slog.Error("service.ChatService.Send.publish:", slog.Any("err", perr), "inquiry", inquiryID, "seq", m.Seq)
	}
	return m, nil
}

// List: listMessages: сообщения после курсора по возрастанию seq.
// nextCursor всегда указывает на последнее отданное сообщение (или равен входному).
func (s *ChatService) List(ctx context.Context, actor domain.Actor, inquiryID, cursor string, limit int) ([]domain.Message, string, error) {
	after, err := repository.DecodeSeqCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	if _, err := s.authorizeRead(ctx, actor, inquiryID); err != nil {
		return nil, "", err
	}

	msgs, err := s.messages.ListSince(ctx, inquiryID, after, limit)
	if err != nil {
		return nil, "", fmt.Errorf("messages.ListSince: %w", err)
	}
	next := repository.EncodeSeqCursor(after)
	if n := len(msgs); n > 0 {
		next = repository.EncodeSeqCursor(msgs[n-1].Seq)
	}
	return msgs, next, nil
}

// Subscribe: subscribe: подписка на события одной переписки.
func (s *ChatService) Subscribe(ctx context.Context, actor domain.Actor, inquiryID string) (*fanout.Subscription, *domain.Inquiry, error) {
	inq, err := s.authorizeRead(ctx, actor, inquiryID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.subs.Subscribe(ctx, inquiryID)
	if err != nil {
		return nil, nil, fmt.Errorf("subs.Subscribe: %w", err)
	}
	// статус перечитываем после регистрации, чтобы не потерять переход между чтением и подпиской
	if fresh, err := s.inquiries.Get(ctx, inquiryID); err == nil {
		inq = fresh
	}
	return sub, inq, nil
}

func (s *ChatService) authorizeRead(ctx context.Context, actor domain.Actor, inquiryID string) (*domain.Inquiry, error) {
	inq, err := s.inquiries.Get(ctx, inquiryID)
	if err != nil {
		return nil, fmt.Errorf("inquiries.Get: %w", err)
	}
	if err := inq.CanRead(actor); err != nil {
		return nil, err
	}
	return inq, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrConversationNotOpen):
		return "not_open"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInquiryNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	default:
		return "io"
	}
}
