package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/metrics"
	"github.com/cwrk-planet/inquiry-service/internal/repository"
)

const (
	defaultInquiryPage = 20
	maxInquiryPage     = 50
)

type InquiryService struct {
	inquiries repository.InquiryRepository
	profiles  repository.ProfileRepository
	events    fanout.Publisher
	now       func() time.Time
}

func NewInquiryService(inquiries repository.InquiryRepository, profiles repository.ProfileRepository, events fanout.Publisher) *InquiryService {
	return &InquiryService{
		inquiries: inquiries,
		profiles:  profiles,
		events:    events,
		now:       time.Now,
	}
}

// Create: createInquiry: только бренд, заявка стартует в pending.
func (s *InquiryService) Create(ctx context.Context, actor domain.Actor, creatorID, message string) (*domain.Inquiry, error) {
	if actor.Role != domain.RoleBrand {
		return nil, fmt.Errorf("%w: only a brand may submit an inquiry", domain.ErrInvalidRole)
	}
	brand, err := s.profiles.BrandByUser(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, fmt.Errorf("%w: actor has no brand profile", domain.ErrForbidden)
		}
		return nil, fmt.Errorf("profiles.BrandByUser: %w", err)
	}
	creator, err := s.profiles.Creator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("profiles.Creator: %w", err)
	}

	inq, err := domain.Submit(actor, *brand, *creator, message, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.inquiries.Create(ctx, inq); err != nil {
		return nil, fmt.Errorf("inquiries.Create: %w", err)
	}
	metrics.RecordInquiryCreated()
	slog.Info("inquiry created", "inquiry", inq.ID, "brand", inq.BrandID, "creator", inq.CreatorID)
	return inq, nil
}

// List: listInquiries. Видимость зависит от роли, админ видит все заявки.
func (s *InquiryService) List(ctx context.Context, actor domain.Actor, status string, limit int, cursor string) ([]domain.Inquiry, string, error) {
	if limit <= 0 {
		limit = defaultInquiryPage
	}
	if limit > maxInquiryPage {
		limit = maxInquiryPage
	}

	var f repository.InquiryFilter
	switch actor.Role {
	case domain.RoleBrand:
		f.BrandUserID = actor.UserID
	case domain.RoleCreator:
		f.CreatorUserID = actor.UserID
	case domain.RoleAdmin:
	default:
		return nil, "", fmt.Errorf("%w: %q", domain.ErrInvalidRole, actor.Role)
	}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return nil, "", err
		}
		f.Status = st
	}

	items, next, err := s.inquiries.List(ctx, f, limit, cursor)
	if err != nil {
		return nil, "", fmt.Errorf("inquiries.List: %w", err)
	}
	return items, next, nil
}

func (s *InquiryService) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Inquiry, error) {
	inq, err := s.inquiries.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inquiries.Get: %w", err)
	}
	if err := inq.CanRead(actor); err != nil {
		return nil, err
	}
	return inq, nil
}

// Respond: respondToInquiry. Переход выполняется под блокировкой строки,
// событие о смене статуса уходит подписчикам после коммита.
func (s *InquiryService) Respond(ctx context.Context, actor domain.Actor, id string, decision domain.Decision) (*domain.Inquiry, error) {
	inq, err := s.inquiries.Transition(ctx, id, func(inq *domain.Inquiry) error {
		return inq.Respond(actor, decision, s.now())
	})
	metrics.RecordTransition(string(decision), err)
	if err != nil {
		return nil, fmt.Errorf("inquiries.Transition: %w", err)
	}
	slog.Info("inquiry status changed", "inquiry", inq.ID, "status", inq.Status, "by", actor.UserID)

	s.publish(ctx, fanout.StatusEvent(inq.StatusChange(actor.UserID)))
	return inq, nil
}

// publish: доставка best-effort, ошибка только логируется.
func (s *InquiryService) publish(ctx context.Context, ev fanout.Event) {
	err := s.events.Publish(context.WithoutCancel(ctx), ev)
	metrics.RecordPublish(string(ev.Kind), err)
	if err != nil {
		slog.Error("service.InquiryService.publish:", slog.Any("err", err), "inquiry", ev.InquiryID)
	}
}
