// Package apiconv переводит доменные типы в DTO из pkg/api.
package apiconv

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/pkg/api"
)

func Inquiry(i domain.Inquiry) api.Inquiry {
	return api.Inquiry{
		ID:            i.ID,
		BrandID:       i.BrandID,
		CreatorID:     i.CreatorID,
		BrandUserID:   i.BrandUserID,
		CreatorUserID: i.CreatorUserID,
		Message:       i.Message,
		Status:        string(i.Status),
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

func Inquiries(in []domain.Inquiry) []api.Inquiry {
	out := make([]api.Inquiry, 0, len(in))
	for _, i := range in {
		out = append(out, Inquiry(i))
	}
	return out
}

func Message(m domain.Message) api.Message {
	return api.Message{
		ID:        m.ID,
		InquiryID: m.InquiryID,
		Seq:       m.Seq,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func Messages(in []domain.Message) []api.Message {
	out := make([]api.Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message(m))
	}
	return out
}

func StatusChange(c domain.StatusChange) api.InquiryStatusChanged {
	return api.InquiryStatusChanged{
		InquiryID: c.InquiryID,
		Status:    string(c.Status),
		ChangedBy: c.ChangedBy,
		ChangedAt: c.ChangedAt,
	}
}

// Frame превращает событие фанаута в WS-фрейм.
func Frame(ev fanout.Event) (api.Frame, error) {
	switch ev.Kind {
	case fanout.KindMessage:
		if ev.Message == nil {
			return api.Frame{}, errors.New("message event without message")
		}
		return api.NewFrame(api.FrameMessage, Message(*ev.Message))
	case fanout.KindStatus:
		if ev.Status == nil {
			return api.Frame{}, errors.New("status event without status")
		}
		return api.NewFrame(api.FrameInquiryStatus, StatusChange(*ev.Status))
	default:
		return api.Frame{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// ErrorCode — стабильный код ошибки и HTTP-статус для доменной ошибки.
func ErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return api.CodeUnauthenticated, http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return api.CodeForbidden, http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidRole):
		return api.CodeInvalidRole, http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition):
		return api.CodeInvalidTransition, http.StatusConflict
	case errors.Is(err, domain.ErrConversationNotOpen):
		return api.CodeConversationNotOpen, http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return api.CodeValidation, http.StatusBadRequest
	case errors.Is(err, domain.ErrTransientIO):
		return api.CodeTransientIO, http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInquiryNotFound), errors.Is(err, domain.ErrProfileNotFound):
		return api.CodeNotFound, http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCursor):
		return api.CodeInvalidCursor, http.StatusBadRequest
	default:
		return api.CodeInternal, http.StatusInternalServerError
	}
}
