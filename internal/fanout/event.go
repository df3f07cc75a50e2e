package fanout

import (
	"context"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindStatus  Kind = "inquiry_status"
)

type Event struct {
	Kind      Kind                 `json:"kind"`
	InquiryID string               `json:"inquiry_id"`
	Message   *domain.Message      `json:"message,omitempty"`
	Status    *domain.StatusChange `json:"status,omitempty"`
}

func MessageEvent(m domain.Message) Event {
	return Event{Kind: KindMessage, InquiryID: m.InquiryID, Message: &m}
}

func StatusEvent(c domain.StatusChange) Event {
	return Event{Kind: KindStatus, InquiryID: c.InquiryID, Status: &c}
}

// Publisher отдаёт событие брокеру. Вызывается после коммита.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LocalBroker — один инстанс: событие сразу уходит в локальный hub.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(ctx context.Context, ev Event) error {
	b.hub.Dispatch(ctx, ev)
	return nil
}
