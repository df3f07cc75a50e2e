package repository

import (
	"context"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
)

// InquiryFilter: кого видит актор в listInquiries.
// Пустые BrandUserID и CreatorUserID означают «все» (админ).
type InquiryFilter struct {
	BrandUserID   string
	CreatorUserID string
	Status        domain.Status
}

type InquiryRepository interface {
	// Создает заявку, проставляет ID и CreatedAt
	Create(ctx context.Context, inq *domain.Inquiry) error
	Get(ctx context.Context, id string) (*domain.Inquiry, error)
	// Список по (created_at DESC, id DESC)
	List(ctx context.Context, f InquiryFilter, limit int, cursor string) ([]domain.Inquiry, string, error)
	// Transition читает заявку под блокировкой, применяет fn и сохраняет статус.
	// Если fn вернула ошибку, ничего не пишется.
	Transition(ctx context.Context, id string, fn func(inq *domain.Inquiry) error) (*domain.Inquiry, error)
}

type MessageRepository interface {
	// Append атомарно: блокировка заявки, CheckAppend, seq+1, вставка
	Append(ctx context.Context, inquiryID, senderID, content string) (*domain.Message, error)
	// ListSince возвращает сообщения с seq > afterSeq по возрастанию
	ListSince(ctx context.Context, inquiryID string, afterSeq int64, limit int) ([]domain.Message, error)
	// Head: seq последнего сообщения (0, если сообщений нет)
	Head(ctx context.Context, inquiryID string) (int64, error)
}

type ProfileRepository interface {
	BrandByUser(ctx context.Context, userID string) (*domain.Profile, error)
	CreatorByUser(ctx context.Context, userID string) (*domain.Profile, error)
	Creator(ctx context.Context, creatorID string) (*domain.Profile, error)
}
