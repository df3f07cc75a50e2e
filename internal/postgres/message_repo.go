package postgres

import (
	"context"
	"errors"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

var _ repository.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append: гейт проверяется на строке, заблокированной FOR UPDATE в той же транзакции,
// поэтому устаревший статус на клиенте не может открыть запись.
func (r *MessageRepository) Append(ctx context.Context, inquiryID, senderID, content string) (*domain.Message, error) {
	if !validID(inquiryID) {
		return nil, domain.ErrInquiryNotFound
	}

	m := &domain.Message{
		InquiryID: inquiryID,
		SenderID:  senderID,
		Content:   content,
	}
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		inq, err := scanInquiry(tx.QueryRow(ctx, QueryLockInquiry, inquiryID))
		if err != nil {
			return err
		}
		if err := inq.CheckAppend(senderID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, QueryBumpInquirySeq, inquiryID).Scan(&m.Seq); err != nil {
			return mapPgError(err)
		}
		if err := tx.QueryRow(ctx, QueryInsertMessage, inquiryID, m.Seq, senderID, content).Scan(&m.ID, &m.CreatedAt); err != nil {
			return mapPgError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) ListSince(ctx context.Context, inquiryID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if !validID(inquiryID) {
		return nil, domain.ErrInquiryNotFound
	}
	rows, err := r.db.Query(ctx, QueryListMessagesSince, inquiryID, afterSeq, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.InquiryID, &m.Seq, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

func (r *MessageRepository) Head(ctx context.Context, inquiryID string) (int64, error) {
	if !validID(inquiryID) {
		return 0, domain.ErrInquiryNotFound
	}
	var head int64
	if err := r.db.QueryRow(ctx, QueryInquiryHead, inquiryID).Scan(&head); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrInquiryNotFound
		}
		return 0, mapPgError(err)
	}
	return head, nil
}
