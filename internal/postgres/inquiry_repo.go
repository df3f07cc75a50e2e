package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/repository"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InquiryRepository struct {
	db *pgxpool.Pool
}

var _ repository.InquiryRepository = (*InquiryRepository)(nil)

func NewInquiryRepository(db *pgxpool.Pool) *InquiryRepository {
	return &InquiryRepository{db: db}
}

func (r *InquiryRepository) Create(ctx context.Context, inq *domain.Inquiry) error {
	err := r.db.QueryRow(ctx, QueryCreateInquiry,
		inq.BrandID,
		inq.CreatorID,
		inq.BrandUserID,
		inq.CreatorUserID,
		inq.Message,
		string(inq.Status),
	).Scan(&inq.ID, &inq.CreatedAt, &inq.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	inq.LastSeq = 0
	return nil
}

func (r *InquiryRepository) Get(ctx context.Context, id string) (*domain.Inquiry, error) {
	if !validID(id) {
		return nil, domain.ErrInquiryNotFound
	}
	return scanInquiry(r.db.QueryRow(ctx, QueryGetInquiry, id))
}

// List: keyset-пагинация (created_at DESC, id DESC); фильтры собираются построителем.
func (r *InquiryRepository) List(ctx context.Context, f repository.InquiryFilter, limit int, cursor string) ([]domain.Inquiry, string, error) {
	cur, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query, args, err := buildListQuery(f, limit, cur)
	if err != nil {
		return nil, "", err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Inquiry, 0, limit)
	for rows.Next() {
		inq, err := scanInquiry(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *inq)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapPgError(err)
	}

	var next string
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		if c, e := repository.EncodeCursor(repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}

// Transition — защищён от гонок: два параллельных respond по одной заявке
// выполняются строго по очереди, второй увидит уже изменённый статус.
func (r *InquiryRepository) Transition(ctx context.Context, id string, fn func(inq *domain.Inquiry) error) (*domain.Inquiry, error) {
	if !validID(id) {
		return nil, domain.ErrInquiryNotFound
	}

	var out *domain.Inquiry
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		inq, err := scanInquiry(tx.QueryRow(ctx, QueryLockInquiry, id))
		if err != nil {
			return err
		}
		if err := fn(inq); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, QueryUpdateInquiryStatus, inq.ID, string(inq.Status), inq.UpdatedAt); err != nil {
			return mapPgError(err)
		}
		out = inq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func buildListQuery(f repository.InquiryFilter, limit int, cur *repository.Cursor) (string, []any, error) {
	qb := sq.Select(inquiryColumns...).
		From("inquiries").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit + 1))
	if f.BrandUserID != "" {
		qb = qb.Where(sq.Eq{"brand_user_id": f.BrandUserID})
	}
	if f.CreatorUserID != "" {
		qb = qb.Where(sq.Eq{"creator_user_id": f.CreatorUserID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"status": string(f.Status)})
	}
	if cur != nil {
		qb = qb.Where(sq.Or{
			sq.Lt{"created_at": cur.CreatedAt},
			sq.And{sq.Eq{"created_at": cur.CreatedAt}, sq.Lt{"id": cur.ID}},
		})
	}

	query, args, err := qb.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build list query: %w", err)
	}
	return query, args, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
