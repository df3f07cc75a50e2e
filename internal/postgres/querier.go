package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwrk-planet/inquiry-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

/*
абстрактный слой над *pgxpool.Pool / pgx.Tx
чтобы запросы можно было делать атомарно а не по одному
*/
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)

// inTx выполняет fn в транзакции; при ошибке fn делается rollback.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

func scanInquiry(row pgx.Row) (*domain.Inquiry, error) {
	var (
		inq    domain.Inquiry
		status string
	)
	err := row.Scan(
		&inq.ID,
		&inq.BrandID,
		&inq.CreatorID,
		&inq.BrandUserID,
		&inq.CreatorUserID,
		&inq.Message,
		&status,
		&inq.LastSeq,
		&inq.CreatedAt,
		&inq.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInquiryNotFound
		}
		return nil, mapPgError(err)
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("inquiry %s: %w", inq.ID, err)
	}
	inq.Status = st
	return &inq, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, pgErr.ConstraintName)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.ConstraintName)
		}
	}
	// остальное считаем сбоем хранилища, исход неизвестен
	return fmt.Errorf("%w: %v", domain.ErrTransientIO, err)
}
