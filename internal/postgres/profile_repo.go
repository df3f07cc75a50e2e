package postgres

import (
	"context"
	"errors"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository читает профили брендов и креаторов, которыми владеет каталог.
type ProfileRepository struct {
	q querier
}

var _ repository.ProfileRepository = (*ProfileRepository)(nil)

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{q: db}
}

func (r *ProfileRepository) BrandByUser(ctx context.Context, userID string) (*domain.Profile, error) {
	return r.getOne(ctx, QueryBrandByUser, userID, domain.ProfileBrand)
}

func (r *ProfileRepository) CreatorByUser(ctx context.Context, userID string) (*domain.Profile, error) {
	return r.getOne(ctx, QueryCreatorByUser, userID, domain.ProfileCreator)
}

func (r *ProfileRepository) Creator(ctx context.Context, creatorID string) (*domain.Profile, error) {
	if !validID(creatorID) {
		return nil, domain.ErrProfileNotFound
	}
	return r.getOne(ctx, QueryCreatorByID, creatorID, domain.ProfileCreator)
}

func (r *ProfileRepository) getOne(ctx context.Context, sql string, arg any, kind domain.ProfileKind) (*domain.Profile, error) {
	p := domain.Profile{Kind: kind}
	err := r.q.QueryRow(ctx, sql, arg).Scan(&p.ID, &p.UserID, &p.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, mapPgError(err)
	}
	return &p, nil
}
