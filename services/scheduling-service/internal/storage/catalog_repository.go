package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
)

// CatalogRepository looks up services and locations referenced by bookings.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) ServiceByID(ctx context.Context, id int64) (*model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMin, &svc.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *CatalogRepository) LocationByID(ctx context.Context, id int64) (*model.LocationSnapshot, error) {
	var loc model.LocationSnapshot
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(address, ''), COALESCE(contact, '')
		FROM locations
		WHERE id = $1 AND active
	`, id).Scan(&loc.ID, &loc.Name, &loc.Address, &loc.Contact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}
