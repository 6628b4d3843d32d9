package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
)

const customerColumns = `
	id, COALESCE(first_name, ''), COALESCE(last_name, ''),
	COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''),
	COALESCE(notes, ''), created_at`

type CustomerRepository struct {
	pool *db.Pool
}

func NewCustomerRepository(pool *db.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id)
	return scanCustomer(row)
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE lower(email) = lower($1)
		ORDER BY id ASC
		LIMIT 1
	`, email)
	return scanCustomer(row)
}

func (r *CustomerRepository) FindByPhone(ctx context.Context, phone string) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE phone = $1
		ORDER BY id ASC
		LIMIT 1
	`, phone)
	return scanCustomer(row)
}

func (r *CustomerRepository) Create(ctx context.Context, tx pgx.Tx, c *model.Customer) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO customers (first_name, last_name, email, phone, address, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.FirstName, c.LastName, c.Email, c.Phone, c.Address, c.Notes).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Address, &c.Notes, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
