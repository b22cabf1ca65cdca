package customers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hallhub/backend/internal/models"
)

// Repository reads customer profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a customers repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProfile returns the customer, or nil when it does not exist.
func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	const q = `SELECT id, email, phone, first_name, last_name, city, address FROM customers WHERE id = $1`
	var c models.Customer
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Email, &c.Phone, &c.FirstName, &c.LastName, &c.City, &c.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
