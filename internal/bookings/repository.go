// Package bookings reads hall bookings and applies the payment side of their lifecycle.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hallhub/backend/internal/models"
	"github.com/hallhub/backend/pkg/database"
)

const bookingColumns = `id, customer_id, hall_id, hall_name, event_date, hall_cost, total_amount, currency,
	status, payment_status, paid_at, created_at, updated_at`

// Repository handles booking persistence. Calls join the transaction in ctx, if any.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a bookings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context) database.Querier {
	return database.Conn(ctx, r.pool)
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.CustomerID, &b.HallID, &b.HallName, &b.EventDate, &b.HallCost, &b.TotalAmount, &b.Currency,
		&b.Status, &b.PaymentStatus, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByID returns a booking with its vendor services, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := scanBooking(r.db(ctx).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil || b == nil {
		return b, err
	}
	if b.Services, err = r.listServices(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

// GetForUpdate locks the booking row until the transaction ends. Services are not loaded.
func (r *Repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return scanBooking(r.db(ctx).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) listServices(ctx context.Context, bookingID uuid.UUID) ([]models.BookingService, error) {
	const q = `SELECT id, vendor_name, service_name, quantity, unit_price FROM booking_services
		WHERE booking_id = $1 ORDER BY vendor_name, service_name`
	rows, err := r.db(ctx).Query(ctx, q, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list booking services: %w", err)
	}
	defer rows.Close()
	var list []models.BookingService
	for rows.Next() {
		var s models.BookingService
		if err := rows.Scan(&s.ID, &s.VendorName, &s.ServiceName, &s.Quantity, &s.UnitPrice); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ErrNotConfirmable is returned by MarkPaid for a missing or cancelled booking.
var ErrNotConfirmable = errors.New("booking not found or cancelled")

// MarkPaid confirms the booking after a successful payment. A cancelled booking is never
// switched back to confirmed.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	const q = `UPDATE bookings SET status = $2, payment_status = $3, paid_at = $4, updated_at = NOW()
		WHERE id = $1 AND status <> $5`
	tag, err := r.db(ctx).Exec(ctx, q, id, models.BookingStatusConfirmed, models.BookingPaymentPaid, paidAt, models.BookingStatusCancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", id, ErrNotConfirmable)
	}
	return nil
}

// SetPaymentStatus updates only the payment signal of a booking.
func (r *Repository) SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db(ctx).Exec(ctx, `UPDATE bookings SET payment_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s not found", id)
	}
	return nil
}
