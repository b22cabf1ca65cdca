package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hallhub/backend/internal/models"
	"github.com/hallhub/backend/pkg/database"
)

const paymentColumns = `id, booking_id, customer_id, payment_gateway, payment_brand, checkout_id, transaction_id,
	amount, currency, refund_amount, status, card_bin, card_last4, card_holder, card_expiry_month, card_expiry_year,
	result_code, failure_reason, checkout_response, webhook_payload, status_response, last_polled_at,
	expires_at, completed_at, failed_at, created_at, updated_at`

// Repository handles payment and refund persistence. Calls join the transaction in ctx, if any.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context) database.Querier {
	return database.Conn(ctx, r.pool)
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.BookingID, &p.CustomerID, &p.PaymentGateway, &p.PaymentBrand, &p.CheckoutID, &p.TransactionID,
		&p.Amount, &p.Currency, &p.RefundAmount, &p.Status, &p.CardBin, &p.CardLast4, &p.CardHolder, &p.CardExpiryMonth, &p.CardExpiryYear,
		&p.ResultCode, &p.FailureReason, &p.CheckoutResponse, &p.WebhookPayload, &p.StatusResponse, &p.LastPolledAt,
		&p.ExpiresAt, &p.CompletedAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a pending payment.
func (r *Repository) Create(ctx context.Context, p *models.Payment) error {
	const q = `INSERT INTO payments (id, booking_id, customer_id, payment_gateway, payment_brand, checkout_id,
		amount, currency, refund_amount, status, checkout_response, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`
	return r.db(ctx).QueryRow(ctx, q, p.ID, p.BookingID, p.CustomerID, p.PaymentGateway, p.PaymentBrand, p.CheckoutID,
		p.Amount, p.Currency, p.RefundAmount, p.Status, p.CheckoutResponse, p.ExpiresAt).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns a payment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.db(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetForUpdate returns a payment and locks its row until the transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.db(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

// GetByCheckoutID returns the newest payment with the provider checkout id.
func (r *Repository) GetByCheckoutID(ctx context.Context, checkoutID string) (*models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE checkout_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanPayment(r.db(ctx).QueryRow(ctx, q, checkoutID))
}

// HasSuccessfulPayment reports whether the booking has a successful payment other than exclude.
func (r *Repository) HasSuccessfulPayment(ctx context.Context, bookingID, exclude uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1 AND status = 'success' AND id <> $2)`
	var ok bool
	err := r.db(ctx).QueryRow(ctx, q, bookingID, exclude).Scan(&ok)
	return ok, err
}

// MarkSuccess moves a pending payment to success. Provider fields only overwrite when set.
func (r *Repository) MarkSuccess(ctx context.Context, id uuid.UUID, t Transition) (bool, error) {
	const q = `UPDATE payments SET status = 'success',
		transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		payment_brand = COALESCE(NULLIF($3, ''), payment_brand),
		result_code = COALESCE(NULLIF($4, ''), result_code),
		card_bin = COALESCE(NULLIF($5, ''), card_bin),
		card_last4 = COALESCE(NULLIF($6, ''), card_last4),
		card_holder = COALESCE(NULLIF($7, ''), card_holder),
		card_expiry_month = COALESCE(NULLIF($8, ''), card_expiry_month),
		card_expiry_year = COALESCE(NULLIF($9, ''), card_expiry_year),
		completed_at = $10, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	bin, last4, holder, month, year := cardArgs(t)
	tag, err := r.db(ctx).Exec(ctx, q, id, t.TransactionID, t.PaymentBrand, t.ResultCode, bin, last4, holder, month, year, t.At)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, fmt.Errorf("%w: %v", ErrAlreadyPaid, err)
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a pending payment to failed.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, t Transition) (bool, error) {
	const q = `UPDATE payments SET status = 'failed',
		transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		result_code = COALESCE(NULLIF($3, ''), result_code),
		failure_reason = $4, failed_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.db(ctx).Exec(ctx, q, id, t.TransactionID, t.ResultCode, t.FailureReason, t.At)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveWebhookPayload stores the latest raw webhook body.
func (r *Repository) SaveWebhookPayload(ctx context.Context, id uuid.UUID, payload []byte) error {
	_, err := r.db(ctx).Exec(ctx, `UPDATE payments SET webhook_payload = $2, updated_at = NOW() WHERE id = $1`, id, payload)
	return err
}

// RecordPoll stamps a status query and keeps its raw response. A nil response keeps the
// previous one.
func (r *Repository) RecordPoll(ctx context.Context, id uuid.UUID, response []byte, at time.Time) error {
	const q = `UPDATE payments SET status_response = COALESCE($2, status_response), last_polled_at = $3
		WHERE id = $1`
	_, err := r.db(ctx).Exec(ctx, q, id, response, at)
	return err
}

// AddRefund adds amount to refund_amount and, when fully refunded, sets status refunded.
func (r *Repository) AddRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, fullyRefunded bool) error {
	const q = `UPDATE payments SET refund_amount = refund_amount + $2,
		status = CASE WHEN $3 THEN 'refunded' ELSE status END,
		updated_at = NOW()
		WHERE id = $1 AND status = 'success'`
	tag, err := r.db(ctx).Exec(ctx, q, id, amount, fullyRefunded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("payment %s: %w", id, ErrNotRefundable)
	}
	return nil
}

// CreateRefund inserts a refund row.
func (r *Repository) CreateRefund(ctx context.Context, rf *models.PaymentRefund) error {
	const q = `INSERT INTO payment_refunds (id, payment_id, refund_amount, reason, status, requested_by,
		refund_transaction_id, raw_response, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	return r.db(ctx).QueryRow(ctx, q, rf.ID, rf.PaymentID, rf.RefundAmount, rf.Reason, rf.Status, rf.RequestedBy,
		rf.RefundTransactionID, rf.RawResponse, rf.ProcessedAt).
		Scan(&rf.CreatedAt)
}

// ListRefunds returns the refunds of a payment, oldest first.
func (r *Repository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error) {
	const q = `SELECT id, payment_id, refund_amount, reason, status, requested_by, refund_transaction_id,
		raw_response, processed_at, created_at
		FROM payment_refunds WHERE payment_id = $1 ORDER BY created_at`
	rows, err := r.db(ctx).Query(ctx, q, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PaymentRefund
	for rows.Next() {
		var rf models.PaymentRefund
		if err := rows.Scan(&rf.ID, &rf.PaymentID, &rf.RefundAmount, &rf.Reason, &rf.Status, &rf.RequestedBy,
			&rf.RefundTransactionID, &rf.RawResponse, &rf.ProcessedAt, &rf.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, rf)
	}
	return list, rows.Err()
}

// ListStalePending returns pending payments created before createdBefore. Never-polled
// payments come first, then the least recently polled, so payments stuck at a provider do
// not starve newer ones.
func (r *Repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY last_polled_at NULLS FIRST, created_at LIMIT $2`
	rows, err := r.db(ctx).Query(ctx, q, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func cardArgs(t Transition) (bin, last4, holder, month, year string) {
	if t.Card == nil {
		return
	}
	return t.Card.Bin, t.Card.Last4, t.Card.Holder, t.Card.ExpiryMonth, t.Card.ExpiryYear
}

var _ PaymentStore = (*Repository)(nil)
