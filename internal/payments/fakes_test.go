package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hallhub/backend/internal/gateway"
	"github.com/hallhub/backend/internal/models"
)

type txCtxKey struct{}

// memStore is an in-memory PaymentStore, BookingStore, CustomerReader and TxRunner.
// Transactions are serialized and rolled back from a snapshot on error, which is enough
// to model row locks for a single process.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	payments  map[uuid.UUID]models.Payment
	bookings  map[uuid.UUID]models.Booking
	customers map[uuid.UUID]models.Customer
	refunds   []models.PaymentRefund

	markPaidCalls   int
	createRefundErr error
}

func newMemStore() *memStore {
	return &memStore{
		payments:  map[uuid.UUID]models.Payment{},
		bookings:  map[uuid.UUID]models.Booking{},
		customers: map[uuid.UUID]models.Customer{},
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txCtxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	payments := make(map[uuid.UUID]models.Payment, len(m.payments))
	for k, v := range m.payments {
		payments[k] = v
	}
	bookings := make(map[uuid.UUID]models.Booking, len(m.bookings))
	for k, v := range m.bookings {
		bookings[k] = v
	}
	refunds := append([]models.PaymentRefund(nil), m.refunds...)
	markPaid := m.markPaidCalls
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, txCtxKey{}, true)); err != nil {
		m.mu.Lock()
		m.payments, m.bookings, m.refunds, m.markPaidCalls = payments, bookings, refunds, markPaid
		m.mu.Unlock()
		return err
	}
	return nil
}

// payments

func (m *memStore) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.PaymentGateway == p.PaymentGateway && existing.CheckoutID == p.CheckoutID {
			return errors.New("duplicate checkout")
		}
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.payments[p.ID] = *p
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) GetByCheckoutID(_ context.Context, checkoutID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.CheckoutID == checkoutID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memStore) HasSuccessfulPayment(_ context.Context, bookingID, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.BookingID == bookingID && p.ID != exclude && p.Status == models.PaymentStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkSuccess(_ context.Context, id uuid.UUID, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusSuccess
	p.TransactionID = orKeep(t.TransactionID, p.TransactionID)
	p.PaymentBrand = orKeep(t.PaymentBrand, p.PaymentBrand)
	p.ResultCode = orKeep(t.ResultCode, p.ResultCode)
	if t.Card != nil {
		p.CardBin, p.CardLast4, p.CardHolder = t.Card.Bin, t.Card.Last4, t.Card.Holder
		p.CardExpiryMonth, p.CardExpiryYear = t.Card.ExpiryMonth, t.Card.ExpiryYear
	}
	at := t.At
	p.CompletedAt = &at
	m.payments[id] = p
	return true, nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.TransactionID = orKeep(t.TransactionID, p.TransactionID)
	p.ResultCode = orKeep(t.ResultCode, p.ResultCode)
	p.FailureReason = t.FailureReason
	at := t.At
	p.FailedAt = &at
	m.payments[id] = p
	return true, nil
}

func (m *memStore) SaveWebhookPayload(_ context.Context, id uuid.UUID, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payments[id]
	p.WebhookPayload = payload
	m.payments[id] = p
	return nil
}

func (m *memStore) RecordPoll(_ context.Context, id uuid.UUID, response []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.payments[id]
	if response != nil {
		p.StatusResponse = response
	}
	p.LastPolledAt = &at
	m.payments[id] = p
	return nil
}

func (m *memStore) AddRefund(_ context.Context, id uuid.UUID, amount decimal.Decimal, full bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != models.PaymentStatusSuccess {
		return ErrNotRefundable
	}
	p.RefundAmount = p.RefundAmount.Add(amount)
	if full {
		p.Status = models.PaymentStatusRefunded
	}
	m.payments[id] = p
	return nil
}

func (m *memStore) CreateRefund(_ context.Context, r *models.PaymentRefund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createRefundErr != nil {
		return m.createRefundErr
	}
	r.CreatedAt = time.Now()
	m.refunds = append(m.refunds, *r)
	return nil
}

func (m *memStore) ListRefunds(_ context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRefund
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	// never polled first, then least recently polled, then oldest
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastPolledAt, out[j].LastPolledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// bookings and customers, behind a separate type so method names do not clash.

type memBookings struct{ *memStore }

func (b memBookings) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.bookings[id]
	if !ok {
		return nil, nil
	}
	return &bk, nil
}

func (b memBookings) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return b.GetByID(ctx, id)
}

func (b memBookings) MarkPaid(_ context.Context, id uuid.UUID, paidAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.bookings[id]
	if !ok || bk.IsCancelled() {
		return errors.New("booking not found or cancelled")
	}
	bk.Status = models.BookingStatusConfirmed
	bk.PaymentStatus = models.BookingPaymentPaid
	bk.PaidAt = &paidAt
	b.bookings[id] = bk
	b.markPaidCalls++
	return nil
}

func (b memBookings) SetPaymentStatus(_ context.Context, id uuid.UUID, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk := b.bookings[id]
	bk.PaymentStatus = status
	b.bookings[id] = bk
	return nil
}

func (m *memStore) GetProfile(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) booking(id uuid.UUID) models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id]
}

func (m *memStore) payment(id uuid.UUID) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id]
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memStore) refundRows() []models.PaymentRefund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentRefund(nil), m.refunds...)
}

func orKeep(v, old string) string {
	if v == "" {
		return old
	}
	return v
}

// testWebhook is the body format the fake provider parses in these tests.
type testWebhook struct {
	CheckoutID    string `json:"checkout_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

func parseTestWebhook(payload []byte) (gateway.WebhookData, error) {
	var w testWebhook
	if err := json.Unmarshal(payload, &w); err != nil || w.CheckoutID == "" {
		return gateway.WebhookData{}, gateway.ErrMalformedPayload
	}
	amount, err := gateway.ParseAmount(w.Amount)
	if err != nil {
		return gateway.WebhookData{}, gateway.ErrMalformedPayload
	}
	return gateway.WebhookData{
		CheckoutID:    w.CheckoutID,
		TransactionID: w.TransactionID,
		Status:        gateway.Status(w.Status),
		NativeStatus:  w.Status,
		Amount:        amount,
		RawPayload:    payload,
	}, nil
}
