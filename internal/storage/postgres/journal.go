package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/domain/checkout"
)

const (
	recordPaymentSQL = `INSERT INTO paid_orders
		(order_id, payment_id, coupon_code, subtotal, tax, discount, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING`

	markSubmittedSQL = `UPDATE paid_orders SET submitted_at = now()
		WHERE order_id = $1 AND submitted_at IS NULL`

	unsubmittedSQL = `SELECT count(*), COALESCE(sum(total), 0) FROM paid_orders WHERE submitted_at IS NULL`
)

var _ checkout.Journal = (*Journal)(nil)

// Journal records captured payments in paid_orders, so orders the backend
// never accepted can be found and replayed by hand.
type Journal struct {
	q querier
}

// NewJournal returns a Journal that uses the given pool (or transaction).
func NewJournal(q querier) *Journal {
	return &Journal{q: q}
}

// RecordPayment stores a captured order. Recording the same order twice is a
// no-op.
func (j *Journal) RecordPayment(ctx context.Context, o *checkout.Order) error {
	if _, err := j.q.Exec(ctx, recordPaymentSQL,
		o.ID, o.PaymentID, o.CouponCode,
		o.Subtotal, o.Tax, o.Discount, o.Total,
		o.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "record payment for order %s", o.ID)
	}
	return nil
}

// MarkSubmitted flags the order as accepted by the backend.
func (j *Journal) MarkSubmitted(ctx context.Context, orderID string) error {
	if _, err := j.q.Exec(ctx, markSubmittedSQL, orderID); err != nil {
		return errors.Wrapf(err, "mark order %s submitted", orderID)
	}
	return nil
}

// Unsubmitted returns how many paid orders the backend has not accepted and
// their combined total.
func (j *Journal) Unsubmitted(ctx context.Context) (int, decimal.Decimal, error) {
	var (
		n     int
		total decimal.Decimal
	)
	if err := j.q.QueryRow(ctx, unsubmittedSQL).Scan(&n, &total); err != nil {
		return 0, decimal.Zero, errors.Wrap(err, "count unsubmitted orders")
	}
	return n, total, nil
}
