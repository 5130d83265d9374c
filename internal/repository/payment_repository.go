package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/massmindmaker/fotoset-sub002/internal/models"
)

// ErrAlreadyRefunded signals a second refund attempt against a payment that
// already left the succeeded state. Callers must treat it as a conflict, not
// retry it.
var ErrAlreadyRefunded = errors.New("payment is not refundable in its current status")

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, user_id, job_id, provider, COALESCE(provider_charge_id, ''), currency, amount, status, COALESCE(raw_payload, ''), created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, job_id, provider, provider_charge_id, currency, amount, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.JobID, payment.Provider, payment.ProviderCharge, payment.Currency, payment.Amount, payment.Status, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	return scanPayment(r.db.QueryRowContext(ctx, query, id))
}

func (r *PaymentRepository) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = ? AND provider_charge_id = ? LIMIT 1`
	return scanPayment(r.db.QueryRowContext(ctx, query, provider, chargeID))
}

// HasSucceeded reports whether the user has any succeeded payment. This is
// the minimum entitlement gate before expensive generation work starts.
func (r *PaymentRepository) HasSucceeded(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT COUNT(*) FROM payments WHERE user_id = ? AND status = ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, models.PaymentStatusSucceeded).Scan(&count); err != nil {
		return false, fmt.Errorf("count succeeded payments: %w", err)
	}
	return count > 0, nil
}

// FindLatestSucceededByUser returns the user's most recent succeeded payment,
// preferring one not yet consumed by a job.
func (r *PaymentRepository) FindLatestSucceededByUser(ctx context.Context, userID int64) (*models.Payment, error) {
	query := `
SELECT ` + paymentColumns + ` FROM payments
WHERE user_id = ? AND status = ?
ORDER BY (job_id IS NULL) DESC, id DESC
LIMIT 1`
	return scanPayment(r.db.QueryRowContext(ctx, query, userID, models.PaymentStatusSucceeded))
}

// FindByJob returns the payment explicitly linked to the job, whatever its
// status. Compensation inspects the status itself to detect an already
// refunded payment.
func (r *PaymentRepository) FindByJob(ctx context.Context, jobID int64) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE job_id = ? ORDER BY id DESC LIMIT 1`
	return scanPayment(r.db.QueryRowContext(ctx, query, jobID))
}

// AttachJob links the payment to the job it funded.
func (r *PaymentRepository) AttachJob(ctx context.Context, paymentID, jobID int64) error {
	const query = `UPDATE payments SET job_id = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, jobID, paymentID); err != nil {
		return fmt.Errorf("attach job to payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus, payload string) error {
	const query = `UPDATE payments SET status = ?, raw_payload = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, payload, paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// MarkRefunded flips a succeeded payment to refunded. The guarded UPDATE
// makes a repeated attempt surface as ErrAlreadyRefunded instead of silently
// refunding twice.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, paymentID int64, payload string) error {
	const query = `UPDATE payments SET status = ?, raw_payload = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, models.PaymentStatusRefunded, payload, paymentID, models.PaymentStatusSucceeded)
	if err != nil {
		return fmt.Errorf("mark payment refunded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyRefunded
	}
	return nil
}

func scanPayment(row *sql.Row) (*models.Payment, error) {
	var p models.Payment
	var jobID sql.NullInt64
	if err := row.Scan(&p.ID, &p.UserID, &jobID, &p.Provider, &p.ProviderCharge, &p.Currency, &p.Amount, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if jobID.Valid {
		p.JobID = &jobID.Int64
	}
	return &p, nil
}
