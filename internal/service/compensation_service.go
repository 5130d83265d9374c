package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/massmindmaker/fotoset-sub002/internal/models"
	"github.com/massmindmaker/fotoset-sub002/internal/repository"
)

// CompensationResult reports the outcome of one compensation attempt.
type CompensationResult struct {
	Refunded  bool
	PaymentID int64
	Error     string
}

// CompensationService reverses a captured payment after generation work
// failed. It typically runs inside an already-failing request, so it never
// propagates an error upward; everything lands in the result and the log.
type CompensationService struct {
	payments PaymentStore
	ledger   *PaymentService
	jobs     JobStore
	log      *slog.Logger
}

func NewCompensationService(payments PaymentStore, ledger *PaymentService, jobs JobStore, log *slog.Logger) *CompensationService {
	return &CompensationService{
		payments: payments,
		ledger:   ledger,
		jobs:     jobs,
		log:      log,
	}
}

// Compensate refunds the payment that funded the job: the linked payment
// when one exists, else the user's most recent succeeded payment, else
// nothing to reverse. A linked payment that is already refunded stops the
// attempt instead of falling back to another payment.
func (s *CompensationService) Compensate(ctx context.Context, userID, jobID int64) CompensationResult {
	payment, err := s.payments.FindByJob(ctx, jobID)
	if err != nil {
		s.log.Error("compensation: lookup linked payment", "job_id", jobID, "err", err)
		return CompensationResult{Error: fmt.Sprintf("lookup linked payment: %v", err)}
	}

	if payment != nil && payment.Status == models.PaymentStatusRefunded {
		s.log.Warn("compensation: payment already refunded", "job_id", jobID, "payment_id", payment.ID)
		return CompensationResult{PaymentID: payment.ID, Error: "payment already refunded"}
	}

	if payment == nil {
		payment, err = s.payments.FindLatestSucceededByUser(ctx, userID)
		if err != nil {
			s.log.Error("compensation: lookup user payment", "user_id", userID, "err", err)
			return CompensationResult{Error: fmt.Sprintf("lookup user payment: %v", err)}
		}
	}
	if payment == nil {
		// Nothing to reverse; not an error.
		return CompensationResult{}
	}

	reason := fmt.Sprintf("AI photo generation failed for job #%d", jobID)
	result, err := s.ledger.Refund(ctx, payment.ID, 0, reason)
	if err != nil {
		s.log.Error("compensation: refund failed", "job_id", jobID, "payment_id", payment.ID, "err", err)
		return CompensationResult{PaymentID: payment.ID, Error: fmt.Sprintf("refund: %v", err)}
	}
	if !result.OK {
		s.log.Error("compensation: gateway declined refund", "job_id", jobID, "payment_id", payment.ID, "gateway_status", result.GatewayStatus)
		return CompensationResult{PaymentID: payment.ID, Error: fmt.Sprintf("gateway declined refund: %s", result.GatewayStatus)}
	}

	if err := s.payments.MarkRefunded(ctx, payment.ID, fmt.Sprintf(`{"refund_id":%q,"reason":%q}`, result.RefundID, reason)); err != nil {
		// The gateway refund went through but the ledger did not follow.
		// Nothing spans both systems, so the inconsistency is surfaced loudly
		// for the operator instead of being retried here.
		if errors.Is(err, repository.ErrAlreadyRefunded) {
			s.log.Warn("compensation: payment refunded concurrently", "payment_id", payment.ID)
		} else {
			s.log.Error("compensation: refund succeeded but ledger update failed", "payment_id", payment.ID, "refund_id", result.RefundID, "err", err)
		}
	}

	note := fmt.Sprintf("payment %d refunded (%s)", payment.ID, result.RefundID)
	if err := s.jobs.SetRefundNote(ctx, jobID, note); err != nil {
		s.log.Error("compensation: set refund note", "job_id", jobID, "err", err)
	}

	s.log.Info("compensation: refund completed", "job_id", jobID, "payment_id", payment.ID, "refund_id", result.RefundID)
	return CompensationResult{Refunded: true, PaymentID: payment.ID}
}
