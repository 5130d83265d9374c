package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/billing"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
)

// Provider is the payment gateway identifier recorded on payments.
const Provider = "fotopay"

// PaymentService is the ledger adapter: entitlement checks, webhook
// verification, and refunds. It never retries gateway calls; the caller owns
// the retry policy.
type PaymentService struct {
	payments     PaymentStore
	gateway      RefundGateway
	sharedSecret string
	log          *slog.Logger
}

func NewPaymentService(payments PaymentStore, gateway RefundGateway, sharedSecret string, log *slog.Logger) *PaymentService {
	return &PaymentService{
		payments:     payments,
		gateway:      gateway,
		sharedSecret: sharedSecret,
		log:          log,
	}
}

// HasEntitlement reports whether the user may consume generation capacity:
// at least one succeeded payment must exist.
func (s *PaymentService) HasEntitlement(ctx context.Context, userID int64) (bool, error) {
	return s.payments.HasSucceeded(ctx, userID)
}

// VerifyWebhookSignature checks an inbound gateway payload. It returns false
// rather than failing on a missing secret or malformed payload.
func (s *PaymentService) VerifyWebhookSignature(params map[string]string) bool {
	return billing.Verify(params, s.sharedSecret)
}

// HandleWebhook processes a verified gateway notification. The webhook is the
// sole writer of the succeeded status; an already-succeeded payment is
// acknowledged without another write.
func (s *PaymentService) HandleWebhook(ctx context.Context, params map[string]string) error {
	if !s.VerifyWebhookSignature(params) {
		return apperr.New(apperr.CodeUnauthorized, "invalid webhook signature")
	}

	chargeID := params["charge_id"]
	if chargeID == "" {
		return apperr.New(apperr.CodeValidation, "webhook missing charge_id")
	}

	payment, err := s.payments.FindByProviderCharge(ctx, Provider, chargeID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("payment not found for charge %s", chargeID))
	}
	if payment.Status == models.PaymentStatusSucceeded {
		return nil // already processed
	}

	rawPayload, _ := json.Marshal(params)

	switch params["status"] {
	case "succeeded":
		if err := s.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusSucceeded, string(rawPayload)); err != nil {
			return fmt.Errorf("mark payment succeeded: %w", err)
		}
		s.log.Info("payment succeeded", "payment_id", payment.ID, "user_id", payment.UserID, "amount", payment.Amount)
	case "canceled":
		if err := s.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusCanceled, string(rawPayload)); err != nil {
			return fmt.Errorf("mark payment canceled: %w", err)
		}
	default:
		return apperr.New(apperr.CodeValidation, fmt.Sprintf("unknown webhook status %q", params["status"]))
	}
	return nil
}

// Refund reverses a payment through the gateway. amountMinorUnits of zero
// means a full refund. A payment that is not in the succeeded state is
// rejected with a conflict, never silently skipped.
func (s *PaymentService) Refund(ctx context.Context, paymentID int64, amountMinorUnits int, reason string) (*billing.RefundResult, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if payment == nil {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("payment %d not found", paymentID))
	}
	if payment.Status != models.PaymentStatusSucceeded {
		return nil, apperr.New(apperr.CodeConflict, fmt.Sprintf("payment %d is %s, not refundable", paymentID, payment.Status))
	}
	if amountMinorUnits < 0 || amountMinorUnits > payment.Amount {
		return nil, apperr.New(apperr.CodeValidation, "refund amount exceeds payment amount")
	}

	result, err := s.gateway.Refund(ctx, payment.ProviderCharge, amountMinorUnits, reason)
	if err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}
	return result, nil
}
