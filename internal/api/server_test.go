package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massmindmaker/fotoset-sub002/internal/billing"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
	"github.com/massmindmaker/fotoset-sub002/internal/service"
)

const (
	testAPIToken    = "api-token"
	testWorkerToken = "worker-token"
	testSecret      = "webhook-secret"
)

// paymentTable is a minimal ledger stub for webhook tests.
type paymentTable struct {
	rows map[string]*models.Payment
}

func (t *paymentTable) FindByID(_ context.Context, id int64) (*models.Payment, error) {
	for _, p := range t.rows {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (t *paymentTable) FindByProviderCharge(_ context.Context, _, chargeID string) (*models.Payment, error) {
	return t.rows[chargeID], nil
}

func (t *paymentTable) HasSucceeded(_ context.Context, userID int64) (bool, error) {
	for _, p := range t.rows {
		if p.UserID == userID && p.Status == models.PaymentStatusSucceeded {
			return true, nil
		}
	}
	return false, nil
}

func (t *paymentTable) FindLatestSucceededByUser(context.Context, int64) (*models.Payment, error) {
	return nil, nil
}

func (t *paymentTable) FindByJob(context.Context, int64) (*models.Payment, error) { return nil, nil }

func (t *paymentTable) AttachJob(context.Context, int64, int64) error { return nil }

func (t *paymentTable) UpdateStatus(_ context.Context, paymentID int64, status models.PaymentStatus, payload string) error {
	for _, p := range t.rows {
		if p.ID == paymentID {
			p.Status = status
			p.RawPayload = payload
		}
	}
	return nil
}

func (t *paymentTable) MarkRefunded(context.Context, int64, string) error { return nil }

type noGateway struct{}

func (noGateway) Configured() bool { return false }
func (noGateway) Refund(context.Context, string, int, string) (*billing.RefundResult, error) {
	return nil, nil
}

func newTestServer(payments *paymentTable) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if payments == nil {
		payments = &paymentTable{rows: map[string]*models.Payment{}}
	}
	ledger := service.NewPaymentService(payments, noGateway{}, testSecret, log)
	return NewServer(":0", testAPIToken, testWorkerToken, log, nil, nil, ledger)
}

func doRequest(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestClientEndpoints_RequireBearerToken(t *testing.T) {
	srv := newTestServer(nil)

	for _, tc := range []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "nope"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader("{}"))
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := doRequest(t, srv, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
		})
	}
}

func TestWorkerTokenDoesNotOpenClientEndpoints(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/generations/status?job_id=1", nil)
	req.Header.Set("Authorization", "Bearer "+testWorkerToken)
	req.Header.Set("X-Telegram-ID", "100")

	rec := doRequest(t, srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartGeneration_RequiresCallerIdentity(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+testAPIToken)

	rec := doRequest(t, srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestStartGeneration_InvalidBodies(t *testing.T) {
	srv := newTestServer(nil)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"bad base64", `{"style_id":"business","reference_images":[{"data":"***","content_type":"image/jpeg"}]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(tc.body))
			req.Header.Set("Authorization", "Bearer "+testAPIToken)
			req.Header.Set("X-Telegram-ID", "100")

			rec := doRequest(t, srv, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
		})
	}
}

func TestGenerationStatus_RejectsMalformedIDs(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/generations/status?job_id=abc", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	req.Header.Set("X-Telegram-ID", "100")

	rec := doRequest(t, srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerEndpoints_RejectMalformedJobID(t *testing.T) {
	srv := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/abc/photos", strings.NewReader(`{"url":"https://x"}`))
	req.Header.Set("Authorization", "Bearer "+testWorkerToken)

	rec := doRequest(t, srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func webhookForm(params map[string]string, sign bool) *strings.Reader {
	if sign {
		params[billing.SignatureField] = billing.Sign(params, testSecret)
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return strings.NewReader(form.Encode())
}

func postWebhook(t *testing.T, srv *Server, body *strings.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(t, srv, req)
}

func TestPaymentWebhook_MarksPaymentSucceeded(t *testing.T) {
	payments := &paymentTable{rows: map[string]*models.Payment{
		"ch-1": {ID: 1, UserID: 10, Provider: service.Provider, ProviderCharge: "ch-1", Status: models.PaymentStatusPending, Amount: 49900},
	}}
	srv := newTestServer(payments)

	rec := postWebhook(t, srv, webhookForm(map[string]string{
		"charge_id": "ch-1",
		"status":    "succeeded",
		"amount":    "49900",
	}, true))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentStatusSucceeded, payments.rows["ch-1"].Status)
	assert.NotEmpty(t, payments.rows["ch-1"].RawPayload)
}

func TestPaymentWebhook_RejectsBadSignature(t *testing.T) {
	payments := &paymentTable{rows: map[string]*models.Payment{
		"ch-1": {ID: 1, Provider: service.Provider, ProviderCharge: "ch-1", Status: models.PaymentStatusPending},
	}}
	srv := newTestServer(payments)

	params := map[string]string{"charge_id": "ch-1", "status": "succeeded"}
	params[billing.SignatureField] = "deadbeef"
	rec := postWebhook(t, srv, webhookForm(params, false))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.PaymentStatusPending, payments.rows["ch-1"].Status, "unverified payload must not touch the ledger")
}

func TestPaymentWebhook_UnknownCharge(t *testing.T) {
	srv := newTestServer(nil)

	rec := postWebhook(t, srv, webhookForm(map[string]string{
		"charge_id": "ch-404",
		"status":    "succeeded",
	}, true))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}
