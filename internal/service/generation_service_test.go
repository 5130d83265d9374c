package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/catalog"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
	"github.com/massmindmaker/fotoset-sub002/internal/queue"
)

type testEnv struct {
	store    *memStore
	queue    *fakeQueue
	gateway  *fakeGateway
	uploader *fakeUploader
	cat      *catalog.Catalog

	ledger   *PaymentService
	comp     *CompensationService
	resolver *AvatarService
	prompts  *PromptService
	gen      *GenerationService
	status   *StatusService
}

func testCatalog(promptCount int) *catalog.Catalog {
	prompts := make([]string, 0, promptCount)
	for i := 0; i < promptCount; i++ {
		prompts = append(prompts, fmt.Sprintf("scene %02d", i))
	}
	return catalog.New([]catalog.Style{{
		ID:           "test",
		Title:        "Test style",
		PromptPrefix: "photo of the person, ",
		PromptSuffix: ", studio light",
		Prompts:      prompts,
	}})
}

func newTestEnv(cat *catalog.Catalog) *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	q := &fakeQueue{}
	gw := &fakeGateway{}
	up := &fakeUploader{}

	avatars := avatarStoreAdapter{store}
	jobs := jobStoreAdapter{store}
	payments := paymentStoreAdapter{store}

	ledger := NewPaymentService(payments, gw, "secret", log)
	comp := NewCompensationService(payments, ledger, jobs, log)
	resolver := NewAvatarService(avatars, acceptAllFilter{}, up, log)
	prompts := NewPromptService(cat, jobs)
	gen := NewGenerationService(log, cat, store, avatars, jobs, payments, store, resolver, prompts, ledger, q, comp)
	status := NewStatusService(store, avatars, jobs, log)

	return &testEnv{
		store: store, queue: q, gateway: gw, uploader: up, cat: cat,
		ledger: ledger, comp: comp, resolver: resolver, prompts: prompts,
		gen: gen, status: status,
	}
}

func (e *testEnv) paidUser(telegramID int64, amount int) *models.User {
	user, _ := e.store.Create(context.Background(), &models.User{TelegramID: telegramID})
	e.store.addPayment(user.ID, models.PaymentStatusSucceeded, amount)
	return user
}

func suppliedImages(n int) []SuppliedImage {
	images := make([]SuppliedImage, 0, n)
	for i := 0; i < n; i++ {
		images = append(images, SuppliedImage{Data: []byte{0xff, 0xd8, 0xff, byte(i)}, ContentType: "image/jpeg"})
	}
	return images
}

func TestStart_PaymentRequired(t *testing.T) {
	env := newTestEnv(testCatalog(5))
	_, err := env.store.Create(context.Background(), &models.User{TelegramID: 100})
	require.NoError(t, err)

	_, err = env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(2),
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePaymentRequired))
	assert.Empty(t, env.store.jobs, "no job row may exist for an unpaid request")
}

func TestStart_SuccessClampsRequestedCount(t *testing.T) {
	env := newTestEnv(testCatalog(23))
	env.paidUser(100, 500)

	result, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		PhotoCount: 7,
		Images:     suppliedImages(5),
	})

	require.NoError(t, err)
	assert.Equal(t, 7, result.TotalPhotos)
	assert.Equal(t, models.ProcessingModeQueued, result.ProcessingMode)

	job := env.store.jobs[result.JobID]
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 7, job.TotalPhotos)
	assert.Equal(t, 0, job.CompletedPhotos)

	require.Len(t, env.queue.published, 1)
	payload := env.queue.published[0]
	assert.Equal(t, result.JobID, payload.JobID)
	assert.Len(t, payload.Prompts, 7)
	assert.Len(t, payload.ReferenceURLs, 5)

	// The entitling payment is linked to the job it funded.
	payment, err := env.store.FindByJob(context.Background(), result.JobID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, 500, payment.Amount)
}

func TestStart_ZeroCountMeansMaximum(t *testing.T) {
	env := newTestEnv(testCatalog(4))
	env.paidUser(100, 500)

	result, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		PhotoCount: 0,
		Images:     suppliedImages(1),
	})

	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalPhotos)
}

func TestStart_OversizedCountClampedToCatalog(t *testing.T) {
	env := newTestEnv(testCatalog(4))
	env.paidUser(100, 500)

	result, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		PhotoCount: 100,
		Images:     suppliedImages(1),
	})

	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalPhotos)
}

func TestStart_QueueFailureCompensatesExactlyOnce(t *testing.T) {
	env := newTestEnv(testCatalog(5))
	env.queue.err = fmt.Errorf("stream write timed out")
	user := env.paidUser(100, 500)

	_, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(2),
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeQueueFailed))

	appErr := apperr.From(err)
	assert.Equal(t, true, appErr.Details["refunded"])

	assert.Equal(t, 1, env.gateway.calls, "exactly one refund attempt")

	require.Len(t, env.store.jobs, 1)
	for _, job := range env.store.jobs {
		assert.Equal(t, models.JobStatusFailed, job.Status)
		assert.NotEmpty(t, job.RefundNote)
	}

	payment, _ := env.store.FindLatestSucceededByUser(context.Background(), user.ID)
	assert.Nil(t, payment, "payment must be refunded, not succeeded")
}

func TestStart_QueueAbsentIsServiceUnavailable(t *testing.T) {
	env := newTestEnv(testCatalog(5))
	env.paidUser(100, 500)

	// Real publisher without a Redis connection reports ErrNotConfigured.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.gen.queue = queue.NewPublisher(nil, queue.Config{}, log)

	_, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(2),
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeServiceUnavailable))
	assert.Equal(t, 1, env.gateway.calls)
}

func TestStart_NoPromptsLeft(t *testing.T) {
	env := newTestEnv(testCatalog(2))
	user := env.paidUser(100, 500)

	// First job consumes the whole catalog.
	first, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalPhotos)

	env.store.addPayment(user.ID, models.PaymentStatusSucceeded, 500)
	_, err = env.gen.Start(context.Background(), StartRequest{
		TelegramID:          100,
		AvatarHint:          first.AvatarID,
		StyleID:             "test",
		UseStoredReferences: true,
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeNoPromptsAvailable))
	assert.Len(t, env.store.jobs, 1, "no second job row may be created")
}

func TestStart_BannedUser(t *testing.T) {
	env := newTestEnv(testCatalog(3))
	user := env.paidUser(100, 500)
	user.IsBanned = true

	_, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(1),
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized))
}

func TestStart_UnknownStyle(t *testing.T) {
	env := newTestEnv(testCatalog(3))
	env.paidUser(100, 500)

	_, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "no-such-style",
		Images:     suppliedImages(1),
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidStyle))
	assert.Empty(t, env.store.jobs)
}

func TestStart_MaintenanceMode(t *testing.T) {
	env := newTestEnv(testCatalog(3))
	env.paidUser(100, 500)
	env.store.settings[maintenanceSetting] = "1"

	_, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(1),
	})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeServiceUnavailable))
	assert.Equal(t, 0, env.gateway.calls, "no payment at risk before dispatch")
}

func TestReportPhoto_AdvancesStateMachine(t *testing.T) {
	env := newTestEnv(testCatalog(3))
	env.paidUser(100, 500)

	result, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		PhotoCount: 2,
		Images:     suppliedImages(1),
	})
	require.NoError(t, err)

	require.NoError(t, env.gen.ReportPhoto(context.Background(), result.JobID, "https://cdn.test/out/1.jpg"))
	assert.Equal(t, models.JobStatusProcessing, env.store.jobs[result.JobID].Status)

	require.NoError(t, env.gen.ReportPhoto(context.Background(), result.JobID, "https://cdn.test/out/2.jpg"))
	assert.Equal(t, models.JobStatusCompleted, env.store.jobs[result.JobID].Status)

	// Terminal jobs reject further reports.
	err = env.gen.ReportPhoto(context.Background(), result.JobID, "https://cdn.test/out/3.jpg")
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestReportFailure_TriggersCompensation(t *testing.T) {
	env := newTestEnv(testCatalog(3))
	env.paidUser(100, 500)

	result, err := env.gen.Start(context.Background(), StartRequest{
		TelegramID: 100,
		StyleID:    "test",
		Images:     suppliedImages(1),
	})
	require.NoError(t, err)

	comp, err := env.gen.ReportFailure(context.Background(), result.JobID, "generator exploded")
	require.NoError(t, err)
	assert.True(t, comp.Refunded)
	assert.Equal(t, 1, env.gateway.calls)

	job := env.store.jobs[result.JobID]
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "generator exploded", job.ErrorMessage)

	// A second failure report conflicts and must not refund again.
	_, err = env.gen.ReportFailure(context.Background(), result.JobID, "again")
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
	assert.Equal(t, 1, env.gateway.calls)
}
