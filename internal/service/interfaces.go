package service

import (
	"context"

	"github.com/massmindmaker/fotoset-sub002/internal/billing"
	"github.com/massmindmaker/fotoset-sub002/internal/imagecheck"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
	"github.com/massmindmaker/fotoset-sub002/internal/queue"
)

// Store interfaces mirror the repository layer so services can be tested
// against hand-rolled stubs.

type UserStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

type AvatarStore interface {
	FindByID(ctx context.Context, id int64) (*models.Avatar, error)
	FindByIDForUser(ctx context.Context, id, userID int64) (*models.Avatar, error)
	Create(ctx context.Context, avatar *models.Avatar) (*models.Avatar, error)
	MaxID(ctx context.Context) (int64, error)
	ListReferenceImages(ctx context.Context, avatarID int64) ([]models.ReferenceImage, error)
	CreateReferenceImage(ctx context.Context, image *models.ReferenceImage) error
}

type JobStore interface {
	Create(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, error)
	FindByID(ctx context.Context, id int64) (*models.GenerationJob, error)
	FindLatestByAvatar(ctx context.Context, avatarID int64) (*models.GenerationJob, error)
	UpdateStatus(ctx context.Context, jobID int64, status models.JobStatus, errorMessage string) error
	SetRefundNote(ctx context.Context, jobID int64, note string) error
	InsertPrompts(ctx context.Context, jobID int64, prompts []string) error
	ListPromptsForAvatarStyle(ctx context.Context, avatarID int64, styleID string) ([]string, error)
	AddPhoto(ctx context.Context, jobID int64, url string) (int, error)
	ListPhotos(ctx context.Context, jobID int64) ([]models.GeneratedPhoto, error)
}

type PaymentStore interface {
	FindByID(ctx context.Context, id int64) (*models.Payment, error)
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
	HasSucceeded(ctx context.Context, userID int64) (bool, error)
	FindLatestSucceededByUser(ctx context.Context, userID int64) (*models.Payment, error)
	FindByJob(ctx context.Context, jobID int64) (*models.Payment, error)
	AttachJob(ctx context.Context, paymentID, jobID int64) error
	UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus, payload string) error
	MarkRefunded(ctx context.Context, paymentID int64, payload string) error
}

type SettingsStore interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// RefundGateway is the outbound payment provider surface.
type RefundGateway interface {
	Configured() bool
	Refund(ctx context.Context, providerChargeID string, amountMinorUnits int, reason string) (*billing.RefundResult, error)
}

// WorkQueue publishes one job's chunked work unit to the external generator pool.
type WorkQueue interface {
	PublishJob(ctx context.Context, payload queue.JobPayload) (string, error)
}

// ImageUploader persists an accepted reference image and returns its URL.
type ImageUploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// ImageFilter screens supplied reference images before upload.
type ImageFilter interface {
	Check(index int, data []byte, declaredType string) imagecheck.Result
}
