package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/catalog"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
	"github.com/massmindmaker/fotoset-sub002/internal/queue"
)

// maintenanceSetting is the admin toggle consulted before accepting new jobs.
const maintenanceSetting = "maintenance_mode"

// GenerationService is the job dispatcher. It runs the write path end to
// end: entitlement, avatar/reference resolution, prompt dedup, job creation,
// queue publish, and compensation on dispatch failure.
type GenerationService struct {
	log         *slog.Logger
	catalog     *catalog.Catalog
	users       UserStore
	avatars     AvatarStore
	jobs        JobStore
	payments    PaymentStore
	settings    SettingsStore
	resolver    *AvatarService
	prompts     *PromptService
	ledger      *PaymentService
	queue       WorkQueue
	compensator *CompensationService
}

func NewGenerationService(
	log *slog.Logger,
	cat *catalog.Catalog,
	users UserStore,
	avatars AvatarStore,
	jobs JobStore,
	payments PaymentStore,
	settings SettingsStore,
	resolver *AvatarService,
	prompts *PromptService,
	ledger *PaymentService,
	workQueue WorkQueue,
	compensator *CompensationService,
) *GenerationService {
	return &GenerationService{
		log:         log,
		catalog:     cat,
		users:       users,
		avatars:     avatars,
		jobs:        jobs,
		payments:    payments,
		settings:    settings,
		resolver:    resolver,
		prompts:     prompts,
		ledger:      ledger,
		queue:       workQueue,
		compensator: compensator,
	}
}

type StartRequest struct {
	TelegramID          int64
	Username            string
	FirstName           string
	LastName            string
	AvatarHint          int64
	StyleID             string
	PhotoCount          int
	Images              []SuppliedImage
	UseStoredReferences bool
}

type StartResult struct {
	JobID          int64
	AvatarID       int64
	TotalPhotos    int
	ProcessingMode models.ProcessingMode
}

// Start executes the generation write path. The ordering is strict: the
// entitlement check, avatar/reference resolution, and prompt dedup all
// complete before any job row is created, so a job is never created for an
// unpaid or prompt-exhausted request.
func (s *GenerationService) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.TelegramID <= 0 {
		return nil, apperr.New(apperr.CodeValidation, "caller identity is required")
	}
	if req.StyleID == "" {
		return nil, apperr.New(apperr.CodeValidation, "style_id is required")
	}

	if err := s.checkMaintenance(ctx); err != nil {
		return nil, err
	}

	user, err := s.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, apperr.New(apperr.CodeUnauthorized, "account is blocked")
	}

	style, ok := s.catalog.Style(req.StyleID)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidStyle, fmt.Sprintf("unknown style %q", req.StyleID))
	}

	entitled, err := s.ledger.HasEntitlement(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if !entitled {
		return nil, apperr.New(apperr.CodePaymentRequired, "a succeeded payment is required before generation")
	}

	resolved, err := s.resolver.Resolve(ctx, user.ID, req.AvatarHint, req.Images, req.UseStoredReferences)
	if err != nil {
		return nil, err
	}

	templates, err := s.prompts.AvailablePrompts(ctx, resolved.Avatar.ID, req.StyleID, 0)
	if err != nil {
		return nil, err
	}

	// photo_count of zero or less means "use the maximum available"; values
	// above the remaining catalog are clamped to it.
	total := req.PhotoCount
	if total <= 0 || total > len(templates) {
		total = len(templates)
	}

	fullPrompts := make([]string, 0, total)
	for _, template := range templates[:total] {
		fullPrompts = append(fullPrompts, style.Compose(template))
	}

	job, err := s.jobs.Create(ctx, &models.GenerationJob{
		AvatarID:    resolved.Avatar.ID,
		StyleID:     req.StyleID,
		TotalPhotos: total,
		Status:      models.JobStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.jobs.InsertPrompts(ctx, job.ID, fullPrompts); err != nil {
		return nil, s.failDispatch(ctx, user.ID, job.ID, apperr.CodeQueueFailed, "failed to record job prompts", err)
	}

	s.linkPayment(ctx, user.ID, job.ID)

	_, err = s.queue.PublishJob(ctx, queue.JobPayload{
		JobID:         job.ID,
		AvatarID:      resolved.Avatar.ID,
		UserID:        user.ID,
		StyleID:       req.StyleID,
		Prompts:       fullPrompts,
		ReferenceURLs: resolved.ReferenceURLs,
	})
	if err != nil {
		code := apperr.CodeQueueFailed
		if errors.Is(err, queue.ErrNotConfigured) {
			code = apperr.CodeServiceUnavailable
		}
		return nil, s.failDispatch(ctx, user.ID, job.ID, code, "failed to enqueue generation work", err)
	}

	s.log.Info("generation job dispatched", "job_id", job.ID, "avatar_id", resolved.Avatar.ID, "style", req.StyleID, "total_photos", total)

	return &StartResult{
		JobID:          job.ID,
		AvatarID:       resolved.Avatar.ID,
		TotalPhotos:    total,
		ProcessingMode: models.ProcessingModeQueued,
	}, nil
}

// failDispatch marks the job failed and runs exactly one compensation
// attempt. The returned error reports whether the refund went through so the
// caller can inform the user precisely.
func (s *GenerationService) failDispatch(ctx context.Context, userID, jobID int64, code apperr.Code, message string, cause error) error {
	if err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusFailed, cause.Error()); err != nil {
		s.log.Error("mark job failed", "job_id", jobID, "err", err)
	}

	comp := s.compensator.Compensate(ctx, userID, jobID)

	appErr := apperr.Wrap(code, message, cause).WithDetail("refunded", comp.Refunded)
	if comp.Error != "" {
		appErr = appErr.WithDetail("refund_error", comp.Error)
	}
	return appErr
}

// linkPayment attaches the entitling payment to the job it funds so a later
// compensation targets the right payment. Best-effort: linkage failure does
// not abort the dispatch.
func (s *GenerationService) linkPayment(ctx context.Context, userID, jobID int64) {
	payment, err := s.payments.FindLatestSucceededByUser(ctx, userID)
	if err != nil {
		s.log.Error("lookup payment for linkage", "user_id", userID, "err", err)
		return
	}
	if payment == nil || payment.JobID != nil {
		return
	}
	if err := s.payments.AttachJob(ctx, payment.ID, jobID); err != nil {
		s.log.Error("attach payment to job", "payment_id", payment.ID, "job_id", jobID, "err", err)
	}
}

func (s *GenerationService) checkMaintenance(ctx context.Context) error {
	value, ok, err := s.settings.Get(ctx, maintenanceSetting)
	if err != nil {
		return fmt.Errorf("read maintenance setting: %w", err)
	}
	if ok && (value == "1" || value == "true" || value == "on") {
		return apperr.New(apperr.CodeServiceUnavailable, "generation is temporarily disabled for maintenance")
	}
	return nil
}

func (s *GenerationService) resolveUser(ctx context.Context, req StartRequest) (*models.User, error) {
	user, err := s.users.FindByTelegramID(ctx, req.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user != nil {
		return user, nil
	}
	user, err = s.users.Create(ctx, &models.User{
		TelegramID: req.TelegramID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// ReportPhoto records one completed photo from the external worker and
// advances the job state machine: pending flips to processing on the first
// photo, and the job completes when the counter reaches the total.
func (s *GenerationService) ReportPhoto(ctx context.Context, jobID int64, url string) error {
	if url == "" {
		return apperr.New(apperr.CodeValidation, "photo url is required")
	}
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("job %d not found", jobID))
	}
	if job.Status.IsTerminal() {
		return apperr.New(apperr.CodeConflict, fmt.Sprintf("job %d is already %s", jobID, job.Status))
	}

	completed, err := s.jobs.AddPhoto(ctx, jobID, url)
	if err != nil {
		return fmt.Errorf("record photo: %w", err)
	}

	switch {
	case completed >= job.TotalPhotos:
		if err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusCompleted, ""); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		s.log.Info("generation job completed", "job_id", jobID, "photos", completed)
	case job.Status == models.JobStatusPending:
		if err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusProcessing, ""); err != nil {
			return fmt.Errorf("start job processing: %w", err)
		}
	}
	return nil
}

// ReportFailure records a terminal worker failure and runs the same
// compensation contract as dispatch failure.
func (s *GenerationService) ReportFailure(ctx context.Context, jobID int64, message string) (CompensationResult, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return CompensationResult{}, fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		return CompensationResult{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("job %d not found", jobID))
	}
	if job.Status.IsTerminal() {
		return CompensationResult{}, apperr.New(apperr.CodeConflict, fmt.Sprintf("job %d is already %s", jobID, job.Status))
	}

	if message == "" {
		message = "generation failed"
	}
	if err := s.jobs.UpdateStatus(ctx, jobID, models.JobStatusFailed, message); err != nil {
		return CompensationResult{}, fmt.Errorf("mark job failed: %w", err)
	}

	avatar, err := s.avatars.FindByID(ctx, job.AvatarID)
	if err != nil {
		return CompensationResult{}, fmt.Errorf("find job owner: %w", err)
	}
	if avatar == nil {
		return CompensationResult{}, fmt.Errorf("avatar %d missing for job %d", job.AvatarID, jobID)
	}

	comp := s.compensator.Compensate(ctx, avatar.UserID, jobID)
	s.log.Info("worker failure processed", "job_id", jobID, "refunded", comp.Refunded)
	return comp, nil
}
