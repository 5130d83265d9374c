package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
)

// StatusQuery identifies the caller and exactly one resource to poll.
type StatusQuery struct {
	TelegramID int64
	JobID      *int64
	AvatarID   *int64
}

// JobStatusView is the polling response payload.
type JobStatusView struct {
	JobID        int64
	AvatarID     int64
	Status       models.JobStatus
	Completed    int
	Total        int
	Percentage   int
	ErrorMessage string
	RefundNote   string
	PhotoURLs    []string
}

// StatusService answers polling queries with an ownership gate: a missing
// resource is NOT_FOUND, an existing resource owned by someone else is
// FORBIDDEN. The distinction gives legitimate callers a clear signal without
// leaking foreign job contents.
type StatusService struct {
	users   UserStore
	avatars AvatarStore
	jobs    JobStore
	log     *slog.Logger
}

func NewStatusService(users UserStore, avatars AvatarStore, jobs JobStore, log *slog.Logger) *StatusService {
	return &StatusService{
		users:   users,
		avatars: avatars,
		jobs:    jobs,
		log:     log,
	}
}

func (s *StatusService) GetStatus(ctx context.Context, q StatusQuery) (*JobStatusView, error) {
	if q.TelegramID <= 0 {
		return nil, apperr.New(apperr.CodeUnauthorized, "caller identity is required")
	}
	if (q.JobID == nil) == (q.AvatarID == nil) {
		return nil, apperr.New(apperr.CodeValidation, "exactly one of job_id or avatar_id must be supplied")
	}

	// An unknown caller owns nothing; existing resources they ask about are
	// foreign by definition.
	var callerID int64
	if user, err := s.users.FindByTelegramID(ctx, q.TelegramID); err != nil {
		return nil, fmt.Errorf("find caller: %w", err)
	} else if user != nil {
		callerID = user.ID
	}

	var job *models.GenerationJob
	var err error
	if q.JobID != nil {
		job, err = s.jobByID(ctx, *q.JobID, callerID)
	} else {
		job, err = s.latestJobByAvatar(ctx, *q.AvatarID, callerID)
	}
	if err != nil {
		return nil, err
	}

	photos, err := s.jobs.ListPhotos(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.URL)
	}

	percentage := 0
	if job.TotalPhotos > 0 {
		percentage = job.CompletedPhotos * 100 / job.TotalPhotos
	}

	return &JobStatusView{
		JobID:        job.ID,
		AvatarID:     job.AvatarID,
		Status:       job.Status,
		Completed:    job.CompletedPhotos,
		Total:        job.TotalPhotos,
		Percentage:   percentage,
		ErrorMessage: job.ErrorMessage,
		RefundNote:   job.RefundNote,
		PhotoURLs:    urls,
	}, nil
}

func (s *StatusService) jobByID(ctx context.Context, jobID, callerID int64) (*models.GenerationJob, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("job %d not found", jobID))
	}
	avatar, err := s.avatars.FindByID(ctx, job.AvatarID)
	if err != nil {
		return nil, fmt.Errorf("find job avatar: %w", err)
	}
	if avatar == nil || avatar.UserID != callerID {
		s.log.Warn("status poll denied", "job_id", jobID, "caller", callerID)
		return nil, apperr.New(apperr.CodeForbidden, "you do not own this job")
	}
	return job, nil
}

func (s *StatusService) latestJobByAvatar(ctx context.Context, avatarID, callerID int64) (*models.GenerationJob, error) {
	avatar, err := s.avatars.FindByID(ctx, avatarID)
	if err != nil {
		return nil, fmt.Errorf("find avatar: %w", err)
	}
	if avatar == nil {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("avatar %d not found", avatarID))
	}
	if avatar.UserID != callerID {
		s.log.Warn("status poll denied", "avatar_id", avatarID, "caller", callerID)
		return nil, apperr.New(apperr.CodeForbidden, "you do not own this avatar")
	}
	job, err := s.jobs.FindLatestByAvatar(ctx, avatarID)
	if err != nil {
		return nil, fmt.Errorf("find latest job: %w", err)
	}
	if job == nil {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("avatar %d has no generation jobs", avatarID))
	}
	return job, nil
}
