package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/imagecheck"
	"github.com/massmindmaker/fotoset-sub002/internal/models"
)

// SuppliedImage is a raw reference image sent with a generation request.
type SuppliedImage struct {
	Data        []byte
	ContentType string
}

// ResolvedAvatar is the resolver output: the avatar identity plus the
// reference image URLs the current job will use.
type ResolvedAvatar struct {
	Avatar        *models.Avatar
	ReferenceURLs []string
}

// avatarRef is the tagged decision over an ambiguous client identifier:
// either a persisted avatar id to reuse, or a request for a fresh avatar
// (clients send local timestamps for avatars that were never saved). The
// decision is made exactly once, at the top of Resolve.
type avatarRef struct {
	existingID int64
	createNew  bool
}

// AvatarService resolves the avatar identity and its reference image set.
type AvatarService struct {
	avatars  AvatarStore
	filter   ImageFilter
	uploader ImageUploader
	log      *slog.Logger
}

func NewAvatarService(avatars AvatarStore, filter ImageFilter, uploader ImageUploader, log *slog.Logger) *AvatarService {
	return &AvatarService{
		avatars:  avatars,
		filter:   filter,
		uploader: uploader,
		log:      log,
	}
}

// Resolve finds or creates the avatar for the request and produces the
// reference image set, either from storage or from the supplied images.
// All loads are scoped to userID; a foreign avatar is indistinguishable from
// a missing one.
func (s *AvatarService) Resolve(ctx context.Context, userID, avatarHint int64, supplied []SuppliedImage, useStored bool) (*ResolvedAvatar, error) {
	ref, err := s.decideRef(ctx, avatarHint)
	if err != nil {
		return nil, err
	}

	if useStored {
		return s.resolveStored(ctx, userID, ref)
	}
	return s.resolveSupplied(ctx, userID, ref, supplied)
}

// decideRef discriminates the client hint once: ids above the newest
// persisted avatar id (notably client-side timestamps) mean "create new".
func (s *AvatarService) decideRef(ctx context.Context, hint int64) (avatarRef, error) {
	if hint <= 0 {
		return avatarRef{createNew: true}, nil
	}
	maxID, err := s.avatars.MaxID(ctx)
	if err != nil {
		return avatarRef{}, fmt.Errorf("resolve avatar id range: %w", err)
	}
	if hint > maxID {
		return avatarRef{createNew: true}, nil
	}
	return avatarRef{existingID: hint}, nil
}

func (s *AvatarService) resolveStored(ctx context.Context, userID int64, ref avatarRef) (*ResolvedAvatar, error) {
	if ref.createNew {
		return nil, apperr.New(apperr.CodeAvatarNotFound, "stored references requested for an avatar that does not exist")
	}
	avatar, err := s.avatars.FindByIDForUser(ctx, ref.existingID, userID)
	if err != nil {
		return nil, fmt.Errorf("load avatar: %w", err)
	}
	if avatar == nil {
		return nil, apperr.New(apperr.CodeAvatarNotFound, fmt.Sprintf("avatar %d not found", ref.existingID))
	}

	images, err := s.avatars.ListReferenceImages(ctx, avatar.ID)
	if err != nil {
		return nil, fmt.Errorf("load reference images: %w", err)
	}
	if len(images) == 0 {
		return nil, apperr.New(apperr.CodeNoReferenceImages, fmt.Sprintf("avatar %d has no stored reference images", avatar.ID))
	}

	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, img.URL)
	}
	return &ResolvedAvatar{Avatar: avatar, ReferenceURLs: urls}, nil
}

func (s *AvatarService) resolveSupplied(ctx context.Context, userID int64, ref avatarRef, supplied []SuppliedImage) (*ResolvedAvatar, error) {
	if len(supplied) == 0 {
		return nil, apperr.New(apperr.CodeNoReferenceImages, "no reference images supplied")
	}

	accepted, rejections := s.screen(supplied)
	if len(accepted) == 0 {
		reasons := make([]string, 0, len(rejections))
		for _, r := range rejections {
			reasons = append(reasons, fmt.Sprintf("image %d: %s", r.Index+1, r.Reason))
		}
		return nil, apperr.New(apperr.CodeNoReferenceImages, "all supplied reference images were rejected").
			WithDetail("rejections", reasons)
	}

	avatar, err := s.resolveOrCreate(ctx, userID, ref)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(accepted))
	for _, img := range accepted {
		url, err := s.uploader.Upload(ctx, img.Data, img.ContentType)
		if err != nil {
			// Best-effort: an individual upload failure drops that image, not
			// the whole request.
			s.log.Error("reference image upload failed", "avatar_id", avatar.ID, "err", err)
			continue
		}
		urls = append(urls, url)

		if err := s.avatars.CreateReferenceImage(ctx, &models.ReferenceImage{AvatarID: avatar.ID, URL: url}); err != nil {
			// The in-memory URL still feeds the current job even when the row
			// insert fails.
			s.log.Error("reference image row insert failed", "avatar_id", avatar.ID, "url", url, "err", err)
		}
	}

	if len(urls) == 0 {
		return nil, apperr.New(apperr.CodeNoReferenceImages, "no reference images could be stored")
	}
	return &ResolvedAvatar{Avatar: avatar, ReferenceURLs: urls}, nil
}

func (s *AvatarService) screen(supplied []SuppliedImage) ([]SuppliedImage, []imagecheck.Result) {
	var accepted []SuppliedImage
	var rejections []imagecheck.Result
	for i, img := range supplied {
		result := s.filter.Check(i, img.Data, img.ContentType)
		if result.OK {
			accepted = append(accepted, img)
		} else {
			rejections = append(rejections, result)
		}
	}
	return accepted, rejections
}

func (s *AvatarService) resolveOrCreate(ctx context.Context, userID int64, ref avatarRef) (*models.Avatar, error) {
	if !ref.createNew {
		avatar, err := s.avatars.FindByIDForUser(ctx, ref.existingID, userID)
		if err != nil {
			return nil, fmt.Errorf("load avatar: %w", err)
		}
		if avatar != nil {
			return avatar, nil
		}
		// Hint was in range but belongs to someone else or is gone; fall
		// through to a fresh avatar owned by the caller.
	}
	avatar, err := s.avatars.Create(ctx, &models.Avatar{
		UserID: userID,
		Title:  fmt.Sprintf("Avatar %s", time.Now().UTC().Format("2006-01-02 15:04")),
	})
	if err != nil {
		return nil, fmt.Errorf("create avatar: %w", err)
	}
	return avatar, nil
}
