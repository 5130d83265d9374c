package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/massmindmaker/fotoset-sub002/internal/apperr"
	"github.com/massmindmaker/fotoset-sub002/internal/catalog"
)

// PromptService resolves which catalog prompts are still unused for an
// avatar+style pair. The unused set only ever shrinks as jobs are recorded.
type PromptService struct {
	catalog *catalog.Catalog
	jobs    JobStore
}

func NewPromptService(cat *catalog.Catalog, jobs JobStore) *PromptService {
	return &PromptService{catalog: cat, jobs: jobs}
}

// AvailablePrompts returns the catalog templates not yet consumed by prior
// jobs of this avatar in this style, preserving catalog order. requestedCount
// of zero or less means "all remaining". An empty result is an error: job
// creation must not proceed without prompts.
//
// A template counts as used when it is a prefix of a previously stored job
// prompt (after stripping the style prefix), since stored prompts are the
// template merged with the style prefix/suffix.
func (s *PromptService) AvailablePrompts(ctx context.Context, avatarID int64, styleID string, requestedCount int) ([]string, error) {
	style, ok := s.catalog.Style(styleID)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidStyle, fmt.Sprintf("unknown style %q", styleID))
	}

	used, err := s.jobs.ListPromptsForAvatarStyle(ctx, avatarID, styleID)
	if err != nil {
		return nil, fmt.Errorf("load used prompts: %w", err)
	}

	stripped := make([]string, 0, len(used))
	for _, u := range used {
		stripped = append(stripped, style.StripPrefix(u))
	}

	var available []string
	for _, template := range style.Prompts {
		if !isUsed(template, stripped) {
			available = append(available, template)
		}
	}

	if len(available) == 0 {
		return nil, apperr.New(apperr.CodeNoPromptsAvailable, fmt.Sprintf("all prompts for style %q are exhausted", styleID))
	}

	if requestedCount > 0 && requestedCount < len(available) {
		available = available[:requestedCount]
	}
	return available, nil
}

func isUsed(template string, usedPrompts []string) bool {
	for _, u := range usedPrompts {
		if strings.HasPrefix(u, template) {
			return true
		}
	}
	return false
}
