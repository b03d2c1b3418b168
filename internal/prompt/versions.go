package prompt

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/models"
)

// ListVersions returns the prompt's active versions, newest first.
func (s *Service) ListVersions(ctx context.Context, promptID, userID uuid.UUID) ([]models.PromptVersion, error) {
	if _, err := s.store.GetPrompt(ctx, promptID, userID, false); err != nil {
		return nil, err
	}

	fill := false
	var generation int64
	if s.cache != nil {
		versions, ok, err := s.cache.GetVersions(ctx, promptID)
		switch {
		case err != nil:
			s.logger.Warn("version cache read failed", "prompt_id", promptID, "error", err)
		case ok:
			return versions, nil
		default:
			generation, err = s.cache.Generation(ctx, promptID)
			if err != nil {
				s.logger.Warn("version cache read failed", "prompt_id", promptID, "error", err)
			} else {
				fill = true
			}
		}
	}

	versions, err := s.store.ListVersions(ctx, promptID, false)
	if err != nil {
		return nil, err
	}

	if fill {
		stored, err := s.cache.SetVersions(ctx, promptID, generation, versions)
		if err != nil {
			s.logger.Warn("version cache write failed", "prompt_id", promptID, "error", err)
		} else if !stored {
			s.logger.Debug("version listing changed during fill, not cached", "prompt_id", promptID)
		}
	}
	return versions, nil
}

// ListDeletedVersions returns the soft-deleted versions, most recently deleted first.
func (s *Service) ListDeletedVersions(ctx context.Context, promptID, userID uuid.UUID) ([]models.PromptVersion, error) {
	if _, err := s.store.GetPrompt(ctx, promptID, userID, false); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, promptID, true)
}

// GetVersion returns a version in either state.
func (s *Service) GetVersion(ctx context.Context, promptID, userID, versionID uuid.UUID) (*models.PromptVersion, error) {
	if _, err := s.store.GetPrompt(ctx, promptID, userID, false); err != nil {
		return nil, err
	}
	return s.store.GetVersion(ctx, promptID, versionID)
}

type VersionDiff struct {
	VersionID     uuid.UUID `json:"version_id"`
	VersionNumber string    `json:"version_number"`
	Changed       bool      `json:"changed"`
	Fields        []string  `json:"fields"`
}

// DiffVersion compares a version's snapshot with the prompt's live fields.
func (s *Service) DiffVersion(ctx context.Context, promptID, userID, versionID uuid.UUID) (*VersionDiff, error) {
	p, err := s.store.GetPrompt(ctx, promptID, userID, false)
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetVersion(ctx, promptID, versionID)
	if err != nil {
		return nil, err
	}

	fields := ChangedFields(v.Content, p.Content)
	if fields == nil {
		fields = []string{}
	}
	return &VersionDiff{
		VersionID:     v.ID,
		VersionNumber: v.VersionNumber,
		Changed:       len(fields) > 0,
		Fields:        fields,
	}, nil
}

type CreateVersionRequest struct {
	ChangeNote *string `json:"change_note"`
	Bump       string  `json:"bump"`
}

// CreateVersion snapshots the live fields into a new version and makes it
// current. A version number taken by a concurrent writer is retried with a
// freshly computed number.
func (s *Service) CreateVersion(ctx context.Context, promptID, userID uuid.UUID, req CreateVersionRequest) (*models.PromptVersion, error) {
	bump, err := ParseBumpType(req.Bump)
	if err != nil {
		return nil, err
	}
	note, err := changeNote(req.ChangeNote)
	if err != nil {
		return nil, err
	}

	var created *models.PromptVersion
	err = retry.Do(
		func() error {
			v, err := s.createVersion(ctx, promptID, userID, bump, note)
			if err != nil {
				return err
			}
			created = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.conflictAttempts),
		retry.Delay(20*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrVersionConflict) }),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("version number conflict, retrying", "prompt_id", promptID, "attempt", n+1)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, userID, "version.create", promptID, EventVersionCreated, versionPayload(created))
	return created, nil
}

func (s *Service) createVersion(ctx context.Context, promptID, userID uuid.UUID, bump BumpType, note string) (*models.PromptVersion, error) {
	var created *models.PromptVersion
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, err := repo.GetPrompt(ctx, promptID, userID, true)
		if err != nil {
			return err
		}
		refs, err := repo.ListVersionRefs(ctx, promptID)
		if err != nil {
			return err
		}

		var currentID uuid.UUID
		if p.CurrentVersionID != nil {
			currentID = *p.CurrentVersionID
		}
		number, err := NextVersionNumber(refs, currentID, bump)
		if err != nil {
			return err
		}

		now := s.now()
		v := &models.PromptVersion{
			ID:            uuid.New(),
			PromptID:      promptID,
			VersionNumber: number,
			Content:       p.Content,
			ChangeNote:    note,
			CreatedBy:     userID,
			CreatedAt:     now,
		}
		if err := repo.InsertVersion(ctx, v); err != nil {
			return err
		}

		p.CurrentVersionID = &v.ID
		p.UpdatedAt = now
		if err := repo.UpdatePrompt(ctx, p); err != nil {
			return err
		}
		created = v
		return nil
	})
	return created, err
}

// RestoreVersion copies an active version's snapshot into the live fields and
// makes that version current.
func (s *Service) RestoreVersion(ctx context.Context, promptID, userID, versionID uuid.UUID) (*models.Prompt, error) {
	var restored *models.Prompt
	var version *models.PromptVersion
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, err := repo.GetPrompt(ctx, promptID, userID, true)
		if err != nil {
			return err
		}
		v, err := repo.GetVersion(ctx, promptID, versionID)
		if err != nil {
			return err
		}
		if v.IsDeleted() {
			return ErrVersionNotFound
		}

		p.Content = v.Content
		p.CurrentVersionID = &v.ID
		p.UpdatedAt = s.now()
		if err := repo.UpdatePrompt(ctx, p); err != nil {
			return err
		}
		p.HasUnsavedChanges = false
		restored, version = p, v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, userID, "version.restore", promptID, EventVersionRestored, versionPayload(version))
	return restored, nil
}

// DeleteVersion soft-deletes an active version. The current version cannot
// be deleted.
func (s *Service) DeleteVersion(ctx context.Context, promptID, userID, versionID uuid.UUID) error {
	var version *models.PromptVersion
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, err := repo.GetPrompt(ctx, promptID, userID, true)
		if err != nil {
			return err
		}
		v, err := repo.GetVersion(ctx, promptID, versionID)
		if err != nil {
			return err
		}
		if v.IsDeleted() {
			return ErrVersionNotFound
		}
		if isCurrent(p, v.ID) {
			return ErrCurrentVersion
		}

		now := s.now()
		if err := repo.SetVersionDeletedAt(ctx, promptID, versionID, &now); err != nil {
			return err
		}
		v.DeletedAt = &now
		version = v
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, userID, "version.delete", promptID, EventVersionDeleted, versionPayload(version))
	return nil
}

// RestoreDeletedVersion clears the deletion marker of a soft-deleted version.
func (s *Service) RestoreDeletedVersion(ctx context.Context, promptID, userID, versionID uuid.UUID) (*models.PromptVersion, error) {
	var version *models.PromptVersion
	err := s.store.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPrompt(ctx, promptID, userID, true); err != nil {
			return err
		}
		v, err := repo.GetVersion(ctx, promptID, versionID)
		if errors.Is(err, ErrVersionNotFound) {
			return ErrDeletedVersionNotFound
		}
		if err != nil {
			return err
		}
		if !v.IsDeleted() {
			return ErrDeletedVersionNotFound
		}

		if err := repo.SetVersionDeletedAt(ctx, promptID, versionID, nil); err != nil {
			return err
		}
		v.DeletedAt = nil
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, userID, "version.undelete", promptID, EventVersionUndeleted, versionPayload(version))
	return version, nil
}

// PermanentDeleteVersion removes a version in either state. The current
// version cannot be removed.
func (s *Service) PermanentDeleteVersion(ctx context.Context, promptID, userID, versionID uuid.UUID) error {
	var version *models.PromptVersion
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, err := repo.GetPrompt(ctx, promptID, userID, true)
		if err != nil {
			return err
		}
		v, err := repo.GetVersion(ctx, promptID, versionID)
		if err != nil {
			return err
		}
		if isCurrent(p, v.ID) {
			return ErrCurrentVersion
		}
		if err := repo.DeleteVersion(ctx, promptID, versionID); err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, userID, "version.purge", promptID, EventVersionPurged, versionPayload(version))
	return nil
}

// PurgeDeletedVersions permanently removes versions soft-deleted more than
// olderThan ago and reports how many were removed.
func (s *Service) PurgeDeletedVersions(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, validationError("retention must not be negative")
	}
	purged, err := s.store.PurgeDeletedVersions(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	seen := make(map[uuid.UUID]bool)
	for i := range purged {
		v := &purged[i]
		if !seen[v.PromptID] {
			s.invalidate(ctx, v.PromptID)
			seen[v.PromptID] = true
		}
		payload := versionPayload(v)
		s.record(ctx, v.CreatedBy, "version.purge", v.PromptID, payload)
		s.publish(ctx, v.CreatedBy, EventVersionPurged, payload)
	}

	s.logger.Info("purged deleted versions", "count", len(purged), "older_than", olderThan.String())
	return len(purged), nil
}

func isCurrent(p *models.Prompt, versionID uuid.UUID) bool {
	return p.CurrentVersionID != nil && *p.CurrentVersionID == versionID
}

func versionPayload(v *models.PromptVersion) map[string]any {
	return map[string]any{
		"prompt_id":      v.PromptID,
		"version_id":     v.ID,
		"version_number": v.VersionNumber,
	}
}
