package prompt

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/models"
)

// Repository is the record-level persistence contract for prompts and their
// versions. Lookups that miss return ErrPromptNotFound or ErrVersionNotFound.
type Repository interface {
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	// GetPrompt loads a prompt scoped to its owner. With forUpdate set, the row
	// stays locked until the surrounding transaction ends.
	GetPrompt(ctx context.Context, id, userID uuid.UUID, forUpdate bool) (*models.Prompt, error)
	ListPrompts(ctx context.Context, userID uuid.UUID, status models.PromptStatus, limit, offset int) ([]models.Prompt, error)
	UpdatePrompt(ctx context.Context, p *models.Prompt) error
	DeletePrompt(ctx context.Context, id uuid.UUID) error

	// InsertVersion returns ErrVersionConflict when the version number is
	// already used by another version of the same prompt.
	InsertVersion(ctx context.Context, v *models.PromptVersion) error
	GetVersion(ctx context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error)
	// ListVersions returns versions newest first, either the live ones or the
	// soft-deleted ones.
	ListVersions(ctx context.Context, promptID uuid.UUID, deleted bool) ([]models.PromptVersion, error)
	// ListVersionRefs covers every version of the prompt, deleted or not.
	ListVersionRefs(ctx context.Context, promptID uuid.UUID) ([]VersionRef, error)
	SetVersionDeletedAt(ctx context.Context, promptID, versionID uuid.UUID, deletedAt *time.Time) error
	DeleteVersion(ctx context.Context, promptID, versionID uuid.UUID) error
	PurgeDeletedVersions(ctx context.Context, before time.Time) ([]models.PromptVersion, error)
}

// Store is a Repository that can also run a group of calls atomically.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(repo Repository) error) error
}
