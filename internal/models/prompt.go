package models

import (
	"time"

	"github.com/google/uuid"
)

type PromptStatus string

const (
	PromptStatusActive PromptStatus = "active"
	PromptStatusTrash  PromptStatus = "trash"
)

// Content is the part of a prompt that gets snapshotted into a version.
type Content struct {
	SystemPrompt string  `json:"system_prompt" db:"system_prompt"`
	UserTemplate string  `json:"user_template" db:"user_template"`
	Model        string  `json:"model" db:"model"`
	Temperature  float64 `json:"temperature" db:"temperature"`
	MaxTokens    int     `json:"max_tokens" db:"max_tokens"`
}

type Prompt struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Content
	CurrentVersionID *uuid.UUID   `json:"current_version_id,omitempty" db:"current_version_id"`
	Status           PromptStatus `json:"status" db:"status"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`

	// HasUnsavedChanges is true when the live fields differ from the current version.
	HasUnsavedChanges bool `json:"has_unsaved_changes" db:"-"`
}

type PromptVersion struct {
	ID            uuid.UUID `json:"id" db:"id"`
	PromptID      uuid.UUID `json:"prompt_id" db:"prompt_id"`
	VersionNumber string    `json:"version_number" db:"version_number"`
	Content
	ChangeNote string     `json:"change_note" db:"change_note"`
	CreatedBy  uuid.UUID  `json:"created_by" db:"created_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (v *PromptVersion) IsDeleted() bool {
	return v.DeletedAt != nil
}
