package prompt

import "errors"

// Error kinds. Every error returned by this package that callers are expected
// to act on unwraps to exactly one of these.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrIntegrity  = errors.New("integrity violation")
)

var (
	ErrPromptNotFound         = kindError(ErrNotFound, "Prompt not found")
	ErrVersionNotFound        = kindError(ErrNotFound, "Version not found")
	ErrDeletedVersionNotFound = kindError(ErrNotFound, "Deleted version not found")

	// ErrVersionConflict is returned by a Repository when a version number is
	// already taken for the prompt. CreateVersion retries on it.
	ErrVersionConflict = kindError(ErrConflict, "version number already exists for this prompt")
	ErrCurrentVersion  = kindError(ErrConflict, "the current version cannot be deleted")

	// ErrBrokenLineage means the prompt's current version is not among its
	// versions, so no next version number can be derived from it.
	ErrBrokenLineage = kindError(ErrIntegrity, "current version is missing from the version history")
)

type kindErr struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &kindErr{kind: kind, msg: msg}
}

func (e *kindErr) Error() string { return e.msg }

func (e *kindErr) Unwrap() error { return e.kind }

func validationError(msg string) error {
	return kindError(ErrValidation, msg)
}
