package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nikhilbhutani/promptvault/internal/models"
)

const uniqueViolation = "23505"

// Querier is the part of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can open transactions, such as *pgxpool.Pool.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresStore struct {
	pgRepository
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{pgRepository: pgRepository{q: db}, db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgRepository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgRepository struct {
	q Querier
}

const promptColumns = `id, user_id, name, description, system_prompt, user_template, model,
	temperature, max_tokens, current_version_id, status, created_at, updated_at`

const versionColumns = `id, prompt_id, version_number, system_prompt, user_template, model,
	temperature, max_tokens, change_note, created_by, created_at, deleted_at`

func scanPrompt(row pgx.Row, p *models.Prompt) error {
	return row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.SystemPrompt, &p.UserTemplate, &p.Model,
		&p.Temperature, &p.MaxTokens, &p.CurrentVersionID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

func scanVersion(row pgx.Row, v *models.PromptVersion) error {
	return row.Scan(&v.ID, &v.PromptID, &v.VersionNumber, &v.SystemPrompt, &v.UserTemplate, &v.Model,
		&v.Temperature, &v.MaxTokens, &v.ChangeNote, &v.CreatedBy, &v.CreatedAt, &v.DeletedAt)
}

func (r *pgRepository) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO prompts (`+promptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.UserID, p.Name, p.Description, p.SystemPrompt, p.UserTemplate, p.Model,
		p.Temperature, p.MaxTokens, p.CurrentVersionID, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

func (r *pgRepository) GetPrompt(ctx context.Context, id, userID uuid.UUID, forUpdate bool) (*models.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p models.Prompt
	if err := scanPrompt(r.q.QueryRow(ctx, query, id, userID), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromptNotFound
		}
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return &p, nil
}

func (r *pgRepository) ListPrompts(ctx context.Context, userID uuid.UUID, status models.PromptStatus, limit, offset int) ([]models.Prompt, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+promptColumns+` FROM prompts
		 WHERE user_id = $1 AND status = $2
		 ORDER BY updated_at DESC LIMIT $3 OFFSET $4`,
		userID, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := []models.Prompt{}
	for rows.Next() {
		var p models.Prompt
		if err := scanPrompt(rows, &p); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (r *pgRepository) UpdatePrompt(ctx context.Context, p *models.Prompt) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE prompts SET name = $2, description = $3, system_prompt = $4, user_template = $5, model = $6,
		 temperature = $7, max_tokens = $8, current_version_id = $9, status = $10, updated_at = $11
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.SystemPrompt, p.UserTemplate, p.Model,
		p.Temperature, p.MaxTokens, p.CurrentVersionID, p.Status, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromptNotFound
	}
	return nil
}

func (r *pgRepository) DeletePrompt(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM prompts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromptNotFound
	}
	return nil
}

func (r *pgRepository) InsertVersion(ctx context.Context, v *models.PromptVersion) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO prompt_versions (`+versionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.PromptID, v.VersionNumber, v.SystemPrompt, v.UserTemplate, v.Model,
		v.Temperature, v.MaxTokens, v.ChangeNote, v.CreatedBy, v.CreatedAt, v.DeletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (r *pgRepository) GetVersion(ctx context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := scanVersion(r.q.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE id = $1 AND prompt_id = $2`,
		versionID, promptID,
	), &v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &v, nil
}

func (r *pgRepository) ListVersions(ctx context.Context, promptID uuid.UUID, deleted bool) ([]models.PromptVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM prompt_versions WHERE prompt_id = $1`
	if deleted {
		query += ` AND deleted_at IS NOT NULL ORDER BY deleted_at DESC, created_at DESC, seq DESC`
	} else {
		query += ` AND deleted_at IS NULL ORDER BY created_at DESC, seq DESC`
	}

	rows, err := r.q.Query(ctx, query, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := []models.PromptVersion{}
	for rows.Next() {
		var v models.PromptVersion
		if err := scanVersion(rows, &v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *pgRepository) ListVersionRefs(ctx context.Context, promptID uuid.UUID) ([]VersionRef, error) {
	rows, err := r.q.Query(ctx, "SELECT id, version_number FROM prompt_versions WHERE prompt_id = $1", promptID)
	if err != nil {
		return nil, fmt.Errorf("list version numbers: %w", err)
	}
	defer rows.Close()

	var refs []VersionRef
	for rows.Next() {
		var ref VersionRef
		if err := rows.Scan(&ref.ID, &ref.VersionNumber); err != nil {
			return nil, fmt.Errorf("scan version number: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *pgRepository) SetVersionDeletedAt(ctx context.Context, promptID, versionID uuid.UUID, deletedAt *time.Time) error {
	tag, err := r.q.Exec(ctx,
		"UPDATE prompt_versions SET deleted_at = $3 WHERE id = $1 AND prompt_id = $2",
		versionID, promptID, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("update version deleted_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionNotFound
	}
	return nil
}

func (r *pgRepository) DeleteVersion(ctx context.Context, promptID, versionID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM prompt_versions WHERE id = $1 AND prompt_id = $2", versionID, promptID)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionNotFound
	}
	return nil
}

func (r *pgRepository) PurgeDeletedVersions(ctx context.Context, before time.Time) ([]models.PromptVersion, error) {
	rows, err := r.q.Query(ctx,
		`DELETE FROM prompt_versions v
		 WHERE v.deleted_at IS NOT NULL AND v.deleted_at < $1
		   AND NOT EXISTS (SELECT 1 FROM prompts p WHERE p.current_version_id = v.id)
		 RETURNING `+versionColumns,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("purge deleted versions: %w", err)
	}
	defer rows.Close()

	var purged []models.PromptVersion
	for rows.Next() {
		var v models.PromptVersion
		if err := scanVersion(rows, &v); err != nil {
			return nil, fmt.Errorf("scan purged version: %w", err)
		}
		purged = append(purged, v)
	}
	return purged, rows.Err()
}
