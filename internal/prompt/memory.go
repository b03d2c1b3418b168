package prompt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/models"
)

// MemoryStore keeps prompts and versions in process memory. It enforces the
// same uniqueness and scoping rules as PostgresStore; transactions work on a
// copy that replaces the live data only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

type memVersion struct {
	models.PromptVersion
	seq uint64
}

type memData struct {
	prompts  map[uuid.UUID]models.Prompt
	versions map[uuid.UUID]memVersion
	seq      uint64
}

func newMemData() *memData {
	return &memData{
		prompts:  make(map[uuid.UUID]models.Prompt),
		versions: make(map[uuid.UUID]memVersion),
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		prompts:  make(map[uuid.UUID]models.Prompt, len(d.prompts)),
		versions: make(map[uuid.UUID]memVersion, len(d.versions)),
		seq:      d.seq,
	}
	for k, v := range d.prompts {
		c.prompts[k] = v
	}
	for k, v := range d.versions {
		c.versions[k] = v
	}
	return c
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memRepository{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) repo() (*memRepository, func()) {
	s.mu.Lock()
	return &memRepository{d: s.data}, s.mu.Unlock
}

func (s *MemoryStore) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	r, unlock := s.repo()
	defer unlock()
	return r.CreatePrompt(ctx, p)
}

func (s *MemoryStore) GetPrompt(ctx context.Context, id, userID uuid.UUID, forUpdate bool) (*models.Prompt, error) {
	r, unlock := s.repo()
	defer unlock()
	return r.GetPrompt(ctx, id, userID, forUpdate)
}

func (s *MemoryStore) ListPrompts(ctx context.Context, userID uuid.UUID, status models.PromptStatus, limit, offset int) ([]models.Prompt, error) {
	r, unlock := s.repo()
	defer unlock()
	return r.ListPrompts(ctx, userID, status, limit, offset)
}

func (s *MemoryStore) UpdatePrompt(ctx context.Context, p *models.Prompt) error {
	r, unlock := s.repo()
	defer unlock()
	return r.UpdatePrompt(ctx, p)
}

func (s *MemoryStore) DeletePrompt(ctx context.Context, id uuid.UUID) error {
	r, unlock := s.repo()
	defer unlock()
	return r.DeletePrompt(ctx, id)
}

func (s *MemoryStore) InsertVersion(ctx context.Context, v *models.PromptVersion) error {
	r, unlock := s.repo()
	defer unlock()
	return r.InsertVersion(ctx, v)
}

func (s *MemoryStore) GetVersion(ctx context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error) {
	r, unlock := s.repo()
	defer unlock()
	return r.GetVersion(ctx, promptID, versionID)
}

func (s *MemoryStore) ListVersions(ctx context.Context, promptID uuid.UUID, deleted bool) ([]models.PromptVersion, error) {
	r, unlock := s.repo()
	defer unlock()
	return r.ListVersions(ctx, promptID, deleted)
}

func (s *MemoryStore) ListVersionRefs(ctx context.Context, promptID uuid.UUID) ([]VersionRef, error) {
	r, unlock := s.repo()
	defer unlock()
	return r.ListVersionRefs(ctx, promptID)
}

func (s *MemoryStore) SetVersionDeletedAt(ctx context.Context, promptID, versionID uuid.UUID, deletedAt *time.Time) error {
	r, unlock := s.repo()
	defer unlock()
	return r.SetVersionDeletedAt(ctx, promptID, versionID, deletedAt)
}

func (s *MemoryStore) DeleteVersion(ctx context.Context, promptID, versionID uuid.UUID) error {
	r, unlock := s.repo()
	defer unlock()
	return r.DeleteVersion(ctx, promptID, versionID)
}

func (s *MemoryStore) PurgeDeletedVersions(ctx context.Context, before time.Time) ([]models.PromptVersion, error) {
	r, unlock := s.repo()
	defer unlock()
	return r.PurgeDeletedVersions(ctx, before)
}

// memRepository operates on memData without locking; callers hold the lock.
type memRepository struct {
	d *memData
}

func (r *memRepository) CreatePrompt(_ context.Context, p *models.Prompt) error {
	r.d.prompts[p.ID] = copyPrompt(*p)
	return nil
}

func (r *memRepository) GetPrompt(_ context.Context, id, userID uuid.UUID, _ bool) (*models.Prompt, error) {
	p, ok := r.d.prompts[id]
	if !ok || p.UserID != userID {
		return nil, ErrPromptNotFound
	}
	p = copyPrompt(p)
	return &p, nil
}

func (r *memRepository) ListPrompts(_ context.Context, userID uuid.UUID, status models.PromptStatus, limit, offset int) ([]models.Prompt, error) {
	prompts := []models.Prompt{}
	for _, p := range r.d.prompts {
		if p.UserID == userID && p.Status == status {
			prompts = append(prompts, copyPrompt(p))
		}
	}
	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].UpdatedAt.After(prompts[j].UpdatedAt)
	})

	if offset >= len(prompts) {
		return []models.Prompt{}, nil
	}
	prompts = prompts[offset:]
	if limit > 0 && limit < len(prompts) {
		prompts = prompts[:limit]
	}
	return prompts, nil
}

func (r *memRepository) UpdatePrompt(_ context.Context, p *models.Prompt) error {
	if _, ok := r.d.prompts[p.ID]; !ok {
		return ErrPromptNotFound
	}
	r.d.prompts[p.ID] = copyPrompt(*p)
	return nil
}

func (r *memRepository) DeletePrompt(_ context.Context, id uuid.UUID) error {
	if _, ok := r.d.prompts[id]; !ok {
		return ErrPromptNotFound
	}
	delete(r.d.prompts, id)
	for vid, v := range r.d.versions {
		if v.PromptID == id {
			delete(r.d.versions, vid)
		}
	}
	return nil
}

func (r *memRepository) InsertVersion(_ context.Context, v *models.PromptVersion) error {
	if _, ok := r.d.prompts[v.PromptID]; !ok {
		return ErrPromptNotFound
	}
	for _, existing := range r.d.versions {
		if existing.PromptID == v.PromptID && existing.VersionNumber == v.VersionNumber {
			return ErrVersionConflict
		}
	}
	r.d.seq++
	r.d.versions[v.ID] = memVersion{PromptVersion: *v, seq: r.d.seq}
	return nil
}

func (r *memRepository) GetVersion(_ context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error) {
	v, ok := r.d.versions[versionID]
	if !ok || v.PromptID != promptID {
		return nil, ErrVersionNotFound
	}
	out := copyVersion(v.PromptVersion)
	return &out, nil
}

func (r *memRepository) ListVersions(_ context.Context, promptID uuid.UUID, deleted bool) ([]models.PromptVersion, error) {
	var matched []memVersion
	for _, v := range r.d.versions {
		if v.PromptID == promptID && v.IsDeleted() == deleted {
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if deleted && !a.DeletedAt.Equal(*b.DeletedAt) {
			return a.DeletedAt.After(*b.DeletedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.seq > b.seq
	})

	versions := make([]models.PromptVersion, len(matched))
	for i, v := range matched {
		versions[i] = copyVersion(v.PromptVersion)
	}
	return versions, nil
}

func (r *memRepository) ListVersionRefs(_ context.Context, promptID uuid.UUID) ([]VersionRef, error) {
	var refs []VersionRef
	for _, v := range r.d.versions {
		if v.PromptID == promptID {
			refs = append(refs, VersionRef{ID: v.ID, VersionNumber: v.VersionNumber})
		}
	}
	return refs, nil
}

func (r *memRepository) SetVersionDeletedAt(_ context.Context, promptID, versionID uuid.UUID, deletedAt *time.Time) error {
	v, ok := r.d.versions[versionID]
	if !ok || v.PromptID != promptID {
		return ErrVersionNotFound
	}
	if deletedAt != nil {
		t := *deletedAt
		deletedAt = &t
	}
	v.DeletedAt = deletedAt
	r.d.versions[versionID] = v
	return nil
}

func (r *memRepository) DeleteVersion(_ context.Context, promptID, versionID uuid.UUID) error {
	v, ok := r.d.versions[versionID]
	if !ok || v.PromptID != promptID {
		return ErrVersionNotFound
	}
	delete(r.d.versions, versionID)
	return nil
}

func (r *memRepository) PurgeDeletedVersions(_ context.Context, before time.Time) ([]models.PromptVersion, error) {
	current := make(map[uuid.UUID]bool, len(r.d.prompts))
	for _, p := range r.d.prompts {
		if p.CurrentVersionID != nil {
			current[*p.CurrentVersionID] = true
		}
	}

	var purged []models.PromptVersion
	for id, v := range r.d.versions {
		if v.DeletedAt != nil && v.DeletedAt.Before(before) && !current[id] {
			purged = append(purged, v.PromptVersion)
			delete(r.d.versions, id)
		}
	}
	return purged, nil
}

func copyPrompt(p models.Prompt) models.Prompt {
	if p.CurrentVersionID != nil {
		id := *p.CurrentVersionID
		p.CurrentVersionID = &id
	}
	return p
}

func copyVersion(v models.PromptVersion) models.PromptVersion {
	if v.DeletedAt != nil {
		t := *v.DeletedAt
		v.DeletedAt = &t
	}
	return v
}
