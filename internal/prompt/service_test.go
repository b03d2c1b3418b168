package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/llm"
	"github.com/nikhilbhutani/promptvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so creation order is visible in timestamps.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.LogEntry
	usage   []models.LLMUsageLog
}

func (a *recordingAuditor) Log(_ context.Context, e audit.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAuditor) LogLLMUsage(_ context.Context, r models.LLMUsageLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = append(a.usage, r)
	return nil
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type publishedEvent struct {
	userID  uuid.UUID
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, userID uuid.UUID, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userID: userID, event: event, payload: payload})
	return p.err
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID][]models.PromptVersion
	generations map[uuid.UUID]int64
	hits        int
	invalidated int
	dropped     int

	// beforeSet runs at the start of SetVersions, outside the lock.
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{
		entries:     make(map[uuid.UUID][]models.PromptVersion),
		generations: make(map[uuid.UUID]int64),
	}
}

func (c *mapCache) GetVersions(_ context.Context, promptID uuid.UUID) ([]models.PromptVersion, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[promptID]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Generation(_ context.Context, promptID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[promptID], nil
}

func (c *mapCache) SetVersions(_ context.Context, promptID uuid.UUID, generation int64, versions []models.PromptVersion) (bool, error) {
	if c.beforeSet != nil {
		hook := c.beforeSet
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[promptID] != generation {
		c.dropped++
		return false, nil
	}
	c.entries[promptID] = versions
	return true, nil
}

func (c *mapCache) InvalidateVersions(_ context.Context, promptID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[promptID]++
	delete(c.entries, promptID)
	c.invalidated++
	return nil
}

type fakeChat struct {
	req  llm.ChatRequest
	resp *llm.ChatResponse
	err  error
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.req = req
	return f.resp, f.err
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	clock *testClock
	user  uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		clock: newTestClock(),
		user:  uuid.New(),
	}
	opts = append([]Option{WithClock(f.clock.Now), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	f.svc = NewService(f.store, opts...)
	return f
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) createPrompt(t *testing.T) *models.Prompt {
	t.Helper()
	p, err := f.svc.CreatePrompt(context.Background(), f.user, CreatePromptRequest{
		Name:         "summarizer",
		SystemPrompt: "You are terse.",
		UserTemplate: "Summarize {{text}}",
		Model:        "gpt-4o-mini",
		Temperature:  ptr(0.7),
		MaxTokens:    ptr(256),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) edit(t *testing.T, promptID uuid.UUID, req UpdatePromptRequest) *models.Prompt {
	t.Helper()
	p, err := f.svc.UpdatePrompt(context.Background(), promptID, f.user, req)
	require.NoError(t, err)
	return p
}

func (f *fixture) snapshot(t *testing.T, promptID uuid.UUID, bump BumpType) *models.PromptVersion {
	t.Helper()
	v, err := f.svc.CreateVersion(context.Background(), promptID, f.user, CreateVersionRequest{Bump: string(bump)})
	require.NoError(t, err)
	return v
}

func labels(versions []models.PromptVersion) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.VersionNumber
	}
	return out
}

func TestCreatePrompt_TakesInitialSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	versions, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	v := versions[0]
	assert.Equal(t, InitialVersionNumber, v.VersionNumber)
	assert.Equal(t, DefaultChangeNote, v.ChangeNote)
	assert.Equal(t, p.Content, v.Content)
	assert.Equal(t, f.user, v.CreatedBy)
	require.NotNil(t, p.CurrentVersionID)
	assert.Equal(t, v.ID, *p.CurrentVersionID)

	got, err := f.svc.GetPrompt(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.False(t, got.HasUnsavedChanges)
}

func TestCreatePrompt_Defaults(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.CreatePrompt(context.Background(), f.user, CreatePromptRequest{
		Name:       "  bare  ",
		ChangeNote: ptr("first cut"),
	})
	require.NoError(t, err)

	assert.Equal(t, "bare", p.Name)
	assert.Equal(t, DefaultModel, p.Model)
	assert.Equal(t, DefaultTemperature, p.Temperature)
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
	assert.Equal(t, models.PromptStatusActive, p.Status)

	v, err := f.svc.GetVersion(context.Background(), p.ID, f.user, *p.CurrentVersionID)
	require.NoError(t, err)
	assert.Equal(t, "first cut", v.ChangeNote)
}

func TestCreatePrompt_Validation(t *testing.T) {
	f := newFixture(t)
	long := make([]byte, MaxChangeNoteLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := map[string]CreatePromptRequest{
		"missing name":       {Name: "  "},
		"temperature high":   {Name: "p", Temperature: ptr(2.5)},
		"temperature NaN":    {Name: "p", Temperature: ptr(math.NaN())},
		"temperature below":  {Name: "p", Temperature: ptr(-0.1)},
		"zero max tokens":    {Name: "p", MaxTokens: ptr(0)},
		"change note length": {Name: "p", ChangeNote: ptr(string(long))},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreatePrompt(context.Background(), f.user, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestScenario_TuneTemperatureThenSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	require.Equal(t, 0.7, p.Temperature)

	edited := f.edit(t, p.ID, UpdatePromptRequest{Temperature: ptr(0.9)})
	assert.True(t, edited.HasUnsavedChanges)

	v, err := f.svc.CreateVersion(ctx, p.ID, f.user, CreateVersionRequest{ChangeNote: ptr("tuned temperature")})
	require.NoError(t, err)
	assert.Equal(t, "1.1", v.VersionNumber)
	assert.Equal(t, 0.9, v.Temperature)
	assert.Equal(t, "tuned temperature", v.ChangeNote)

	got, err := f.svc.GetPrompt(ctx, p.ID, f.user)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentVersionID)
	assert.Equal(t, v.ID, *got.CurrentVersionID)
	assert.False(t, got.HasUnsavedChanges)
}

func TestScenario_RestoreOlderVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	v10 := *p.CurrentVersionID
	original := p.Content

	f.edit(t, p.ID, UpdatePromptRequest{SystemPrompt: ptr("You are thorough."), Temperature: ptr(0.2)})
	v11 := f.snapshot(t, p.ID, BumpMinor)
	f.edit(t, p.ID, UpdatePromptRequest{Model: ptr("claude-3-5-sonnet-latest"), MaxTokens: ptr(2048)})
	v20 := f.snapshot(t, p.ID, BumpMajor)
	assert.Equal(t, "1.1", v11.VersionNumber)
	assert.Equal(t, "2.0", v20.VersionNumber)

	restored, err := f.svc.RestoreVersion(ctx, p.ID, f.user, v10)
	require.NoError(t, err)
	assert.Equal(t, original, restored.Content)
	require.NotNil(t, restored.CurrentVersionID)
	assert.Equal(t, v10, *restored.CurrentVersionID)
	assert.False(t, restored.HasUnsavedChanges)

	got, err := f.svc.GetPrompt(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, original, got.Content)

	// Numbering continues from the restored version without reusing labels.
	next := f.snapshot(t, p.ID, BumpMinor)
	assert.Equal(t, "1.2", next.VersionNumber)
}

func TestRestoreVersion_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	f.edit(t, p.ID, UpdatePromptRequest{UserTemplate: ptr("Explain {{topic}}")})
	snap := f.snapshot(t, p.ID, BumpMinor)
	f.edit(t, p.ID, UpdatePromptRequest{UserTemplate: ptr("Rewrite {{topic}}"), Temperature: ptr(1.5)})

	restored, err := f.svc.RestoreVersion(ctx, p.ID, f.user, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Content, restored.Content)
}

func TestListVersions_NewestFirst(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t)
	f.snapshot(t, p.ID, BumpMinor)
	f.snapshot(t, p.ID, BumpMajor)

	versions, err := f.svc.ListVersions(context.Background(), p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0", "1.1", "1.0"}, labels(versions))
}

func TestSoftDelete_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	first := *p.CurrentVersionID
	f.snapshot(t, p.ID, BumpMinor)

	before, err := f.svc.GetVersion(ctx, p.ID, f.user, first)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, first))

	active, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1"}, labels(active))

	trashed, err := f.svc.ListDeletedVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, first, trashed[0].ID)
	assert.NotNil(t, trashed[0].DeletedAt)

	back, err := f.svc.RestoreDeletedVersion(ctx, p.ID, f.user, first)
	require.NoError(t, err)
	assert.Nil(t, back.DeletedAt)
	assert.Equal(t, before.Content, back.Content)
	assert.Equal(t, before.VersionNumber, back.VersionNumber)

	active, err = f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.0"}, labels(active))
}

func TestDeleteVersion_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	first := *p.CurrentVersionID

	err := f.svc.DeleteVersion(ctx, p.ID, f.user, first)
	require.ErrorIs(t, err, ErrCurrentVersion)
	assert.ErrorIs(t, err, ErrConflict)

	err = f.svc.DeleteVersion(ctx, p.ID, f.user, uuid.New())
	assert.ErrorIs(t, err, ErrVersionNotFound)

	f.snapshot(t, p.ID, BumpMinor)
	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, first))

	// A version already in the trash is not among the deletable ones.
	err = f.svc.DeleteVersion(ctx, p.ID, f.user, first)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	// Nor can it be restored into the live fields.
	_, err = f.svc.RestoreVersion(ctx, p.ID, f.user, first)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRestoreDeletedVersion_RequiresDeletedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	_, err := f.svc.RestoreDeletedVersion(ctx, p.ID, f.user, *p.CurrentVersionID)
	require.ErrorIs(t, err, ErrDeletedVersionNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RestoreDeletedVersion(ctx, p.ID, f.user, uuid.New())
	assert.ErrorIs(t, err, ErrDeletedVersionNotFound)
}

func TestPermanentDeleteVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	first := *p.CurrentVersionID
	second := f.snapshot(t, p.ID, BumpMinor)
	f.snapshot(t, p.ID, BumpMinor)

	// Active version removed directly.
	require.NoError(t, f.svc.PermanentDeleteVersion(ctx, p.ID, f.user, first))

	// Trashed version removed from the trash.
	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, second.ID))
	require.NoError(t, f.svc.PermanentDeleteVersion(ctx, p.ID, f.user, second.ID))

	active, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2"}, labels(active))

	trashed, err := f.svc.ListDeletedVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Empty(t, trashed)

	for _, id := range []uuid.UUID{first, second.ID} {
		_, err = f.svc.RestoreDeletedVersion(ctx, p.ID, f.user, id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.svc.RestoreVersion(ctx, p.ID, f.user, id)
		assert.ErrorIs(t, err, ErrNotFound)
		err = f.svc.PermanentDeleteVersion(ctx, p.ID, f.user, id)
		assert.ErrorIs(t, err, ErrVersionNotFound)
	}
}

func TestPermanentDeleteVersion_RefusesCurrent(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t)

	err := f.svc.PermanentDeleteVersion(context.Background(), p.ID, f.user, *p.CurrentVersionID)
	assert.ErrorIs(t, err, ErrCurrentVersion)
}

func TestCreateVersion_NumberingIncludesDeletedVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	v11 := f.snapshot(t, p.ID, BumpMinor)
	v12 := f.snapshot(t, p.ID, BumpMinor)

	_, err := f.svc.RestoreVersion(ctx, p.ID, f.user, v11.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, v12.ID))

	next := f.snapshot(t, p.ID, BumpMinor)
	assert.Equal(t, "1.3", next.VersionNumber)
}

func TestCreateVersion_BrokenLineage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	p.CurrentVersionID = ptr(uuid.New())
	require.NoError(t, f.store.UpdatePrompt(ctx, p))

	_, err := f.svc.CreateVersion(ctx, p.ID, f.user, CreateVersionRequest{})
	require.ErrorIs(t, err, ErrBrokenLineage)
	assert.ErrorIs(t, err, ErrIntegrity)

	versions, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCreateVersion_InvalidBump(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t)

	_, err := f.svc.CreateVersion(context.Background(), p.ID, f.user, CreateVersionRequest{Bump: "patch"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	versionID := *p.CurrentVersionID
	stranger := uuid.New()

	ops := map[string]func() error{
		"list versions": func() error {
			_, err := f.svc.ListVersions(ctx, p.ID, stranger)
			return err
		},
		"create version": func() error {
			_, err := f.svc.CreateVersion(ctx, p.ID, stranger, CreateVersionRequest{})
			return err
		},
		"restore version": func() error {
			_, err := f.svc.RestoreVersion(ctx, p.ID, stranger, versionID)
			return err
		},
		"delete version": func() error {
			return f.svc.DeleteVersion(ctx, p.ID, stranger, versionID)
		},
		"restore deleted version": func() error {
			_, err := f.svc.RestoreDeletedVersion(ctx, p.ID, stranger, versionID)
			return err
		},
		"permanently delete version": func() error {
			return f.svc.PermanentDeleteVersion(ctx, p.ID, stranger, versionID)
		},
		"get prompt": func() error {
			_, err := f.svc.GetPrompt(ctx, p.ID, stranger)
			return err
		},
		"update prompt": func() error {
			_, err := f.svc.UpdatePrompt(ctx, p.ID, stranger, UpdatePromptRequest{Name: ptr("mine")})
			return err
		},
		"delete prompt": func() error {
			return f.svc.DeletePrompt(ctx, p.ID, stranger)
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.ErrorIs(t, err, ErrPromptNotFound)
			assert.Equal(t, "Prompt not found", err.Error())
		})
	}

	// Nothing changed for the owner.
	versions, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, labels(versions))
}

func TestVersionNotFound_IsDistinctFromPromptNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t)

	_, err := f.svc.RestoreVersion(context.Background(), p.ID, f.user, uuid.New())
	require.ErrorIs(t, err, ErrVersionNotFound)
	assert.NotErrorIs(t, err, ErrPromptNotFound)
	assert.Equal(t, "Version not found", err.Error())
}

func TestVersionOfAnotherPromptIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createPrompt(t)
	b := f.createPrompt(t)

	_, err := f.svc.RestoreVersion(ctx, a.ID, f.user, *b.CurrentVersionID)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	err = f.svc.PermanentDeleteVersion(ctx, a.ID, f.user, *b.CurrentVersionID)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

// conflictStore makes the next InsertVersion calls fail as if another writer
// had taken the number first.
type conflictStore struct {
	*MemoryStore
	mu        sync.Mutex
	conflicts int
	inserts   int
}

type conflictRepo struct {
	Repository
	s *conflictStore
}

func (s *conflictStore) WithTx(ctx context.Context, fn func(repo Repository) error) error {
	return s.MemoryStore.WithTx(ctx, func(repo Repository) error {
		return fn(&conflictRepo{Repository: repo, s: s})
	})
}

func (r *conflictRepo) InsertVersion(ctx context.Context, v *models.PromptVersion) error {
	r.s.mu.Lock()
	r.s.inserts++
	if r.s.conflicts > 0 {
		r.s.conflicts--
		r.s.mu.Unlock()
		return ErrVersionConflict
	}
	r.s.mu.Unlock()
	return r.Repository.InsertVersion(ctx, v)
}

func TestCreateVersion_RetriesOnConflict(t *testing.T) {
	store := &conflictStore{MemoryStore: NewMemoryStore()}
	user := uuid.New()
	svc := NewService(store, WithLogger(slog.New(slog.DiscardHandler)), WithConflictAttempts(3))
	ctx := context.Background()

	p, err := svc.CreatePrompt(ctx, user, CreatePromptRequest{Name: "retry"})
	require.NoError(t, err)

	store.conflicts, store.inserts = 2, 0
	v, err := svc.CreateVersion(ctx, p.ID, user, CreateVersionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "1.1", v.VersionNumber)
	assert.Equal(t, 3, store.inserts)

	store.conflicts, store.inserts = 5, 0
	_, err = svc.CreateVersion(ctx, p.ID, user, CreateVersionRequest{})
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, store.inserts)

	versions, err := svc.ListVersions(ctx, p.ID, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.0"}, labels(versions))
}

func TestCreateVersion_ConcurrentCallsGetDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateVersion(ctx, p.ID, f.user, CreateVersionRequest{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	require.Len(t, versions, n+1)
	seen := make(map[string]bool)
	for _, v := range versions {
		assert.False(t, seen[v.VersionNumber], "duplicate %s", v.VersionNumber)
		seen[v.VersionNumber] = true
	}
	assert.Equal(t, "1.12", versions[0].VersionNumber)
}

func TestListVersions_ServedFromCacheUntilInvalidated(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()
	p := f.createPrompt(t)

	_, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	_, err = f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	f.snapshot(t, p.ID, BumpMinor)
	versions, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.0"}, labels(versions))
	assert.Equal(t, 1, cache.hits)

	// Strangers never reach the cache.
	_, err = f.svc.ListVersions(ctx, p.ID, uuid.New())
	require.ErrorIs(t, err, ErrPromptNotFound)
	assert.Equal(t, 1, cache.hits)
}

func TestListVersions_FillRacingDeleteIsDropped(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()
	p := f.createPrompt(t)
	v := f.snapshot(t, p.ID, BumpMinor)
	first := p.CurrentVersionID
	_, err := f.svc.RestoreVersion(ctx, p.ID, f.user, *first)
	require.NoError(t, err)

	// The delete commits after the listing was read but before it is cached.
	cache.beforeSet = func() {
		require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, v.ID))
	}
	versions, err := f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.0"}, labels(versions))
	assert.Equal(t, 1, cache.dropped)

	versions, err = f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, labels(versions))
	assert.Zero(t, cache.hits)

	versions, err = f.svc.ListVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0"}, labels(versions))
	assert.Equal(t, 1, cache.hits)
}

func TestMutations_AuditAndPublish(t *testing.T) {
	auditor := &recordingAuditor{}
	events := &recordingPublisher{err: errors.New("webhook store down")}
	f := newFixture(t, WithAuditor(auditor), WithEvents(events))
	ctx := context.Background()

	p := f.createPrompt(t)
	first := *p.CurrentVersionID
	v := f.snapshot(t, p.ID, BumpMinor)
	_, err := f.svc.RestoreVersion(ctx, p.ID, f.user, first)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, v.ID))
	_, err = f.svc.RestoreDeletedVersion(ctx, p.ID, f.user, v.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.PermanentDeleteVersion(ctx, p.ID, f.user, v.ID))

	assert.Equal(t, []string{
		"prompt.create", "version.create", "version.restore",
		"version.delete", "version.undelete", "version.purge",
	}, auditor.actions())

	var names []string
	for _, e := range events.events {
		names = append(names, e.event)
		assert.Equal(t, f.user, e.userID)
	}
	assert.Equal(t, []string{
		EventPromptCreated, EventVersionCreated, EventVersionRestored,
		EventVersionDeleted, EventVersionUndeleted, EventVersionPurged,
	}, names)

	payload := events.events[1].payload.(map[string]any)
	assert.Equal(t, v.ID, payload["version_id"])
	assert.Equal(t, "1.1", payload["version_number"])
}

func TestPurgeDeletedVersions(t *testing.T) {
	cache := newMapCache()
	auditor := &recordingAuditor{}
	f := newFixture(t, WithCache(cache), WithAuditor(auditor))
	ctx := context.Background()
	p := f.createPrompt(t)
	first := *p.CurrentVersionID
	second := f.snapshot(t, p.ID, BumpMinor)
	f.snapshot(t, p.ID, BumpMinor)

	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, first))
	f.clock.Advance(48 * time.Hour)
	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, second.ID))

	n, err := f.svc.PurgeDeletedVersions(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trashed, err := f.svc.ListDeletedVersions(ctx, p.ID, f.user)
	require.NoError(t, err)
	require.Len(t, trashed, 1)
	assert.Equal(t, second.ID, trashed[0].ID)
	assert.Contains(t, auditor.actions(), "version.purge")

	_, err = f.svc.PurgeDeletedVersions(ctx, -time.Hour)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeletePrompt_RemovesVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	v := f.snapshot(t, p.ID, BumpMinor)

	require.NoError(t, f.svc.DeletePrompt(ctx, p.ID, f.user))

	_, err := f.store.GetVersion(ctx, p.ID, v.ID)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	_, err = f.svc.ListVersions(ctx, p.ID, f.user)
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestTrashAndRestorePrompt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kept := f.createPrompt(t)
	p := f.createPrompt(t)

	trashed, err := f.svc.TrashPrompt(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.PromptStatusTrash, trashed.Status)

	active, err := f.svc.ListPrompts(ctx, f.user, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)

	inTrash, err := f.svc.ListPrompts(ctx, f.user, models.PromptStatusTrash, 10, 0)
	require.NoError(t, err)
	require.Len(t, inTrash, 1)

	// Versioning keeps working on a trashed prompt.
	v := f.snapshot(t, p.ID, BumpMinor)
	assert.Equal(t, "1.1", v.VersionNumber)

	restored, err := f.svc.RestorePrompt(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, models.PromptStatusActive, restored.Status)

	_, err = f.svc.ListPrompts(ctx, f.user, "archived", 10, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDiffVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	d, err := f.svc.DiffVersion(ctx, p.ID, f.user, *p.CurrentVersionID)
	require.NoError(t, err)
	assert.False(t, d.Changed)
	assert.Empty(t, d.Fields)

	f.edit(t, p.ID, UpdatePromptRequest{Temperature: ptr(0.1)})
	d, err = f.svc.DiffVersion(ctx, p.ID, f.user, *p.CurrentVersionID)
	require.NoError(t, err)
	assert.True(t, d.Changed)
	assert.Equal(t, []string{"temperature"}, d.Fields)
	assert.Equal(t, InitialVersionNumber, d.VersionNumber)
}

func TestUpdatePrompt_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)

	_, err := f.svc.UpdatePrompt(ctx, p.ID, f.user, UpdatePromptRequest{Model: ptr(" ")})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.GetPrompt(ctx, p.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.False(t, got.HasUnsavedChanges)
}

func TestRenderPrompt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.createPrompt(t)
	first := *p.CurrentVersionID
	f.edit(t, p.ID, UpdatePromptRequest{UserTemplate: ptr("Translate {{text}} to {{lang}}")})

	r, err := f.svc.RenderPrompt(ctx, p.ID, f.user, RenderRequest{Variables: map[string]string{"text": "hola", "lang": "en"}})
	require.NoError(t, err)
	assert.Equal(t, "Translate hola to en", r.User)
	assert.Equal(t, "You are terse.", r.System)
	assert.Equal(t, 9, r.EstimatedTokens)

	r, err = f.svc.RenderPrompt(ctx, p.ID, f.user, RenderRequest{VersionID: &first, Variables: map[string]string{"text": "a doc"}})
	require.NoError(t, err)
	assert.Equal(t, "Summarize a doc", r.User)

	_, err = f.svc.RenderPrompt(ctx, p.ID, f.user, RenderRequest{Variables: map[string]string{"text": "hola"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRunPrompt(t *testing.T) {
	chat := &fakeChat{resp: &llm.ChatResponse{
		ID: "resp-1", Provider: "openai", Model: "gpt-4o-mini", Content: "short",
		InputTokens: 10, OutputTokens: 2, TotalTokens: 12,
	}}
	auditor := &recordingAuditor{}
	f := newFixture(t, WithChatClient(chat), WithAuditor(auditor))
	p := f.createPrompt(t)

	out, err := f.svc.RunPrompt(context.Background(), p.ID, f.user, RenderRequest{Variables: map[string]string{"text": "long text"}})
	require.NoError(t, err)
	assert.Equal(t, "short", out.Result.Content)

	assert.Equal(t, "gpt-4o-mini", chat.req.Model)
	assert.Equal(t, 0.7, chat.req.Temperature)
	assert.Equal(t, 256, chat.req.MaxTokens)
	require.Len(t, chat.req.Messages, 2)
	assert.Equal(t, "system", chat.req.Messages[0].Role)
	assert.Equal(t, "Summarize long text", chat.req.Messages[1].Content)

	require.Len(t, auditor.usage, 1)
	assert.Equal(t, 12, auditor.usage[0].TotalTokens)
	assert.Equal(t, p.ID, *auditor.usage[0].PromptID)
}

func TestRunPrompt_Errors(t *testing.T) {
	f := newFixture(t)
	p := f.createPrompt(t)
	vars := RenderRequest{Variables: map[string]string{"text": "x"}}

	_, err := f.svc.RunPrompt(context.Background(), p.ID, f.user, vars)
	assert.ErrorIs(t, err, ErrRunUnavailable)

	chat := &fakeChat{err: errors.New("rate limited")}
	f = newFixture(t, WithChatClient(chat))
	p = f.createPrompt(t)
	_, err = f.svc.RunPrompt(context.Background(), p.ID, f.user, vars)
	assert.ErrorIs(t, err, ErrUpstream)

	for _, cause := range []error{
		fmt.Errorf("%w %q", llm.ErrNoProvider, "llama-3"),
		fmt.Errorf("chat via anthropic: %w: temperature too high", llm.ErrInvalidRequest),
	} {
		chat.err = cause
		_, err = f.svc.RunPrompt(context.Background(), p.ID, f.user, vars)
		assert.ErrorIs(t, err, ErrValidation, cause.Error())
		assert.NotErrorIs(t, err, ErrUpstream, cause.Error())
	}
}

func TestRunPrompt_ZeroTemperatureSnapshot(t *testing.T) {
	chat := &fakeChat{resp: &llm.ChatResponse{Provider: "openai", Model: "gpt-4o-mini"}}
	f := newFixture(t, WithChatClient(chat))
	ctx := context.Background()
	p := f.createPrompt(t)
	f.edit(t, p.ID, UpdatePromptRequest{Temperature: ptr(0.0)})
	v := f.snapshot(t, p.ID, BumpMinor)
	f.edit(t, p.ID, UpdatePromptRequest{Temperature: ptr(1.3)})

	_, err := f.svc.RunPrompt(ctx, p.ID, f.user, RenderRequest{VersionID: &v.ID, Variables: map[string]string{"text": "x"}})
	require.NoError(t, err)
	assert.Zero(t, chat.req.Temperature)
}

func TestRenderPrompt_DeletedVersionHidden(t *testing.T) {
	chat := &fakeChat{resp: &llm.ChatResponse{Provider: "openai", Model: "gpt-4o-mini"}}
	f := newFixture(t, WithChatClient(chat))
	ctx := context.Background()
	p := f.createPrompt(t)
	v := f.snapshot(t, p.ID, BumpMinor)
	_, err := f.svc.RestoreVersion(ctx, p.ID, f.user, *p.CurrentVersionID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteVersion(ctx, p.ID, f.user, v.ID))

	req := RenderRequest{VersionID: &v.ID, Variables: map[string]string{"text": "x"}}
	_, err = f.svc.RenderPrompt(ctx, p.ID, f.user, req)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	_, err = f.svc.RunPrompt(ctx, p.ID, f.user, req)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = f.svc.RestoreDeletedVersion(ctx, p.ID, f.user, v.ID)
	require.NoError(t, err)
	_, err = f.svc.RenderPrompt(ctx, p.ID, f.user, req)
	assert.NoError(t, err)
}
