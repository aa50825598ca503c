package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/models"
)

// fakeStore is an in-memory stand-in for *store.Store, good enough to drive
// the diff algorithm without a database.
type fakeStore struct {
	sources map[string]models.BanSource
	bans    map[int64]models.Ban
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{sources: map[string]models.BanSource{}, bans: map[int64]models.Ban{}}
}

func (f *fakeStore) seed(sourceName string, b models.Ban) int64 {
	f.nextID++
	b.ID = f.nextID
	b.SourceID = f.sources[sourceName].ID
	for i := range b.JobBans {
		b.JobBans[i].BanID = b.ID
	}
	f.bans[b.ID] = b
	return b.ID
}

func (f *fakeStore) EnsureSources(_ context.Context, skeletons map[string]models.BanSource) (map[string]models.BanSource, error) {
	out := make(map[string]models.BanSource, len(skeletons))
	for name := range skeletons {
		if existing, ok := f.sources[name]; ok {
			out[name] = existing
			continue
		}
		f.nextID++
		src := models.BanSource{ID: f.nextID, Name: name}
		f.sources[name] = src
		out[name] = src
	}
	return out, nil
}

func (f *fakeStore) LoadBans(_ context.Context, sourceIDs []int64) ([]models.Ban, error) {
	want := make(map[int64]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		want[id] = struct{}{}
	}
	var out []models.Ban
	for _, b := range f.bans {
		if _, ok := want[b.SourceID]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) CommitChanges(_ context.Context, inserts, updates []models.Ban) ([]models.Ban, error) {
	inserted := make([]models.Ban, 0, len(inserts))
	for _, b := range inserts {
		f.nextID++
		b.ID = f.nextID
		for i := range b.JobBans {
			b.JobBans[i].BanID = b.ID
		}
		f.bans[b.ID] = b
		inserted = append(inserted, b)
	}
	for _, b := range updates {
		f.bans[b.ID] = b
	}
	return inserted, nil
}

func (f *fakeStore) CommitDeletions(_ context.Context, deletes []models.Ban) error {
	for _, b := range deletes {
		delete(f.bans, b.ID)
	}
	return nil
}

// fakeAdapter returns canned fetch results; it has no Sources beyond what
// the test wires in via sourceNames.
type fakeAdapter struct {
	sourceNames []string
	supportsIDs bool
	fetchAll    []models.Ban
	fetchErr    error
}

func (a *fakeAdapter) Sources() map[string]models.BanSource {
	out := make(map[string]models.BanSource, len(a.sourceNames))
	for _, n := range a.sourceNames {
		out[n] = models.BanSource{Name: n}
	}
	return out
}
func (a *fakeAdapter) SupportsBanIDs() bool { return a.supportsIDs }
func (a *fakeAdapter) FetchAll(_ context.Context) ([]models.Ban, error) {
	return a.fetchAll, a.fetchErr
}
func (a *fakeAdapter) FetchNew(_ context.Context) ([]models.Ban, error) {
	return a.fetchAll, a.fetchErr
}

func intPtr(v int64) *int64 { return &v }

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// Scenario 1: cold start, ID-supporting source.
func TestReconcile_ColdStartInsert(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil, zerolog.Nop())

	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{{
			SourceBanID: intPtr(7),
			Ckey:        "Alice",
			BanType:     models.BanTypeServer,
			BannedOn:    mustTime("2024-01-01T00:00:00Z"),
			BannedBy:    "Mod1",
			Reason:      "x",
			Source:      &models.BanSource{Name: "alpha"},
		}},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Deleted)

	require.Len(t, store.bans, 1)
	for _, b := range store.bans {
		assert.Equal(t, "alice", b.Ckey)
	}
}

// Scenario 2: reason change.
func TestReconcile_ReasonChange(t *testing.T) {
	store := newFakeStore()
	store.EnsureSources(context.Background(), map[string]models.BanSource{"alpha": {}})
	banID := store.seed("alpha", models.Ban{
		SourceBanID: intPtr(7),
		Ckey:        "alice",
		BanType:     models.BanTypeServer,
		BannedOn:    mustTime("2024-01-01T00:00:00Z"),
		BannedBy:    "mod1",
		Reason:      "x",
	})

	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{{
			SourceBanID: intPtr(7),
			Ckey:        "Alice",
			BanType:     models.BanTypeServer,
			BannedOn:    mustTime("2024-01-01T00:00:00Z"),
			BannedBy:    "Mod1",
			Reason:      "y",
			Source:      &models.BanSource{Name: "alpha"},
		}},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "y", store.bans[banID].Reason)
}

// Scenario 3: job set change.
func TestReconcile_JobSetChange(t *testing.T) {
	store := newFakeStore()
	store.EnsureSources(context.Background(), map[string]models.BanSource{"alpha": {}})
	banID := store.seed("alpha", models.Ban{
		SourceBanID: intPtr(9),
		Ckey:        "bob",
		BanType:     models.BanTypeJob,
		BannedOn:    mustTime("2024-01-01T00:00:00Z"),
		BannedBy:    "mod1",
		JobBans:     []models.JobBan{{Job: "Captain"}, {Job: "HoS"}},
	})

	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{{
			SourceBanID: intPtr(9),
			Ckey:        "bob",
			BanType:     models.BanTypeJob,
			BannedOn:    mustTime("2024-01-01T00:00:00Z"),
			BannedBy:    "mod1",
			JobBans:     []models.JobBan{{Job: "Captain"}},
			Source:      &models.BanSource{Name: "alpha"},
		}},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.ElementsMatch(t, []string{"Captain"}, store.bans[banID].Jobs())
}

// Scenario 4: unban detected.
func TestReconcile_UnbanDetected(t *testing.T) {
	store := newFakeStore()
	store.EnsureSources(context.Background(), map[string]models.BanSource{"alpha": {}})
	banID := store.seed("alpha", models.Ban{
		SourceBanID: intPtr(3),
		Ckey:        "carl",
		BanType:     models.BanTypeServer,
		BannedOn:    mustTime("2024-01-01T00:00:00Z"),
		BannedBy:    "mod1",
	})

	r := New(store, nil, zerolog.Nop())
	mod := "mod1"
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{{
			SourceBanID: intPtr(3),
			Ckey:        "carl",
			BanType:     models.BanTypeServer,
			BannedOn:    mustTime("2024-01-01T00:00:00Z"),
			BannedBy:    "mod1",
			UnbannedBy:  &mod,
			Source:      &models.BanSource{Name: "alpha"},
		}},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	require.NotNil(t, store.bans[banID].UnbannedBy)
	assert.Equal(t, "mod1", *store.bans[banID].UnbannedBy)
}

// Scenario 5: no-ID source, full refresh, deletion.
func TestReconcile_NoIDSourceDeletion(t *testing.T) {
	store := newFakeStore()
	store.EnsureSources(context.Background(), map[string]models.BanSource{"alpha": {}})

	bannedOn := mustTime("2024-01-01T00:00:00Z")
	idA := store.seed("alpha", models.Ban{Ckey: "a", BanType: models.BanTypeServer, BannedOn: bannedOn, BannedBy: "mod1"})
	idB := store.seed("alpha", models.Ban{Ckey: "b", BanType: models.BanTypeServer, BannedOn: bannedOn, BannedBy: "mod1"})
	idC := store.seed("alpha", models.Ban{Ckey: "c", BanType: models.BanTypeServer, BannedOn: bannedOn, BannedBy: "mod1"})

	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: false,
		fetchAll: []models.Ban{
			{Ckey: "a", BanType: models.BanTypeServer, BannedOn: bannedOn, BannedBy: "mod1", Source: &models.BanSource{Name: "alpha"}},
			{Ckey: "b", BanType: models.BanTypeServer, BannedOn: bannedOn, BannedBy: "mod1", Source: &models.BanSource{Name: "alpha"}},
		},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Contains(t, store.bans, idA)
	assert.Contains(t, store.bans, idB)
	assert.NotContains(t, store.bans, idC)
}

// Scenario 6: SafetyAbort.
func TestReconcile_SafetyAbort(t *testing.T) {
	store := newFakeStore()
	store.EnsureSources(context.Background(), map[string]models.BanSource{"alpha": {}})

	bannedOn := mustTime("2024-01-01T00:00:00Z")
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, store.seed("alpha", models.Ban{
			Ckey: string(rune('a' + i)), BanType: models.BanTypeServer, BannedOn: bannedOn, BannedBy: "mod1",
		}))
	}

	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{sourceNames: []string{"alpha"}, supportsIDs: false, fetchAll: nil}

	_, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.Error(t, err)
	assert.Equal(t, joberr.CodeSafetyAbort, joberr.Code(err))

	for _, id := range ids {
		assert.Contains(t, store.bans, id)
	}
}

// Empty stored forces a complete refresh even when the caller asked for
// incremental.
func TestReconcile_EmptyStoredForcesCompleteRefresh(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{{
			SourceBanID: intPtr(1), Ckey: "a", BanType: models.BanTypeServer,
			BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "mod1",
			Source: &models.BanSource{Name: "alpha"},
		}},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, false)
	require.NoError(t, err)
	assert.True(t, result.IsCompleteRefresh)
}

// fetched = ∅ with |stored| = 1 on a full refresh: that one ban IS deleted.
func TestReconcile_SingleBanDeletedWhenFetchedEmpty(t *testing.T) {
	store := newFakeStore()
	store.EnsureSources(context.Background(), map[string]models.BanSource{"alpha": {}})
	id := store.seed("alpha", models.Ban{Ckey: "a", BanType: models.BanTypeServer, BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "mod1"})

	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{sourceNames: []string{"alpha"}, supportsIDs: false, fetchAll: nil}

	result, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.NotContains(t, store.bans, id)
}

// Duplicate identity in fetched: last occurrence wins, no crash.
func TestReconcile_DuplicateIdentityLastWins(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil, zerolog.Nop())
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{
			{SourceBanID: intPtr(1), Ckey: "a", BanType: models.BanTypeServer, BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "mod1", Reason: "first", Source: &models.BanSource{Name: "alpha"}},
			{SourceBanID: intPtr(1), Ckey: "a", BanType: models.BanTypeServer, BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "mod1", Reason: "second", Source: &models.BanSource{Name: "alpha"}},
		},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	require.Len(t, store.bans, 1)
	for _, b := range store.bans {
		assert.Equal(t, "second", b.Reason)
	}
}

// Idempotent reconciliation: running twice with the same fetched input
// produces zero further mutations on the second run.
func TestReconcile_Idempotent(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil, zerolog.Nop())
	fetch := []models.Ban{{
		SourceBanID: intPtr(7), Ckey: "Alice", BanType: models.BanTypeServer,
		BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "Mod1", Reason: "x",
		Source: &models.BanSource{Name: "alpha"},
	}}
	a := &fakeAdapter{sourceNames: []string{"alpha"}, supportsIDs: true, fetchAll: fetch}

	first, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 0, second.Deleted)
}

// Incremental vs full equivalence on stable inputs.
func TestReconcile_IncrementalVsFullEquivalence(t *testing.T) {
	store := newFakeStore()
	r := New(store, nil, zerolog.Nop())
	fetch := []models.Ban{{
		SourceBanID: intPtr(7), Ckey: "Alice", BanType: models.BanTypeServer,
		BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "Mod1", Reason: "x",
		Source: &models.BanSource{Name: "alpha"},
	}}
	a := &fakeAdapter{sourceNames: []string{"alpha"}, supportsIDs: true, fetchAll: fetch}

	_, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)

	incremental, err := r.Run(context.Background(), "alpha-adapter", a, false)
	require.NoError(t, err)
	assert.Equal(t, 0, incremental.Inserted)
	assert.Equal(t, 0, incremental.Updated)
	assert.Equal(t, 0, incremental.Deleted)
}

// Ignore-list short-circuit: an ignored ckey is never inserted.
func TestReconcile_IgnoreList(t *testing.T) {
	store := newFakeStore()
	r := New(store, func(c string) bool { return c == "ignoredkey" }, zerolog.Nop())
	a := &fakeAdapter{
		sourceNames: []string{"alpha"},
		supportsIDs: true,
		fetchAll: []models.Ban{{
			SourceBanID: intPtr(1), Ckey: "IgnoredKey", BanType: models.BanTypeServer,
			BannedOn: mustTime("2024-01-01T00:00:00Z"), BannedBy: "mod1",
			Source: &models.BanSource{Name: "alpha"},
		}},
	}

	result, err := r.Run(context.Background(), "alpha-adapter", a, true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Empty(t, store.bans)
}
