// Package reconcile implements the Reconciler: it diffs a source adapter's
// freshly fetched bans against the store's existing rows for that
// adapter's sources and commits the minimal set of inserts, field updates,
// and (on full refresh, subject to the safety gate) deletions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.banwarden.dev/banwarden/internal/adapter"
	"go.banwarden.dev/banwarden/internal/ckey"
	"go.banwarden.dev/banwarden/internal/joberr"
	"go.banwarden.dev/banwarden/internal/models"
)

// storeGateway is the slice of *store.Store the reconciler depends on. It is
// declared here, not in the store package, so reconcile_test.go can satisfy
// it with an in-memory fake without touching a database.
type storeGateway interface {
	EnsureSources(ctx context.Context, skeletons map[string]models.BanSource) (map[string]models.BanSource, error)
	LoadBans(ctx context.Context, sourceIDs []int64) ([]models.Ban, error)
	CommitChanges(ctx context.Context, inserts, updates []models.Ban) ([]models.Ban, error)
	CommitDeletions(ctx context.Context, deletes []models.Ban) error
}

// IgnoreChecker reports whether a canonicalized ckey should be skipped
// during reconciliation — the generalized form of the teacher's
// IsIgnoredSteamID check (see SPEC_FULL.md, "Supplemented features").
// A nil IgnoreChecker ignores nothing.
type IgnoreChecker func(ckey string) bool

// Result summarizes one reconciliation pass.
type Result struct {
	Inserted int
	Updated  int
	Deleted  int
	// IsCompleteRefresh records whether the deletion phase ran at all,
	// which can differ from what the caller requested when stored was empty.
	IsCompleteRefresh bool
}

// Reconciler ties one Store to the diff algorithm.
type Reconciler struct {
	store   storeGateway
	ignored IgnoreChecker
	log     zerolog.Logger
}

// New builds a Reconciler. ignored may be nil.
func New(store storeGateway, ignored IgnoreChecker, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, ignored: ignored, log: log}
}

// Run executes one full reconciliation pass for a: ensuring sources exist,
// loading stored bans, fetching upstream data in the mode the caller
// requested, and diffing. completeRefreshRequested is forced to true when
// the store holds nothing yet, so a brand-new deployment always starts
// from a full refresh regardless of which trigger fired first.
func (r *Reconciler) Run(ctx context.Context, adapterName string, a adapter.Adapter, completeRefreshRequested bool) (Result, error) {
	sources := a.Sources()
	if len(sources) == 0 {
		return Result{}, joberr.MalformedPayload(adapterName, errors.New("adapter declares zero sources"))
	}

	resolvedSources, err := r.store.EnsureSources(ctx, sources)
	if err != nil {
		return Result{}, joberr.WrapStoreError(err, "ensure sources for adapter %q", adapterName)
	}

	sourceIDs := make([]int64, 0, len(resolvedSources))
	for _, src := range resolvedSources {
		sourceIDs = append(sourceIDs, src.ID)
	}

	stored, err := r.store.LoadBans(ctx, sourceIDs)
	if err != nil {
		return Result{}, joberr.WrapStoreError(err, "load stored bans for adapter %q", adapterName)
	}

	isCompleteRefresh := completeRefreshRequested || len(stored) == 0

	var fetched []models.Ban
	if isCompleteRefresh {
		fetched, err = a.FetchAll(ctx)
	} else {
		fetched, err = a.FetchNew(ctx)
	}
	if err != nil {
		return Result{}, err
	}

	fetched = r.filterIgnored(fetched)

	return r.diff(ctx, adapterName, a.SupportsBanIDs(), resolvedSources, stored, fetched, isCompleteRefresh)
}

// filterIgnored drops bans for ignored (canonicalized) ckeys before they
// ever reach the diff.
func (r *Reconciler) filterIgnored(fetched []models.Ban) []models.Ban {
	if r.ignored == nil {
		return fetched
	}
	kept := fetched[:0:0]
	for _, b := range fetched {
		if r.ignored(ckey.Canonicalize(b.Ckey)) {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// diff resolves and canonicalizes every fetched ban, matches it against
// stored by identity, and commits inserts/updates (and, on a complete
// refresh, deletions of whatever went missing, subject to the safety gate).
func (r *Reconciler) diff(ctx context.Context, adapterName string, supportsBanIDs bool, sources map[string]models.BanSource, stored, fetched []models.Ban, isCompleteRefresh bool) (Result, error) {
	storedByIdentity := make(map[identity]*models.Ban, len(stored))
	storedCopies := make([]models.Ban, len(stored))
	copy(storedCopies, stored)
	for i := range storedCopies {
		storedByIdentity[identityOf(&storedCopies[i], supportsBanIDs)] = &storedCopies[i]
	}

	insertsByIdentity := make(map[identity]models.Ban)
	changed := make(map[identity]struct{})
	fetchedIdentities := make(map[identity]struct{}, len(fetched))

	for _, raw := range fetched {
		b, err := resolve(raw, sources)
		if err != nil {
			return Result{}, joberr.MalformedPayload(adapterName, err)
		}

		id := identityOf(&b, supportsBanIDs)
		if _, dup := fetchedIdentities[id]; dup {
			r.log.Warn().Str("adapter", adapterName).Str("ckey", b.Ckey).Msg("duplicate identity in fetched bans, last occurrence wins")
		}
		fetchedIdentities[id] = struct{}{}

		if m, ok := storedByIdentity[id]; ok {
			if m.Reason != b.Reason || !timePtrEqual(m.Expires, b.Expires) || !strPtrEqual(m.UnbannedBy, b.UnbannedBy) {
				m.Reason = b.Reason
				m.Expires = b.Expires
				m.UnbannedBy = b.UnbannedBy
				changed[id] = struct{}{}
			}
			if b.BanType == models.BanTypeJob && !jobSetEqual(m.JobBans, b.JobBans) {
				m.JobBans = cloneJobBans(b.JobBans, m.ID)
				changed[id] = struct{}{}
			}
		} else {
			insertsByIdentity[id] = b
		}
	}

	inserts := make([]models.Ban, 0, len(insertsByIdentity))
	for _, b := range insertsByIdentity {
		inserts = append(inserts, b)
	}
	updates := make([]models.Ban, 0, len(changed))
	for id := range changed {
		updates = append(updates, *storedByIdentity[id])
	}

	if _, err := r.store.CommitChanges(ctx, inserts, updates); err != nil {
		return Result{}, joberr.WrapStoreError(err, "commit changes for adapter %q", adapterName)
	}

	result := Result{Inserted: len(inserts), Updated: len(updates), IsCompleteRefresh: isCompleteRefresh}

	if !isCompleteRefresh {
		return result, nil
	}

	var missing []models.Ban
	for id, m := range storedByIdentity {
		if _, ok := fetchedIdentities[id]; !ok {
			missing = append(missing, *m)
		}
	}

	if len(fetched) == 0 && len(missing) > 1 {
		return result, joberr.SafetyAbort(adapterName, len(missing))
	}

	if len(missing) > 0 {
		if err := r.store.CommitDeletions(ctx, missing); err != nil {
			return result, joberr.WrapStoreError(err, "commit deletions for adapter %q", adapterName)
		}
		result.Deleted = len(missing)
	}

	return result, nil
}

// resolve canonicalizes b's keys and replaces its adapter-supplied Source
// skeleton with the store-resident BanSource.
func resolve(b models.Ban, sources map[string]models.BanSource) (models.Ban, error) {
	if b.Source == nil {
		return models.Ban{}, errors.New("adapter emitted a ban with no Source set")
	}
	src, ok := sources[b.Source.Name]
	if !ok {
		return models.Ban{}, fmt.Errorf("adapter emitted a ban for source %q which it did not declare in Sources()", b.Source.Name)
	}

	b.SourceID = src.ID
	src2 := src
	b.Source = &src2
	b.Ckey = ckey.Canonicalize(b.Ckey)
	b.BannedBy = ckey.Canonicalize(b.BannedBy)
	b.UnbannedBy = ckey.CanonicalizePtr(b.UnbannedBy)
	b.BannedOn = b.BannedOn.UTC()
	if b.Expires != nil {
		utc := b.Expires.UTC()
		b.Expires = &utc
	}
	return b, nil
}

func cloneJobBans(jobs []models.JobBan, banID int64) []models.JobBan {
	out := make([]models.JobBan, len(jobs))
	for i, jb := range jobs {
		out[i] = models.JobBan{BanID: banID, Job: jb.Job}
	}
	return out
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
