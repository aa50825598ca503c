package reconcile

import (
	"sort"
	"strings"

	"go.banwarden.dev/banwarden/internal/models"
)

// identity is the comparable key two Ban values share exactly when they
// refer to the same upstream ban. Rather than a sum type, it is modeled as
// one struct with a discriminant flag: byID selects which of the two tuples
// below participates in comparisons. Two identities built with different
// byID settings never compare equal, since byID itself is part of the key;
// this happens when an ID-supporting adapter emits a ban with no
// SourceBanID (see identityOf).
type identity struct {
	byID bool

	// always populated
	sourceID int64

	// populated when byID is true
	sourceBanID int64

	// populated when byID is false
	bannedOnUnix int64
	banType      models.BanType
	ckey         string
	bannedBy     string
	jobsKey      string
}

// identityOf computes b's identity under the adapter's declared ID support.
// If the adapter supports stable ban IDs but b itself is missing one
// (sourceBanID == nil, a malformed adapter output), it falls back to the
// tuple relation rather than panicking or silently colliding with every
// other ID-less ban.
func identityOf(b *models.Ban, supportsBanIDs bool) identity {
	if supportsBanIDs && b.SourceBanID != nil {
		return identity{byID: true, sourceID: b.SourceID, sourceBanID: *b.SourceBanID}
	}

	id := identity{
		sourceID:     b.SourceID,
		bannedOnUnix: b.BannedOn.UTC().Unix(),
		banType:      b.BanType,
		ckey:         b.Ckey,
		bannedBy:     b.BannedBy,
	}
	if b.BanType == models.BanTypeJob {
		id.jobsKey = jobsKey(b.JobBans)
	}
	return id
}

// jobsKey renders a job set as an order-independent, duplicate-free key.
func jobsKey(jobBans []models.JobBan) string {
	jobs := make([]string, 0, len(jobBans))
	seen := make(map[string]struct{}, len(jobBans))
	for _, jb := range jobBans {
		if _, dup := seen[jb.Job]; dup {
			continue
		}
		seen[jb.Job] = struct{}{}
		jobs = append(jobs, jb.Job)
	}
	sort.Strings(jobs)
	return strings.Join(jobs, "\x00")
}

// jobSetEqual is the structural set-equality of two job bans: equality over
// the set of job names, order irrelevant and duplicates collapsed.
func jobSetEqual(a, b []models.JobBan) bool {
	return jobsKey(a) == jobsKey(b)
}
