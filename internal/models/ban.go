// Package models defines the canonical shapes shared by the store gateway,
// source adapters, and the reconciler.
package models

import "time"

// BanType distinguishes a server-wide ban from a ban scoped to a set of jobs.
type BanType string

const (
	BanTypeServer BanType = "server"
	BanTypeJob    BanType = "job"
)

// BanSource identifies a logical upstream origin of bans. Name is globally
// unique and stable; ID is assigned by the store on first creation.
type BanSource struct {
	ID   int64
	Name string
}

// JobBan is one row of the (banId, job) set associated with a Job-type Ban.
type JobBan struct {
	BanID int64
	Job   string
}

// Ban is the canonical ban record. Fields mirror spec.md §3 exactly; the
// in-memory Source field stands in for the original's ORM navigation
// property and is never persisted directly — only SourceID is.
type Ban struct {
	ID          int64
	SourceID    int64
	SourceBanID *int64
	Ckey        string
	BanType     BanType
	BannedOn    time.Time
	BannedBy    string
	Expires     *time.Time
	Reason      string
	UnbannedBy  *string
	JobBans     []JobBan

	// Source is populated by adapters with only Name set (the skeleton from
	// Adapter.Sources()), and replaced by the reconciler with the
	// store-resident BanSource once SourceID has been resolved.
	Source *BanSource
}

// Jobs returns the ban's job set as a plain string slice, order unspecified.
func (b *Ban) Jobs() []string {
	jobs := make([]string, len(b.JobBans))
	for i, jb := range b.JobBans {
		jobs[i] = jb.Job
	}
	return jobs
}
