// Package masterdata holds the reference entities every stock document and
// ledger key points at: projects, site locations and materials. Workflows
// consult it at creation time so an unknown reference surfaces as a
// not-found error rather than a foreign key violation at commit.
package masterdata

import "time"

// Project is a construction project. Every document and ledger key belongs
// to exactly one project.
type Project struct {
	ID        int64
	Code      string
	Name      string
	CreatedAt time.Time
}

// Location is a storage point within a project, such as a site store or a
// yard.
type Location struct {
	ID        int64
	ProjectID int64
	Name      string
	CreatedAt time.Time
}

// Material is a stocked item tracked in a single unit of measure.
type Material struct {
	ID        int64
	Code      string
	Name      string
	Unit      string
	CreatedAt time.Time
}
