package catalog

import (
	"time"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// Status is the lifecycle state of a catalog entry.
type Status string

const (
	StatusNew      Status = "new"
	StatusUpdated  Status = "updated"
	StatusRemoved  Status = "removed"
	StatusImported Status = "imported"
	StatusExcluded Status = "excluded"
)

// ChangeType classifies one diff entry.
type ChangeType string

const (
	ChangeNew       ChangeType = "new"
	ChangeUpdated   ChangeType = "updated"
	ChangeRemoved   ChangeType = "removed"
	ChangeUnchanged ChangeType = "unchanged"
)

// Entry is the persisted record of one detected artifact's lifecycle within
// one source. (SourceID, UpstreamURL) uniquely identifies an entry across
// rescans. Status and ImportRef are always updated together.
type Entry struct {
	SourceID        string
	ArtifactType    artifact.Type
	Name            string
	Path            string
	UpstreamURL     string
	DetectedSHA     string
	ConfidenceScore int
	Status          Status
	ImportDate      *time.Time
	ImportRef       string
	ExcludedAt      *time.Time
	ExcludedReason  string
}

// DiffEntry pairs one entry with how it changed between scans.
type DiffEntry struct {
	ChangeType ChangeType
	Entry      Entry
}

// DiffResult is the pure, ephemeral output of one diff computation.
type DiffResult struct {
	Entries      []DiffEntry
	CountsByType map[ChangeType]int
}
