package storage

import (
	"time"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// SourceRecord is the persisted form of a scan target, with the scan
// lifecycle fields the caller maintains around each scan.
type SourceRecord struct {
	ID         string
	Owner      string
	Repo       string
	Ref        string
	RootHint   string
	TrustLevel string

	LastScanStatus string // pending | scanning | success | error
	LastScanSHA    string
	LastScannedAt  time.Time
	ArtifactCount  int
}

// Source converts the record back into the domain type.
func (s SourceRecord) Source() artifact.Source {
	return artifact.Source{
		ID:         s.ID,
		Owner:      s.Owner,
		Repo:       s.Repo,
		Ref:        s.Ref,
		RootHint:   s.RootHint,
		TrustLevel: artifact.TrustLevel(s.TrustLevel),
	}
}

// Change captures a single catalog change event for auditing or printing.
type Change struct {
	OccurredAt time.Time

	SourceID     string
	ArtifactType string
	Name         string
	UpstreamURL  string
	ChangeType   string // new | updated | removed
}

// SourceStats summarizes one source's catalog.
type SourceStats struct {
	SourceID      string
	EntryCount    int
	ImportedCount int
	ByType        map[string]int
}
