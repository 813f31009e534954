package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/catalog"
)

// Strategy is the conflict policy applied when an import target already
// exists. It is a closed enum dispatched exactly once per entry.
type Strategy string

const (
	StrategySkip      Strategy = "skip"
	StrategyOverwrite Strategy = "overwrite"
	StrategyRename    Strategy = "rename"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySkip:
		return StrategySkip, nil
	case StrategyOverwrite:
		return StrategyOverwrite, nil
	case StrategyRename:
		return StrategyRename, nil
	}
	return "", fmt.Errorf("importer: unknown conflict strategy %q", s)
}

// EntryStatus is the per-entry outcome of one import call.
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusSuccess  EntryStatus = "success"
	StatusSkipped  EntryStatus = "skipped"
	StatusConflict EntryStatus = "conflict"
	StatusError    EntryStatus = "error"
)

// CollectionArtifact is one artifact already present in the collection.
type CollectionArtifact struct {
	Type artifact.Type
	Name string
	Path string
}

// CollectionStore is the contract the coordinator needs from a collection.
// Snapshot reads current state; WriteArtifact must be atomic per artifact.
type CollectionStore interface {
	Snapshot(ctx context.Context) ([]CollectionArtifact, error)
	WriteArtifact(ctx context.Context, typ artifact.Type, name, path string, content []byte) (ref string, err error)
}

// ContentFetcher supplies the content to materialize for one catalog entry.
type ContentFetcher func(ctx context.Context, entry catalog.Entry) ([]byte, error)

// CatalogMarker records the imported status back onto the catalog entry.
// Implementations must set status, import date and import ref atomically.
type CatalogMarker interface {
	MarkImported(ctx context.Context, sourceID, upstreamURL, importRef string, importDate time.Time) error
}

// ConflictReport is the non-destructive preview for one entry.
type ConflictReport struct {
	Entry      catalog.Entry
	LocalPath  string
	Conflicts  bool
	ExistingAt string
}

// ImportEntry is the per-entry outcome of an import call.
type ImportEntry struct {
	Entry             catalog.Entry
	Status            EntryStatus
	ResolvedLocalPath string
	ImportRef         string
	ErrorDetail       string
}

// ImportResult aggregates an import batch. Per-entry failures never abort
// the batch; they are counted here instead.
type ImportResult struct {
	Entries        []ImportEntry
	SucceededCount int
	SkippedCount   int
	FailedCount    int
}

// LocalPath computes the collection-relative target path for an entry.
func LocalPath(typ artifact.Type, name string) string {
	return artifact.Plural(typ) + "/" + name
}

// CheckConflicts previews the target path of each entry against a collection
// snapshot without mutating anything.
func CheckConflicts(entries []catalog.Entry, snapshot []CollectionArtifact) []ConflictReport {
	taken := snapshotPaths(snapshot)
	out := make([]ConflictReport, 0, len(entries))
	for _, e := range entries {
		local := LocalPath(e.ArtifactType, e.Name)
		report := ConflictReport{Entry: e, LocalPath: local}
		if existing, ok := taken[local]; ok {
			report.Conflicts = true
			report.ExistingAt = existing
		}
		out = append(out, report)
	}
	return out
}

// Coordinator materializes catalog entries into a collection.
type Coordinator struct {
	Store  CollectionStore
	Fetch  ContentFetcher
	Marker CatalogMarker // optional; nil skips catalog write-back
}

// ImportEntries applies the chosen strategy per entry and reports every
// outcome. Entries are processed sequentially: conflict reasoning stays
// simple and no two entries can race on the same target path.
func (c *Coordinator) ImportEntries(ctx context.Context, entries []catalog.Entry, strategy Strategy) (ImportResult, error) {
	snapshot, err := c.Store.Snapshot(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("importer: reading collection snapshot: %w", err)
	}
	taken := snapshotPaths(snapshot)

	result := ImportResult{}
	for _, entry := range entries {
		ie := c.importOne(ctx, entry, strategy, taken)
		switch ie.Status {
		case StatusSuccess:
			result.SucceededCount++
			// Claim the path so later batch entries conflict against it.
			taken[ie.ResolvedLocalPath] = ie.ResolvedLocalPath
		case StatusSkipped, StatusConflict:
			result.SkippedCount++
		case StatusError:
			result.FailedCount++
		}
		result.Entries = append(result.Entries, ie)
	}
	return result, nil
}

func (c *Coordinator) importOne(ctx context.Context, entry catalog.Entry, strategy Strategy, taken map[string]string) ImportEntry {
	ie := ImportEntry{Entry: entry, Status: StatusPending}

	name := entry.Name
	local := LocalPath(entry.ArtifactType, name)
	_, conflicts := taken[local]

	if conflicts {
		switch strategy {
		case StrategySkip:
			ie.Status = StatusSkipped
			ie.ResolvedLocalPath = local
			return ie
		case StrategyOverwrite:
			// Proceed; the existing artifact is replaced.
		case StrategyRename:
			name, local = disambiguate(entry.ArtifactType, name, taken)
		default:
			ie.Status = StatusError
			ie.ErrorDetail = fmt.Sprintf("unknown conflict strategy %q", strategy)
			return ie
		}
	}
	ie.ResolvedLocalPath = local

	content, err := c.Fetch(ctx, entry)
	if err != nil {
		ie.Status = StatusError
		ie.ErrorDetail = fmt.Sprintf("fetching content: %v", err)
		return ie
	}

	ref, err := c.Store.WriteArtifact(ctx, entry.ArtifactType, name, local, content)
	if err != nil {
		ie.Status = StatusError
		ie.ErrorDetail = fmt.Sprintf("writing artifact: %v", err)
		return ie
	}
	ie.ImportRef = ref

	if c.Marker != nil {
		if err := c.Marker.MarkImported(ctx, entry.SourceID, entry.UpstreamURL, ref, time.Now().UTC()); err != nil {
			ie.Status = StatusError
			ie.ErrorDetail = fmt.Sprintf("recording import: %v", err)
			return ie
		}
	}

	ie.Status = StatusSuccess
	return ie
}

// disambiguate appends an incrementing counter until the path is free:
// name, name-2, name-3, ...
func disambiguate(typ artifact.Type, name string, taken map[string]string) (string, string) {
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		local := LocalPath(typ, candidate)
		if _, ok := taken[local]; !ok {
			return candidate, local
		}
	}
}

func snapshotPaths(snapshot []CollectionArtifact) map[string]string {
	taken := make(map[string]string, len(snapshot))
	for _, a := range snapshot {
		p := a.Path
		if p == "" {
			p = LocalPath(a.Type, a.Name)
		}
		taken[LocalPath(a.Type, a.Name)] = p
	}
	return taken
}
