package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/catalog"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testSource = artifact.Source{ID: "acme/skills", Owner: "acme", Repo: "skills", Ref: "main", TrustLevel: artifact.TrustBasic}

func detected(url, sha string) artifact.DetectedArtifact {
	return artifact.DetectedArtifact{
		ArtifactType:    artifact.TypeSkill,
		Name:            "pdf",
		Path:            "skills/pdf",
		UpstreamURL:     url,
		DetectedSHA:     sha,
		ConfidenceScore: 90,
	}
}

func TestUpsertSourceRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertSource(ctx, testSource); err != nil {
		t.Fatal(err)
	}
	// Second upsert updates in place.
	updated := testSource
	updated.Ref = "dev"
	if err := db.UpsertSource(ctx, updated); err != nil {
		t.Fatal(err)
	}

	sources, err := db.ListSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources", len(sources))
	}
	s := sources[0]
	if s.ID != "acme/skills" || s.Ref != "dev" || s.TrustLevel != "basic" {
		t.Errorf("source = %+v", s)
	}
	if got := s.Source(); got.Owner != "acme" || got.Repo != "skills" {
		t.Errorf("Source() = %+v", got)
	}
}

func TestApplyDiffLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.UpsertSource(ctx, testSource); err != nil {
		t.Fatal(err)
	}

	// First scan: one new entry.
	diff := catalog.ComputeDiff(nil, []artifact.DetectedArtifact{detected("u/pdf", "sha1")}, testSource.ID)
	changes, err := db.ApplyDiff(ctx, testSource.ID, diff)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].ChangeType != "new" {
		t.Fatalf("changes = %+v", changes)
	}

	entries, err := db.EntriesForSource(ctx, testSource.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != catalog.StatusNew || entries[0].DetectedSHA != "sha1" {
		t.Fatalf("entries = %+v", entries)
	}

	// Second scan: content changed.
	diff = catalog.ComputeDiff(entries, []artifact.DetectedArtifact{detected("u/pdf", "sha2")}, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}
	entries, _ = db.EntriesForSource(ctx, testSource.ID)
	if entries[0].Status != catalog.StatusUpdated || entries[0].DetectedSHA != "sha2" {
		t.Fatalf("after update: %+v", entries[0])
	}

	// Third scan: gone upstream.
	diff = catalog.ComputeDiff(entries, nil, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}
	entries, _ = db.EntriesForSource(ctx, testSource.ID)
	if len(entries) != 1 || entries[0].Status != catalog.StatusRemoved {
		t.Fatalf("removed entries must stay in the catalog: %+v", entries)
	}

	recent, err := db.ListRecentChanges(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d change rows, want 3", len(recent))
	}
}

func TestApplyDiffUnchangedWritesNoChangeRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	diff := catalog.ComputeDiff(nil, []artifact.DetectedArtifact{detected("u/pdf", "sha1")}, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}
	entries, _ := db.EntriesForSource(ctx, testSource.ID)

	diff = catalog.ComputeDiff(entries, []artifact.DetectedArtifact{detected("u/pdf", "sha1")}, testSource.ID)
	changes, err := db.ApplyDiff(ctx, testSource.ID, diff)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("unchanged rescan produced change rows: %+v", changes)
	}
	recent, _ := db.ListRecentChanges(ctx, 10)
	if len(recent) != 1 {
		t.Fatalf("change log rows = %d, want 1", len(recent))
	}
}

func TestMarkImported(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	diff := catalog.ComputeDiff(nil, []artifact.DetectedArtifact{detected("u/pdf", "sha1")}, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkImported(ctx, testSource.ID, "u/pdf", "ref-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	entries, _ := db.EntriesForSource(ctx, testSource.ID)
	e := entries[0]
	if e.Status != catalog.StatusImported || e.ImportRef != "ref-1" || e.ImportDate == nil {
		t.Fatalf("after mark: %+v", e)
	}

	// Unknown entry is an error, not a silent no-op.
	if err := db.MarkImported(ctx, testSource.ID, "u/missing", "r", time.Now()); err == nil {
		t.Error("expected error for unknown entry")
	}
}

func TestExcludeAndRestore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	diff := catalog.ComputeDiff(nil, []artifact.DetectedArtifact{detected("u/pdf", "sha1")}, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}

	if err := db.SetExcluded(ctx, testSource.ID, "u/pdf", "not wanted"); err != nil {
		t.Fatal(err)
	}
	entries, _ := db.EntriesForSource(ctx, testSource.ID)
	if entries[0].Status != catalog.StatusExcluded || entries[0].ExcludedReason != "not wanted" {
		t.Fatalf("after exclude: %+v", entries[0])
	}

	// Exclusion survives a rescan round trip.
	diff = catalog.ComputeDiff(entries, []artifact.DetectedArtifact{detected("u/pdf", "sha9")}, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}
	entries, _ = db.EntriesForSource(ctx, testSource.ID)
	if entries[0].Status != catalog.StatusExcluded {
		t.Fatalf("exclusion lost on rescan: %+v", entries[0])
	}

	if err := db.ClearExcluded(ctx, testSource.ID, "u/pdf"); err != nil {
		t.Fatal(err)
	}
	entries, _ = db.EntriesForSource(ctx, testSource.ID)
	if entries[0].Status == catalog.StatusExcluded {
		t.Fatalf("restore failed: %+v", entries[0])
	}
}

func TestRestoreExcludedImportedEntry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	diff := catalog.ComputeDiff(nil, []artifact.DetectedArtifact{detected("u/pdf", "sha1")}, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkImported(ctx, testSource.ID, "u/pdf", "ref-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := db.SetExcluded(ctx, testSource.ID, "u/pdf", "pause"); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearExcluded(ctx, testSource.ID, "u/pdf"); err != nil {
		t.Fatal(err)
	}

	entries, _ := db.EntriesForSource(ctx, testSource.ID)
	e := entries[0]
	if e.Status != catalog.StatusImported {
		t.Fatalf("status = %s, restore must bring an imported entry back to imported", e.Status)
	}
	if e.ImportRef != "ref-1" {
		t.Errorf("import ref = %s", e.ImportRef)
	}
}

func TestScanLifecycleFields(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.UpsertSource(ctx, testSource); err != nil {
		t.Fatal(err)
	}

	if err := db.RecordScanSuccess(ctx, testSource.ID, "sha1", 7); err != nil {
		t.Fatal(err)
	}
	sources, _ := db.ListSources(ctx)
	if sources[0].LastScanStatus != "success" || sources[0].LastScanSHA != "sha1" || sources[0].ArtifactCount != 7 {
		t.Fatalf("after success: %+v", sources[0])
	}

	if err := db.RecordScanError(ctx, testSource.ID); err != nil {
		t.Fatal(err)
	}
	sources, _ = db.ListSources(ctx)
	if sources[0].LastScanStatus != "error" {
		t.Fatalf("after error: %+v", sources[0])
	}
	// A failed scan never clears the last good sha.
	if sources[0].LastScanSHA != "sha1" {
		t.Fatalf("sha cleared on error: %+v", sources[0])
	}
}

func TestListEntriesFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	arts := []artifact.DetectedArtifact{
		detected("u/pdf", "s1"),
		{ArtifactType: artifact.TypeCommand, Name: "review", Path: "commands/review.md", UpstreamURL: "u/review", DetectedSHA: "s2"},
	}
	diff := catalog.ComputeDiff(nil, arts, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}

	byType, err := db.ListEntries(ctx, ListOptions{ArtifactType: "command"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].Name != "review" {
		t.Fatalf("type filter: %+v", byType)
	}

	byName, err := db.ListEntries(ctx, ListOptions{NameFilter: "pd"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || byName[0].Name != "pdf" {
		t.Fatalf("name filter: %+v", byName)
	}

	all, err := db.ListEntries(ctx, ListOptions{ArtifactType: "all"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all filter: %+v", all)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	arts := []artifact.DetectedArtifact{
		detected("u/pdf", "s1"),
		{ArtifactType: artifact.TypeCommand, Name: "review", Path: "commands/review.md", UpstreamURL: "u/review", DetectedSHA: "s2"},
	}
	diff := catalog.ComputeDiff(nil, arts, testSource.ID)
	if _, err := db.ApplyDiff(ctx, testSource.ID, diff); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkImported(ctx, testSource.ID, "u/pdf", "r", time.Now()); err != nil {
		t.Fatal(err)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	s := stats[0]
	if s.EntryCount != 2 || s.ImportedCount != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.ByType["skill"] != 1 || s.ByType["command"] != 1 {
		t.Errorf("by type = %v", s.ByType)
	}
}
