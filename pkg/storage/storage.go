package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/catalog"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sources (
  id               TEXT PRIMARY KEY,
  owner            TEXT NOT NULL,
  repo             TEXT NOT NULL,
  ref              TEXT NOT NULL DEFAULT 'main',
  root_hint        TEXT,
  trust_level      TEXT NOT NULL DEFAULT 'untrusted',
  last_scan_status TEXT,
  last_scan_sha    TEXT,
  last_scanned_at  DATETIME,
  artifact_count   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS catalog_entries (
  id               INTEGER PRIMARY KEY,
  source_id        TEXT NOT NULL,
  artifact_type    TEXT NOT NULL,
  name             TEXT NOT NULL,
  path             TEXT NOT NULL,
  upstream_url     TEXT NOT NULL,
  detected_sha     TEXT,
  confidence_score INTEGER NOT NULL DEFAULT 0,
  status           TEXT NOT NULL CHECK (status IN ('new','updated','removed','imported','excluded')),
  import_date      DATETIME,
  import_ref       TEXT,
  excluded_at      DATETIME,
  excluded_reason  TEXT,
  first_seen_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_seen_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(source_id, upstream_url)
);
CREATE INDEX IF NOT EXISTS idx_entries_source ON catalog_entries(source_id);
CREATE INDEX IF NOT EXISTS idx_entries_status ON catalog_entries(source_id, status);
CREATE TABLE IF NOT EXISTS catalog_changes (
  id            INTEGER PRIMARY KEY,
  occurred_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  source_id     TEXT NOT NULL,
  artifact_type TEXT NOT NULL,
  name          TEXT NOT NULL,
  upstream_url  TEXT NOT NULL,
  change_type   TEXT NOT NULL CHECK (change_type IN ('new','updated','removed'))
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON catalog_changes(occurred_at);
CREATE INDEX IF NOT EXISTS idx_changes_source ON catalog_changes(source_id, occurred_at);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// UpsertSource registers or updates a scan target.
func (d *DB) UpsertSource(ctx context.Context, s artifact.Source) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO sources(id, owner, repo, ref, root_hint, trust_level) VALUES(?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET ref = excluded.ref, root_hint = excluded.root_hint, trust_level = excluded.trust_level`,
		s.ID, s.Owner, s.Repo, s.ResolvedRef(), nullIfEmpty(s.RootHint), string(s.TrustLevel))
	return err
}

// ListSources returns all registered sources.
func (d *DB) ListSources(ctx context.Context) ([]SourceRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, owner, repo, ref, root_hint, trust_level, last_scan_status, last_scan_sha, last_scanned_at, artifact_count
FROM sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceRecord
	for rows.Next() {
		var s SourceRecord
		var rootHint, status, sha sql.NullString
		var scannedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.Owner, &s.Repo, &s.Ref, &rootHint, &s.TrustLevel, &status, &sha, &scannedAt, &s.ArtifactCount); err != nil {
			return nil, err
		}
		s.RootHint = rootHint.String
		s.LastScanStatus = status.String
		s.LastScanSHA = sha.String
		s.LastScannedAt = parseSQLiteTime(scannedAt.String)
		out = append(out, s)
	}
	return out, rows.Err()
}

// EntriesForSource returns the current catalog of one source.
func (d *DB) EntriesForSource(ctx context.Context, sourceID string) ([]catalog.Entry, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT source_id, artifact_type, name, path, upstream_url, detected_sha, confidence_score, status, import_date, import_ref, excluded_at, excluded_reason
FROM catalog_entries WHERE source_id = ? ORDER BY upstream_url`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ApplyDiff persists one diff computation transactionally: new entries are
// inserted, updated/removed/unchanged entries update in place, and changes
// are recorded in the change log. On error the transaction rolls back and
// the previous catalog stays untouched. This is the only write path for scan
// results; there is deliberately no "replace all".
func (d *DB) ApplyDiff(ctx context.Context, sourceID string, diff catalog.DiffResult) ([]Change, error) {
	now := time.Now().UTC()

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var changes []Change
	for _, de := range diff.Entries {
		e := de.Entry
		switch de.ChangeType {
		case catalog.ChangeNew:
			_, err = tx.ExecContext(ctx, `
INSERT INTO catalog_entries(source_id, artifact_type, name, path, upstream_url, detected_sha, confidence_score, status, first_seen_at, last_seen_at)
VALUES(?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
ON CONFLICT(source_id, upstream_url) DO UPDATE SET
  artifact_type = excluded.artifact_type, name = excluded.name, path = excluded.path,
  detected_sha = excluded.detected_sha, confidence_score = excluded.confidence_score,
  status = excluded.status, last_seen_at = CURRENT_TIMESTAMP`,
				sourceID, string(e.ArtifactType), e.Name, e.Path, e.UpstreamURL, nullIfEmpty(e.DetectedSHA), e.ConfidenceScore, string(e.Status))
		case catalog.ChangeUpdated, catalog.ChangeRemoved:
			_, err = tx.ExecContext(ctx, `
UPDATE catalog_entries SET artifact_type = ?, name = ?, path = ?, detected_sha = ?, confidence_score = ?, status = ?, last_seen_at = CURRENT_TIMESTAMP
WHERE source_id = ? AND upstream_url = ?`,
				string(e.ArtifactType), e.Name, e.Path, nullIfEmpty(e.DetectedSHA), e.ConfidenceScore, string(e.Status), sourceID, e.UpstreamURL)
		case catalog.ChangeUnchanged:
			_, err = tx.ExecContext(ctx, `
UPDATE catalog_entries SET detected_sha = ?, confidence_score = ?, last_seen_at = CURRENT_TIMESTAMP
WHERE source_id = ? AND upstream_url = ?`,
				nullIfEmpty(e.DetectedSHA), e.ConfidenceScore, sourceID, e.UpstreamURL)
		}
		if err != nil {
			return nil, err
		}

		if de.ChangeType != catalog.ChangeUnchanged {
			_, err = tx.ExecContext(ctx, `
INSERT INTO catalog_changes(occurred_at, source_id, artifact_type, name, upstream_url, change_type)
VALUES(CURRENT_TIMESTAMP, ?, ?, ?, ?, ?)`,
				sourceID, string(e.ArtifactType), e.Name, e.UpstreamURL, string(de.ChangeType))
			if err != nil {
				return nil, err
			}
			changes = append(changes, Change{
				OccurredAt:   now,
				SourceID:     sourceID,
				ArtifactType: string(e.ArtifactType),
				Name:         e.Name,
				UpstreamURL:  e.UpstreamURL,
				ChangeType:   string(de.ChangeType),
			})
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// RecordScanSuccess updates a source's scan lifecycle fields. Called only on
// success; a failed rescan leaves the previous state in place.
func (d *DB) RecordScanSuccess(ctx context.Context, sourceID, sha string, artifactCount int) error {
	_, err := d.sql.ExecContext(ctx, `
UPDATE sources SET last_scan_status = 'success', last_scan_sha = ?, last_scanned_at = CURRENT_TIMESTAMP, artifact_count = ?
WHERE id = ?`, sha, artifactCount, sourceID)
	return err
}

// RecordScanError marks the scan failed without touching catalog data.
func (d *DB) RecordScanError(ctx context.Context, sourceID string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE sources SET last_scan_status = 'error', last_scanned_at = CURRENT_TIMESTAMP WHERE id = ?`, sourceID)
	return err
}

// MarkImported sets status, import date and import ref in a single statement
// so they can never be observed half-set.
func (d *DB) MarkImported(ctx context.Context, sourceID, upstreamURL, importRef string, importDate time.Time) error {
	res, err := d.sql.ExecContext(ctx, `
UPDATE catalog_entries SET status = 'imported', import_date = ?, import_ref = ?
WHERE source_id = ? AND upstream_url = ?`, importDate.UTC(), importRef, sourceID, upstreamURL)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("catalog entry not found: %s %s", sourceID, upstreamURL)
	}
	return nil
}

// SetExcluded records an explicit user exclusion.
func (d *DB) SetExcluded(ctx context.Context, sourceID, upstreamURL, reason string) error {
	_, err := d.sql.ExecContext(ctx, `
UPDATE catalog_entries SET status = 'excluded', excluded_at = CURRENT_TIMESTAMP, excluded_reason = ?
WHERE source_id = ? AND upstream_url = ?`, nullIfEmpty(reason), sourceID, upstreamURL)
	return err
}

// ClearExcluded restores an excluded entry. Entries that were imported before
// the exclusion go back to imported; everything else returns to updated.
func (d *DB) ClearExcluded(ctx context.Context, sourceID, upstreamURL string) error {
	_, err := d.sql.ExecContext(ctx, `
UPDATE catalog_entries
SET status = CASE WHEN import_ref IS NOT NULL THEN 'imported' ELSE 'updated' END,
    excluded_at = NULL, excluded_reason = NULL
WHERE source_id = ? AND upstream_url = ? AND status = 'excluded'`, sourceID, upstreamURL)
	return err
}

// ListOptions controls selection when listing entries.
type ListOptions struct {
	SourceID     string
	ArtifactType string
	Status       string
	NameFilter   string
}

// ListEntries returns current entries matching filters.
func (d *DB) ListEntries(ctx context.Context, opts ListOptions) ([]catalog.Entry, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.SourceID != "" {
		where += " AND source_id = ?"
		args = append(args, opts.SourceID)
	}
	if opts.ArtifactType != "" && opts.ArtifactType != "all" {
		where += " AND artifact_type = ?"
		args = append(args, opts.ArtifactType)
	}
	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.NameFilter != "" {
		where += " AND name LIKE ?"
		args = append(args, fmt.Sprintf("%%%s%%", opts.NameFilter))
	}

	q := `SELECT source_id, artifact_type, name, path, upstream_url, detected_sha, confidence_score, status, import_date, import_ref, excluded_at, excluded_reason
FROM catalog_entries ` + where + " ORDER BY source_id, upstream_url"
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListRecentChanges returns the most recent N changes across all sources.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT occurred_at, source_id, artifact_type, name, upstream_url, change_type
FROM catalog_changes ORDER BY occurred_at DESC, id DESC LIMIT ?`
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var occurredAtStr string
		if err := rows.Scan(&occurredAtStr, &c.SourceID, &c.ArtifactType, &c.Name, &c.UpstreamURL, &c.ChangeType); err != nil {
			return nil, err
		}
		c.OccurredAt = parseSQLiteTime(occurredAtStr)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// GetStats reports per-source entry counts.
func (d *DB) GetStats(ctx context.Context) ([]SourceStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT source_id, artifact_type, COUNT(*), SUM(CASE WHEN status = 'imported' THEN 1 ELSE 0 END)
FROM catalog_entries
GROUP BY source_id, artifact_type
ORDER BY source_id, artifact_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]*SourceStats{}
	var order []string
	for rows.Next() {
		var sourceID, typ string
		var count, imported int
		if err := rows.Scan(&sourceID, &typ, &count, &imported); err != nil {
			return nil, err
		}
		s, ok := byID[sourceID]
		if !ok {
			s = &SourceStats{SourceID: sourceID, ByType: map[string]int{}}
			byID[sourceID] = s
			order = append(order, sourceID)
		}
		s.EntryCount += count
		s.ImportedCount += imported
		s.ByType[typ] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var stats []SourceStats
	for _, id := range order {
		stats = append(stats, *byID[id])
	}
	return stats, nil
}

func scanEntries(rows *sql.Rows) ([]catalog.Entry, error) {
	var out []catalog.Entry
	for rows.Next() {
		var e catalog.Entry
		var typ, status string
		var sha, importRef, exclReason sql.NullString
		var importDate, excludedAt sql.NullString
		if err := rows.Scan(&e.SourceID, &typ, &e.Name, &e.Path, &e.UpstreamURL, &sha, &e.ConfidenceScore, &status, &importDate, &importRef, &excludedAt, &exclReason); err != nil {
			return nil, err
		}
		e.ArtifactType = artifact.Type(typ)
		e.Status = catalog.Status(status)
		e.DetectedSHA = sha.String
		e.ImportRef = importRef.String
		e.ExcludedReason = exclReason.String
		if importDate.Valid {
			t := parseSQLiteTime(importDate.String)
			e.ImportDate = &t
		}
		if excludedAt.Valid {
			t := parseSQLiteTime(excludedAt.String)
			e.ExcludedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// parseSQLiteTime handles both CURRENT_TIMESTAMP and RFC3339 formats.
func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
