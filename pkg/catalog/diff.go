package catalog

import (
	"sort"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// ComputeDiff compares the stored catalog of one source against a fresh scan.
// Every upstream URL appearing on either side lands in exactly one DiffEntry.
// It is a pure function: neither input is mutated.
func ComputeDiff(existing []Entry, detected []artifact.DetectedArtifact, sourceID string) DiffResult {
	existingByURL := make(map[string]Entry, len(existing))
	for _, e := range existing {
		existingByURL[e.UpstreamURL] = e
	}
	detectedByURL := make(map[string]artifact.DetectedArtifact, len(detected))
	for _, d := range detected {
		detectedByURL[d.UpstreamURL] = d
	}

	keys := make([]string, 0, len(existingByURL)+len(detectedByURL))
	seen := map[string]bool{}
	for k := range existingByURL {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range detectedByURL {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	result := DiffResult{CountsByType: map[ChangeType]int{}}
	for _, k := range keys {
		prev, hadPrev := existingByURL[k]
		cur, hasCur := detectedByURL[k]

		var de DiffEntry
		switch {
		case hadPrev && hasCur:
			de = diffBoth(prev, cur)
		case hasCur:
			de = DiffEntry{ChangeType: ChangeNew, Entry: newEntry(cur, sourceID)}
		default:
			// Disappeared upstream. An imported entry keeps its import ref:
			// removal upstream does not delete the local copy.
			e := prev
			e.Status = StatusRemoved
			de = DiffEntry{ChangeType: ChangeRemoved, Entry: e}
		}
		result.Entries = append(result.Entries, de)
		result.CountsByType[de.ChangeType]++
	}
	return result
}

// diffBoth classifies an entry present in both the catalog and the scan.
func diffBoth(prev Entry, cur artifact.DetectedArtifact) DiffEntry {
	e := prev
	e.Name = cur.Name
	e.Path = cur.Path
	e.ConfidenceScore = cur.ConfidenceScore

	// User exclusion is sticky across rescans; only an explicit restore
	// clears it.
	if prev.Status == StatusExcluded {
		e.DetectedSHA = cur.DetectedSHA
		return DiffEntry{ChangeType: ChangeUnchanged, Entry: e}
	}

	// A removed entry that reappears upstream becomes importable again, even
	// when its content sha never changed while it was gone. Previously
	// imported entries come back as imported.
	if prev.Status == StatusRemoved {
		e.DetectedSHA = cur.DetectedSHA
		if prev.ImportRef != "" {
			e.Status = StatusImported
		} else {
			e.Status = StatusUpdated
		}
		return DiffEntry{ChangeType: ChangeUpdated, Entry: e}
	}

	if prev.DetectedSHA == cur.DetectedSHA {
		return DiffEntry{ChangeType: ChangeUnchanged, Entry: e}
	}

	e.DetectedSHA = cur.DetectedSHA
	// An upstream update does not un-import an imported entry.
	if prev.Status != StatusImported {
		e.Status = StatusUpdated
	}
	return DiffEntry{ChangeType: ChangeUpdated, Entry: e}
}

func newEntry(d artifact.DetectedArtifact, sourceID string) Entry {
	return Entry{
		SourceID:        sourceID,
		ArtifactType:    d.ArtifactType,
		Name:            d.Name,
		Path:            d.Path,
		UpstreamURL:     d.UpstreamURL,
		DetectedSHA:     d.DetectedSHA,
		ConfidenceScore: d.ConfidenceScore,
		Status:          StatusNew,
	}
}

// ToCatalogEntries converts a diff into the entries the caller should upsert.
// Applying this set, not a destructive replace-all, is the only correct
// application of a diff.
func ToCatalogEntries(diff DiffResult) []Entry {
	out := make([]Entry, 0, len(diff.Entries))
	for _, de := range diff.Entries {
		out = append(out, de.Entry)
	}
	return out
}
