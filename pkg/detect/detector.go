package detect

import (
	"math"
	"path"
	"sort"
	"strings"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// Match is one scored classification of a path.
type Match struct {
	Path            string
	ArtifactType    artifact.Type
	Name            string
	Version         string
	ManifestPath    string
	SHA             string
	RawScore        int
	ConfidenceScore int
	ScoreBreakdown  map[string]int
	MatchReasons    []string
}

// ContentFetcher supplies file content for frontmatter inspection. Returning
// false means the content is unavailable; the frontmatter signals simply
// don't fire. Keeping content supply external keeps AnalyzePaths free of I/O.
type ContentFetcher func(path string) ([]byte, bool)

// dirInfo aggregates what we know about one directory of the tree.
type dirInfo struct {
	path     string
	files    []string // basenames
	filePath map[string]string
	sha      string
}

// AnalyzePaths classifies a scanned tree into artifact matches. It is
// deterministic for a fixed input set and registry: candidates and types are
// visited in sorted order, never map order.
func AnalyzePaths(paths []artifact.ScannedPath, reg *Registry, fetch ContentFetcher) []Match {
	dirs := map[string]*dirInfo{}
	fileSHA := map[string]string{}
	for _, p := range paths {
		switch p.Kind {
		case artifact.KindTree:
			info := ensureDir(dirs, p.Path)
			info.sha = p.SHA
		case artifact.KindFile:
			dir := path.Dir(p.Path)
			if dir == "." {
				dir = ""
			}
			info := ensureDir(dirs, dir)
			base := path.Base(p.Path)
			info.files = append(info.files, base)
			info.filePath[base] = p.Path
			fileSHA[p.Path] = p.SHA
		}
	}

	var candidates []Match
	dirPaths := make([]string, 0, len(dirs))
	for d := range dirs {
		dirPaths = append(dirPaths, d)
	}
	sort.Strings(dirPaths)

	for _, d := range dirPaths {
		info := dirs[d]
		if d == "" {
			// Repository root: only direct-file candidates apply.
			candidates = append(candidates, fileCandidates(info, reg, fetch, fileSHA)...)
			continue
		}
		candidates = append(candidates, dirCandidates(info, reg, fetch)...)
		candidates = append(candidates, fileCandidates(info, reg, fetch, fileSHA)...)
	}

	return dedupe(candidates, reg)
}

func ensureDir(dirs map[string]*dirInfo, d string) *dirInfo {
	info, ok := dirs[d]
	if !ok {
		info = &dirInfo{path: d, filePath: map[string]string{}}
		dirs[d] = info
	}
	return info
}

// dirCandidates scores a directory as a leaf artifact root against every
// configured type.
func dirCandidates(info *dirInfo, reg *Registry, fetch ContentFetcher) []Match {
	segments := strings.Split(info.path, "/")
	basename := segments[len(segments)-1]
	depth := len(segments) - 1

	var out []Match
	for _, typ := range orderedTypes(reg) {
		rules := reg.Rules[typ]

		// A directory that is itself a container for the type is a grouping
		// node, not an artifact of that type.
		if rules.matchesContainer(basename) {
			continue
		}

		breakdown := map[string]int{}
		var reasons []string

		for _, seg := range segments[:len(segments)-1] {
			if rules.matchesContainer(seg) {
				breakdown[SignalContainerDir] = reg.Weights.ContainerDir
				reasons = append(reasons, "inside "+seg+"/ container")
				break
			}
		}

		var manifest string
		for _, f := range info.files {
			if rules.hasManifest(f) {
				manifest = f
				breakdown[SignalManifestFile] = reg.Weights.ManifestFile
				reasons = append(reasons, "manifest "+f)
				break
			}
		}

		if len(segments) >= 2 && rules.matchesParent(segments[len(segments)-2]) {
			breakdown[SignalParentDir] = reg.Weights.ParentDir
			reasons = append(reasons, "parent directory hints "+string(typ))
		}

		// Only manifest presence, a container ancestor, or a parent hint can
		// establish a candidate; pattern and extension alone don't.
		if len(breakdown) == 0 {
			continue
		}

		name := basename
		version := ""
		if manifest != "" {
			if rules.hasExtension(manifest) {
				breakdown[SignalFileExtension] = reg.Weights.FileExtension
			}
			if fetch != nil {
				if content, ok := fetch(info.filePath[manifest]); ok {
					if fm := ParseFrontmatter(content); fm != nil {
						if declared, ok := fm.DeclaredType(); ok && declared == typ {
							breakdown[SignalFrontmatterType] = reg.Weights.FrontmatterType
							reasons = append(reasons, "frontmatter declares "+string(typ))
						}
						if fm.OtherFields > 0 || fm.Name != "" || fm.Version != "" {
							breakdown[SignalFrontmatterFields] = reg.Weights.FrontmatterFields
						}
						if fm.Name != "" {
							name = fm.Name
						}
						version = fm.Version
					}
				}
			}
		}

		if rules.NamePattern != nil && rules.NamePattern.MatchString(basename) {
			breakdown[SignalNamePattern] = reg.Weights.NamePattern
		}

		m := buildMatch(info.path, typ, name, version, breakdown, reasons, depth, reg)
		m.SHA = info.sha
		if manifest != "" {
			m.ManifestPath = info.filePath[manifest]
		}
		out = append(out, m)
	}
	return out
}

// fileCandidates scores direct file children of container directories, the
// single-file artifact convention (e.g. commands/review.md).
func fileCandidates(info *dirInfo, reg *Registry, fetch ContentFetcher, fileSHA map[string]string) []Match {
	var segments []string
	if info.path != "" {
		segments = strings.Split(info.path, "/")
	}
	if len(segments) == 0 {
		return nil
	}
	basename := segments[len(segments)-1]

	var out []Match
	for _, typ := range orderedTypes(reg) {
		rules := reg.Rules[typ]
		if !rules.matchesContainer(basename) {
			continue
		}
		files := append([]string(nil), info.files...)
		sort.Strings(files)
		for _, f := range files {
			if rules.hasManifest(f) {
				// Container-level manifests (e.g. hooks.json) belong to the
				// directory candidate path, not the file one.
				continue
			}
			if !rules.hasExtension(f) {
				continue
			}
			full := info.filePath[f]
			breakdown := map[string]int{
				SignalContainerDir:  reg.Weights.ContainerDir,
				SignalFileExtension: reg.Weights.FileExtension,
			}
			reasons := []string{"file inside " + basename + "/ container"}

			stem := strings.TrimSuffix(f, path.Ext(f))
			name := stem
			version := ""
			if rules.NamePattern != nil && rules.NamePattern.MatchString(stem) {
				breakdown[SignalNamePattern] = reg.Weights.NamePattern
			}
			if fetch != nil {
				if content, ok := fetch(full); ok {
					if fm := ParseFrontmatter(content); fm != nil {
						if declared, ok := fm.DeclaredType(); ok && declared == typ {
							breakdown[SignalFrontmatterType] = reg.Weights.FrontmatterType
							reasons = append(reasons, "frontmatter declares "+string(typ))
						}
						if fm.OtherFields > 0 || fm.Name != "" || fm.Version != "" {
							breakdown[SignalFrontmatterFields] = reg.Weights.FrontmatterFields
						}
						if fm.Name != "" {
							name = fm.Name
						}
						version = fm.Version
					}
				}
			}

			depth := len(segments) // file depth is one below its directory
			m := buildMatch(full, typ, name, version, breakdown, reasons, depth, reg)
			m.SHA = fileSHA[full]
			m.ManifestPath = full
			out = append(out, m)
		}
	}
	return out
}

func buildMatch(p string, typ artifact.Type, name, version string, breakdown map[string]int, reasons []string, depth int, reg *Registry) Match {
	raw := 0
	for _, v := range breakdown {
		raw += v
	}
	if penalty := depth * reg.DepthPenaltyPerLevel; penalty > 0 {
		breakdown[SignalDepthPenalty] = -penalty
		raw -= penalty
	}
	if raw < 0 {
		raw = 0
	}
	clamped := raw
	if clamped > MaxRawScore {
		clamped = MaxRawScore
	}
	confidence := int(math.Round(100 * float64(clamped) / float64(MaxRawScore)))
	return Match{
		Path:            p,
		ArtifactType:    typ,
		Name:            name,
		Version:         version,
		RawScore:        raw,
		ConfidenceScore: confidence,
		ScoreBreakdown:  breakdown,
		MatchReasons:    reasons,
	}
}

// orderedTypes returns registry types in the canonical order, with any
// unknown extras sorted after, so scoring never depends on map iteration.
func orderedTypes(reg *Registry) []artifact.Type {
	var out []artifact.Type
	seen := map[artifact.Type]bool{}
	for _, t := range artifact.AllTypes {
		if _, ok := reg.Rules[t]; ok {
			out = append(out, t)
			seen[t] = true
		}
	}
	var extra []artifact.Type
	for t := range reg.Rules {
		if !seen[t] {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// dedupe keeps the best match per path. Two matches survive for one path only
// when each is anchored by its own manifest file, the unambiguous dual-type
// case. Losing matches contribute their reasons to the winner.
func dedupe(candidates []Match, reg *Registry) []Match {
	byPath := map[string][]Match{}
	var pathOrder []string
	for _, c := range candidates {
		if c.RawScore == 0 {
			continue
		}
		if _, ok := byPath[c.Path]; !ok {
			pathOrder = append(pathOrder, c.Path)
		}
		byPath[c.Path] = append(byPath[c.Path], c)
	}
	sort.Strings(pathOrder)

	var out []Match
	for _, p := range pathOrder {
		group := byPath[p]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].RawScore != group[j].RawScore {
				return group[i].RawScore > group[j].RawScore
			}
			iManifest := group[i].ScoreBreakdown[SignalManifestFile] > 0
			jManifest := group[j].ScoreBreakdown[SignalManifestFile] > 0
			if iManifest != jManifest {
				return iManifest
			}
			return group[i].ArtifactType < group[j].ArtifactType
		})

		winner := group[0]
		for _, other := range group[1:] {
			if other.ArtifactType == winner.ArtifactType {
				continue
			}
			if other.ScoreBreakdown[SignalManifestFile] > 0 && winner.ScoreBreakdown[SignalManifestFile] > 0 &&
				other.ManifestPath != winner.ManifestPath {
				out = append(out, other)
				continue
			}
			for _, r := range other.MatchReasons {
				winner.MatchReasons = append(winner.MatchReasons, "also scored as "+string(other.ArtifactType)+": "+r)
			}
		}
		out = append(out, winner)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ArtifactType < out[j].ArtifactType
	})
	return out
}

// DetectArtifactType classifies a single ad hoc path, e.g. to validate a
// user-supplied location. Returns nil when nothing matches.
func DetectArtifactType(p string, reg *Registry) *Match {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	var scanned []artifact.ScannedPath
	if path.Ext(p) != "" {
		scanned = append(scanned, artifact.ScannedPath{Path: p, Kind: artifact.KindFile})
	} else {
		scanned = append(scanned, artifact.ScannedPath{Path: p, Kind: artifact.KindTree})
	}
	matches := AnalyzePaths(scanned, reg, nil)
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

// MatchesToArtifacts converts matches into detected artifacts for a source.
// The upstream URL embeds the ref name, not the resolved commit, so it stays
// stable across rescans and can serve as the diff match key; per-artifact
// content changes show up in DetectedSHA instead.
func MatchesToArtifacts(matches []Match, source artifact.Source, commitSHA string) []artifact.DetectedArtifact {
	out := make([]artifact.DetectedArtifact, 0, len(matches))
	for _, m := range matches {
		sha := m.SHA
		if sha == "" {
			sha = commitSHA
		}
		out = append(out, artifact.DetectedArtifact{
			ArtifactType:    m.ArtifactType,
			Name:            m.Name,
			Path:            m.Path,
			UpstreamURL:     source.RepoURL() + "/tree/" + source.ResolvedRef() + "/" + m.Path,
			DetectedVersion: m.Version,
			DetectedSHA:     sha,
			ConfidenceScore: m.ConfidenceScore,
			RawScore:        m.RawScore,
			ScoreBreakdown:  m.ScoreBreakdown,
			MatchReasons:    m.MatchReasons,
		})
	}
	return out
}
