package scanner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/detect"
	"github.com/miethe/skillmeat-sub006/pkg/github"
	"github.com/miethe/skillmeat-sub006/pkg/harvest"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// RepoClient is the read access the scanner needs from the upstream host.
type RepoClient interface {
	ResolveRef(ctx context.Context, source artifact.Source) (string, error)
	FetchTree(ctx context.Context, source artifact.Source, sha string, maxEntries int) (github.TreeResult, error)
	FetchBlob(ctx context.Context, source artifact.Source, path, sha string) ([]byte, error)
}

// ScanErrorKind classifies scan failures.
type ScanErrorKind string

const (
	KindRefNotFound     ScanErrorKind = "ref_not_found"
	KindTreeFetchFailed ScanErrorKind = "tree_fetch_failed"
	KindCanceled        ScanErrorKind = "canceled"
)

// ScanError is a typed scan failure. A failed rescan leaves the last
// successful catalog untouched; this error only describes why no result was
// produced.
type ScanError struct {
	Kind   ScanErrorKind
	Source string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Config controls one scan.
type Config struct {
	MaxFiles               int // cap on tree entries, default 3000
	EnableReadmeHarvesting bool
	// ManifestFetchLimit caps how many manifest blobs are fetched for
	// frontmatter inspection, default 50.
	ManifestFetchLimit int
	Harvest            harvest.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFiles:           3000,
		ManifestFetchLimit: 50,
		Harvest:            harvest.DefaultConfig(),
	}
}

// ScanResult is the point-in-time artifact list for one source.
type ScanResult struct {
	Artifacts      []artifact.DetectedArtifact
	Truncated      bool
	HarvestedLinks []harvest.HarvestedLink
	SHA            string
	CountsByType   map[artifact.Type]int
}

// Scanner orchestrates one full scan of a source: ref resolution, tree
// fetch, heuristic detection and optional README harvesting.
type Scanner struct {
	client RepoClient
	reg    *detect.Registry
	cfg    Config
	log    Logger
}

// New builds a Scanner. A nil registry uses the default; a nil logger
// discards output. Registry validation happens here, never mid-scan.
func New(client RepoClient, reg *detect.Registry, cfg Config, log Logger) (*Scanner, error) {
	if reg == nil {
		reg = detect.DefaultRegistry()
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = nopLogger{}
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 3000
	}
	if cfg.ManifestFetchLimit <= 0 {
		cfg.ManifestFetchLimit = 50
	}
	return &Scanner{client: client, reg: reg, cfg: cfg, log: log}, nil
}

// Scan runs one scan. Cancellation is checked between phases, so aborting a
// long scan simply discards the in-flight result.
func (s *Scanner) Scan(ctx context.Context, source artifact.Source) (ScanResult, error) {
	sha, err := s.client.ResolveRef(ctx, source)
	if err != nil {
		var ce *github.ClientError
		if errors.As(err, &ce) && ce.Status == 404 {
			return ScanResult{}, &ScanError{Kind: KindRefNotFound, Source: source.RepoURL(), Err: err}
		}
		return ScanResult{}, &ScanError{Kind: KindTreeFetchFailed, Source: source.RepoURL(), Err: err}
	}
	s.log.Debugf("Resolved %s@%s to %s", source.RepoURL(), source.ResolvedRef(), sha)

	if err := ctx.Err(); err != nil {
		return ScanResult{}, &ScanError{Kind: KindCanceled, Source: source.RepoURL(), Err: err}
	}

	tree, err := s.client.FetchTree(ctx, source, sha, s.cfg.MaxFiles)
	if err != nil {
		return ScanResult{}, &ScanError{Kind: KindTreeFetchFailed, Source: source.RepoURL(), Err: err}
	}
	if tree.Truncated {
		s.log.Warnf("Tree listing for %s truncated at %d entries", source.RepoURL(), s.cfg.MaxFiles)
	}

	if err := ctx.Err(); err != nil {
		return ScanResult{}, &ScanError{Kind: KindCanceled, Source: source.RepoURL(), Err: err}
	}

	fetcher := s.manifestFetcher(ctx, source, sha, tree.Paths)
	matches := detect.AnalyzePaths(tree.Paths, s.reg, fetcher)
	artifacts := detect.MatchesToArtifacts(matches, source, sha)

	result := ScanResult{
		Artifacts:    artifacts,
		Truncated:    tree.Truncated,
		SHA:          sha,
		CountsByType: map[artifact.Type]int{},
	}
	for _, a := range artifacts {
		result.CountsByType[a.ArtifactType]++
	}

	if s.cfg.EnableReadmeHarvesting {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, &ScanError{Kind: KindCanceled, Source: source.RepoURL(), Err: err}
		}
		result.HarvestedLinks = s.harvestReadme(ctx, source, sha, tree.Paths)
	}

	return result, nil
}

// manifestFetcher returns a content fetcher limited to recognized manifest
// files, backed by a per-scan cache. Fetch failures degrade to "no
// frontmatter signal" rather than failing the scan.
func (s *Scanner) manifestFetcher(ctx context.Context, source artifact.Source, sha string, paths []artifact.ScannedPath) detect.ContentFetcher {
	manifestNames := map[string]bool{}
	for _, rules := range s.reg.Rules {
		for _, m := range rules.ManifestFiles {
			manifestNames[strings.ToLower(m)] = true
		}
	}
	known := map[string]bool{}
	for _, p := range paths {
		if p.Kind == artifact.KindFile {
			known[p.Path] = true
		}
	}

	cache := map[string][]byte{}
	fetched := 0
	return func(p string) ([]byte, bool) {
		if content, ok := cache[p]; ok {
			return content, content != nil
		}
		if !known[p] || !manifestNames[strings.ToLower(path.Base(p))] {
			return nil, false
		}
		if fetched >= s.cfg.ManifestFetchLimit || ctx.Err() != nil {
			return nil, false
		}
		fetched++
		content, err := s.client.FetchBlob(ctx, source, p, sha)
		if err != nil {
			s.log.Debugf("Could not fetch manifest %s: %v", p, err)
			cache[p] = nil
			return nil, false
		}
		cache[p] = content
		return content, true
	}
}

// harvestReadme fetches the root README best-effort and extracts secondary
// repository links, seeding the visited set with the source's own URL so a
// self-referencing README never recurses.
func (s *Scanner) harvestReadme(ctx context.Context, source artifact.Source, sha string, paths []artifact.ScannedPath) []harvest.HarvestedLink {
	readme := findReadme(paths, source.RootHint)
	if readme == "" {
		return nil
	}
	content, err := s.client.FetchBlob(ctx, source, readme, sha)
	if err != nil {
		s.log.Debugf("README fetch for %s failed: %v", source.RepoURL(), err)
		return nil
	}
	h := harvest.NewHarvester()
	h.AddVisited(source.RepoURL())
	originURL := source.RepoURL() + "/blob/" + source.ResolvedRef() + "/" + readme
	return h.HarvestLinks(string(content), originURL, 0, s.cfg.Harvest)
}

func findReadme(paths []artifact.ScannedPath, rootHint string) string {
	root := strings.Trim(strings.TrimSpace(rootHint), "/")
	if root == "." {
		root = ""
	}
	for _, p := range paths {
		if p.Kind != artifact.KindFile {
			continue
		}
		dir, base := path.Split(p.Path)
		if strings.Trim(dir, "/") != root {
			continue
		}
		if strings.EqualFold(base, "README.md") || strings.EqualFold(base, "README") {
			return p.Path
		}
	}
	return ""
}
