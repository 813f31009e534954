package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// Signal names used in score breakdowns.
const (
	SignalFrontmatterType   = "frontmatter_type"
	SignalContainerDir      = "container_dir"
	SignalManifestFile      = "manifest_file"
	SignalParentDir         = "parent_dir"
	SignalFrontmatterFields = "frontmatter_fields"
	SignalNamePattern       = "name_pattern"
	SignalFileExtension     = "file_extension"
	SignalDepthPenalty      = "depth_penalty"
)

// Weights holds the per-signal score contributions. They sum to MaxRawScore.
type Weights struct {
	FrontmatterType   int
	ContainerDir      int
	ManifestFile      int
	ParentDir         int
	FrontmatterFields int
	NamePattern       int
	FileExtension     int
}

// MaxRawScore is the ceiling a raw score is clamped to before normalization.
const MaxRawScore = 120

// TypeRules is the rule set for one artifact type. All matching is
// case-insensitive on the stored lowercase forms.
type TypeRules struct {
	// ContainerDirs are path segments that mark a grouping directory for
	// this type, e.g. "skills".
	ContainerDirs []string
	// ParentHints are weaker name fragments matched against the immediate
	// parent directory.
	ParentHints []string
	// ManifestFiles are recognized manifest basenames, e.g. "SKILL.md".
	ManifestFiles []string
	// NamePattern, when set, is matched against the artifact directory
	// basename.
	NamePattern *regexp.Regexp
	// Extensions are manifest file extensions consistent with the type.
	Extensions []string
}

// Registry is the full detector configuration: per-type rules plus global
// weights and the depth penalty. It replaces hardcoded mapping tables so a
// new artifact type is a data change, not a control-flow change.
type Registry struct {
	Rules                map[artifact.Type]TypeRules
	Weights              Weights
	DepthPenaltyPerLevel int
}

// DetectionError reports a malformed registry. It is raised at config load
// time, never mid-scan.
type DetectionError struct {
	Type   artifact.Type
	Reason string
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect: bad registry for type %q: %s", e.Type, e.Reason)
}

// Validate fails fast when a type has no way to ever be detected.
func (r *Registry) Validate() error {
	if len(r.Rules) == 0 {
		return &DetectionError{Reason: "no artifact types configured"}
	}
	for typ, rules := range r.Rules {
		if len(rules.ManifestFiles) == 0 && len(rules.ContainerDirs) == 0 {
			return &DetectionError{Type: typ, Reason: "needs at least one manifest filename or container directory"}
		}
	}
	return nil
}

// defaultNamePattern accepts lowercase kebab/snake identifiers, which is the
// naming convention for artifact directories.
var defaultNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// DefaultRegistry returns the documented default configuration.
func DefaultRegistry() *Registry {
	return &Registry{
		Weights: Weights{
			FrontmatterType:   30,
			ContainerDir:      25,
			ManifestFile:      20,
			ParentDir:         15,
			FrontmatterFields: 15,
			NamePattern:       10,
			FileExtension:     5,
		},
		DepthPenaltyPerLevel: 10,
		Rules: map[artifact.Type]TypeRules{
			artifact.TypeSkill: {
				ContainerDirs: []string{"skills", ".claude/skills"},
				ParentHints:   []string{"skill"},
				ManifestFiles: []string{"SKILL.md"},
				NamePattern:   defaultNamePattern,
				Extensions:    []string{".md"},
			},
			artifact.TypeCommand: {
				ContainerDirs: []string{"commands", ".claude/commands"},
				ParentHints:   []string{"command"},
				ManifestFiles: []string{"COMMAND.md"},
				NamePattern:   defaultNamePattern,
				Extensions:    []string{".md"},
			},
			artifact.TypeAgent: {
				ContainerDirs: []string{"agents", ".claude/agents", "subagents"},
				ParentHints:   []string{"agent"},
				ManifestFiles: []string{"AGENT.md"},
				NamePattern:   defaultNamePattern,
				Extensions:    []string{".md"},
			},
			artifact.TypeToolServer: {
				ContainerDirs: []string{"mcp", "mcp-servers", "servers", "tool-servers"},
				ParentHints:   []string{"mcp", "server"},
				ManifestFiles: []string{"server.json", "mcp.json"},
				NamePattern:   defaultNamePattern,
				Extensions:    []string{".json"},
			},
			artifact.TypeHook: {
				ContainerDirs: []string{"hooks", ".claude/hooks"},
				ParentHints:   []string{"hook"},
				ManifestFiles: []string{"hooks.json", "HOOK.md"},
				NamePattern:   defaultNamePattern,
				Extensions:    []string{".json", ".md"},
			},
		},
	}
}

// hasManifest reports whether basename is a recognized manifest for the type.
func (tr TypeRules) hasManifest(basename string) bool {
	for _, m := range tr.ManifestFiles {
		if strings.EqualFold(m, basename) {
			return true
		}
	}
	return false
}

func (tr TypeRules) hasExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range tr.Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (tr TypeRules) matchesContainer(segment string) bool {
	for _, c := range tr.ContainerDirs {
		// Container entries may be multi-segment ("x/y"); compare the last
		// segment for single-segment matches.
		if strings.EqualFold(c, segment) || strings.EqualFold(lastSegment(c), segment) {
			return true
		}
	}
	return false
}

func (tr TypeRules) matchesParent(parent string) bool {
	lower := strings.ToLower(parent)
	for _, h := range tr.ParentHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
