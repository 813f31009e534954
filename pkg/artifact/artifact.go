package artifact

import (
	"strings"
)

// Type is the classification of a detected artifact.
type Type string

const (
	TypeSkill      Type = "skill"
	TypeCommand    Type = "command"
	TypeAgent      Type = "agent"
	TypeToolServer Type = "tool_server"
	TypeHook       Type = "hook"
)

// AllTypes lists every known artifact type in a stable order.
var AllTypes = []Type{TypeSkill, TypeCommand, TypeAgent, TypeToolServer, TypeHook}

// TrustLevel qualifies how much a configured source is trusted.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustBasic     TrustLevel = "basic"
	TrustVerified  TrustLevel = "verified"
	TrustOfficial  TrustLevel = "official"
)

// Source is a configured upstream repository to scan. The core reads it and
// never mutates it.
type Source struct {
	ID         string
	Owner      string
	Repo       string
	Ref        string // branch, tag or sha; empty means "main"
	RootHint   string // optional subpath to scan under
	TrustLevel TrustLevel
}

// RepoURL returns the canonical https URL of the source repository.
func (s Source) RepoURL() string {
	return "https://github.com/" + s.Owner + "/" + s.Repo
}

// ResolvedRef returns the ref to scan, defaulting to "main".
func (s Source) ResolvedRef() string {
	if s.Ref == "" {
		return "main"
	}
	return s.Ref
}

// PathKind distinguishes tree entries.
type PathKind string

const (
	KindFile PathKind = "file"
	KindTree PathKind = "tree"
)

// ScannedPath is one entry of a fetched repository tree. Produced fresh per
// scan, never persisted.
type ScannedPath struct {
	Path      string
	Kind      PathKind
	SHA       string
	SizeBytes int64
}

// DetectedArtifact is the detector's output for one artifact root.
type DetectedArtifact struct {
	ArtifactType    Type
	Name            string
	Path            string
	UpstreamURL     string
	DetectedVersion string
	DetectedSHA     string
	ConfidenceScore int // 0-100
	RawScore        int
	ScoreBreakdown  map[string]int
	MatchReasons    []string
}

// pluralMap is the source of truth for the collection directory name of each
// artifact type.
var pluralMap = map[Type]string{
	TypeSkill:      "skills",
	TypeCommand:    "commands",
	TypeAgent:      "agents",
	TypeToolServer: "tool-servers",
	TypeHook:       "hooks",
}

// typeAliasMap groups raw strings (frontmatter values, directory names) under
// a canonical artifact type.
var typeAliasMap = map[Type][]string{
	TypeSkill:      {"skill", "skills"},
	TypeCommand:    {"command", "commands", "slash-command", "slash_command"},
	TypeAgent:      {"agent", "agents", "subagent", "subagents"},
	TypeToolServer: {"tool_server", "tool-server", "mcp", "mcp-server", "mcp_server", "server"},
	TypeHook:       {"hook", "hooks"},
}

// aliasLookup is a reverse map generated from typeAliasMap for fast lookups.
var aliasLookup map[string]Type

func init() {
	aliasLookup = make(map[string]Type)
	for typ, aliases := range typeAliasMap {
		for _, a := range aliases {
			aliasLookup[a] = typ
		}
	}
}

// ParseType resolves a raw string to a known artifact type.
func ParseType(raw string) (Type, bool) {
	t, ok := aliasLookup[strings.ToLower(strings.TrimSpace(raw))]
	return t, ok
}

// Plural returns the collection directory name for a type.
func Plural(t Type) string {
	if p, ok := pluralMap[t]; ok {
		return p
	}
	return string(t) + "s"
}
