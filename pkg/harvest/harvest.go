package harvest

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// HarvestedLink is a candidate secondary repository discovered in a README.
type HarvestedLink struct {
	Owner           string
	Repo            string
	NormalizedURL   string
	Confidence      float64 // 0..1
	SourceReadmeURL string
	Depth           int
}

// Config controls link extraction and scoring.
type Config struct {
	// MaxDepth bounds transitive discovery. 1 means root README only.
	MaxDepth int
	// TrustedOrgs earn the trusted-org confidence bonus.
	TrustedOrgs map[string]bool
	// ExtraHosts are additional git hosts (e.g. GitHub Enterprise) accepted
	// besides github.com. Hosts must still have a valid registrable domain.
	ExtraHosts map[string]bool
	// Keywords are artifact-indicative terms that earn the keyword bonus
	// when found near a link.
	Keywords []string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 1,
		Keywords: []string{"skill", "plugin", "template", "agent", "command", "mcp", "hook", "marketplace"},
	}
}

const (
	baseConfidence  = 0.3
	keywordBonus    = 0.3
	trustedOrgBonus = 0.4
	// keywordWindow is how many bytes of surrounding text are inspected for
	// artifact-indicative terms.
	keywordWindow = 120
)

// Harvester extracts repository links from markdown. Its visited set is
// explicit per-session state, so concurrent sessions for different sources
// never interfere.
type Harvester struct {
	mu      sync.Mutex
	visited map[string]bool
}

func NewHarvester() *Harvester {
	return &Harvester{visited: map[string]bool{}}
}

// Reset clears the visited set.
func (h *Harvester) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visited = map[string]bool{}
}

// AddVisited pre-seeds the visited set, e.g. with already-known sources.
func (h *Harvester) AddVisited(urls ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range urls {
		if n := NormalizeRepoURL(u); n != "" {
			h.visited[n] = true
		}
	}
}

// markdownLinkRe matches [text](url) links; bareURLRe catches plain URLs.
var (
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\((https?://[^)\s]+)\)`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)
	repoPathRe     = regexp.MustCompile(`^/([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+?)(?:\.git)?(/.*)?$`)
)

// non-repository path segments that disqualify a deep link.
var rejectedSections = map[string]bool{
	"issues": true, "pulls": true, "pull": true, "wiki": true,
	"releases": true, "actions": true, "discussions": true,
	"commits": true, "compare": true, "settings": true,
}

// reserved owner segments that are site chrome, not accounts.
var reservedOwners = map[string]bool{
	"features": true, "topics": true, "collections": true, "sponsors": true,
	"marketplace": true, "orgs": true, "about": true, "site": true,
	"apps": true, "settings": true, "search": true, "login": true,
}

// HarvestLinks extracts candidate repository references from markdown text.
// Already-visited repositories are skipped and every emitted link is recorded
// as visited, which is what makes self-referencing READMEs terminate.
func (h *Harvester) HarvestLinks(markdown, originURL string, depth int, cfg Config) []HarvestedLink {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if depth >= cfg.MaxDepth {
		return nil
	}

	type found struct {
		url string
		pos int
	}
	var hits []found
	seenAt := map[string]bool{}

	collect := func(url string, pos int) {
		if seenAt[url] {
			return
		}
		seenAt[url] = true
		hits = append(hits, found{url: url, pos: pos})
	}

	for _, m := range markdownLinkRe.FindAllStringSubmatchIndex(markdown, -1) {
		collect(markdown[m[2]:m[3]], m[0])
	}
	for _, m := range bareURLRe.FindAllStringIndex(markdown, -1) {
		collect(strings.TrimRight(markdown[m[0]:m[1]], ".,;:"), m[0])
	}
	for _, anchor := range htmlAnchors(markdown) {
		pos := strings.Index(markdown, anchor)
		if pos < 0 {
			pos = 0
		}
		collect(anchor, pos)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []HarvestedLink
	for _, hit := range hits {
		owner, repo, ok := parseRepoRef(hit.url, cfg)
		if !ok {
			continue
		}
		normalized := "github.com/" + strings.ToLower(owner) + "/" + strings.ToLower(repo)
		if h.visited[normalized] {
			continue
		}
		h.visited[normalized] = true

		conf := baseConfidence
		if containsKeyword(window(markdown, hit.pos), cfg.Keywords) {
			conf += keywordBonus
		}
		if cfg.TrustedOrgs[strings.ToLower(owner)] {
			conf += trustedOrgBonus
		}
		if conf > 1 {
			conf = 1
		}

		out = append(out, HarvestedLink{
			Owner:           owner,
			Repo:            repo,
			NormalizedURL:   normalized,
			Confidence:      conf,
			SourceReadmeURL: originURL,
			Depth:           depth + 1,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].NormalizedURL < out[j].NormalizedURL
	})
	return out
}

// htmlAnchors pulls href targets out of HTML blocks embedded in markdown.
func htmlAnchors(markdown string) []string {
	if !strings.Contains(markdown, "<a ") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markdown))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && strings.HasPrefix(href, "http") {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// parseRepoRef validates a URL as a repository reference and extracts its
// owner/repo pair.
func parseRepoRef(raw string, cfg Config) (owner, repo string, ok bool) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	var host, rest string
	switch {
	case strings.HasPrefix(lower, "https://"):
		rest = raw[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		rest = raw[len("http://"):]
	default:
		return "", "", false
	}
	if i := strings.IndexAny(rest, "#?"); i >= 0 {
		rest = rest[:i]
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", "", false
	}
	host = strings.ToLower(rest[:slash])
	pathPart := strings.TrimSuffix(rest[slash:], "/")

	if host != "github.com" && host != "www.github.com" {
		if !cfg.ExtraHosts[host] {
			return "", "", false
		}
		if _, err := publicsuffix.Domain(host); err != nil {
			return "", "", false
		}
	}

	m := repoPathRe.FindStringSubmatch(pathPart)
	if m == nil {
		return "", "", false
	}
	owner, repo = m[1], m[2]
	if reservedOwners[strings.ToLower(owner)] {
		return "", "", false
	}

	// Deep links are accepted only when they point at a plausible artifact
	// root (a tree link); issues, pulls, wiki and the like never are.
	if extra := m[3]; extra != "" {
		segs := strings.Split(strings.Trim(extra, "/"), "/")
		if rejectedSections[strings.ToLower(segs[0])] {
			return "", "", false
		}
		if segs[0] != "tree" {
			return "", "", false
		}
	}
	return owner, repo, true
}

// NormalizeRepoURL reduces a repository URL to its canonical
// "github.com/owner/repo" form. It is idempotent.
func NormalizeRepoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, prefix) {
			raw = raw[len(prefix):]
			lower = lower[len(prefix):]
			break
		}
	}
	lower = strings.TrimPrefix(lower, "www.")
	if i := strings.IndexAny(lower, "#?"); i >= 0 {
		lower = lower[:i]
	}
	lower = strings.TrimSuffix(lower, "/")
	lower = strings.TrimSuffix(lower, ".git")

	parts := strings.Split(lower, "/")
	if len(parts) < 3 {
		return lower
	}
	return parts[0] + "/" + parts[1] + "/" + parts[2]
}

func window(text string, pos int) string {
	start := pos - keywordWindow
	if start < 0 {
		start = 0
	}
	end := pos + keywordWindow
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
