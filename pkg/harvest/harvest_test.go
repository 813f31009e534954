package harvest

import (
	"strings"
	"testing"
)

func TestNormalizeRepoURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://github.com/Acme/Skills", "github.com/acme/skills"},
		{"http://www.github.com/acme/skills/", "github.com/acme/skills"},
		{"github.com/acme/skills.git", "github.com/acme/skills"},
		{"https://github.com/acme/skills/tree/main/skills", "github.com/acme/skills"},
		{"https://github.com/acme/skills?tab=readme", "github.com/acme/skills"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeRepoURL(tc.in); got != tc.want {
			t.Errorf("NormalizeRepoURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRepoURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://github.com/Acme/Skills",
		"github.com/acme/skills",
		"https://github.com/acme/skills/tree/main/x",
	}
	for _, in := range inputs {
		once := NormalizeRepoURL(in)
		if twice := NormalizeRepoURL(once); twice != once {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestHarvestLinksBasic(t *testing.T) {
	md := `# Awesome repo

A curated list of skill repositories:

- [Acme skills](https://github.com/acme/skills)
- Plain link: https://github.com/other/stuff
- Not a repo: https://github.com/acme/skills/issues/12
- Site chrome: https://github.com/features/actions
`
	h := NewHarvester()
	links := h.HarvestLinks(md, "https://github.com/origin/list", 0, DefaultConfig())

	got := map[string]bool{}
	for _, l := range links {
		got[l.NormalizedURL] = true
		if l.SourceReadmeURL != "https://github.com/origin/list" {
			t.Errorf("source readme url = %s", l.SourceReadmeURL)
		}
		if l.Depth != 1 {
			t.Errorf("depth = %d, want 1", l.Depth)
		}
	}
	if !got["github.com/acme/skills"] || !got["github.com/other/stuff"] {
		t.Fatalf("expected both repo links, got %v", got)
	}
	if len(links) != 2 {
		t.Fatalf("issues/features links should be rejected, got %v", got)
	}
}

func TestHarvestLinksConfidenceScoring(t *testing.T) {
	filler := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 5)
	md := "Check out the [skill pack](https://github.com/acme/pack) for agent skills.\n\n" +
		filler + "\n\nUnrelated tool: see https://github.com/randomorg/parser for details."
	cfg := DefaultConfig()
	cfg.TrustedOrgs = map[string]bool{"acme": true}

	h := NewHarvester()
	links := h.HarvestLinks(md, "origin", 0, cfg)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	// Trusted org + keyword proximity sorts first.
	if links[0].NormalizedURL != "github.com/acme/pack" {
		t.Fatalf("highest-confidence link = %s", links[0].NormalizedURL)
	}
	if links[0].Confidence != 1.0 {
		t.Errorf("acme confidence = %v, want 1.0 (base + keyword + trusted)", links[0].Confidence)
	}
	if links[1].Confidence != baseConfidence {
		t.Errorf("plain confidence = %v, want %v", links[1].Confidence, baseConfidence)
	}
}

func TestHarvestLinksCycleSafety(t *testing.T) {
	md := `Self link: https://github.com/self/repo and peer https://github.com/peer/repo
and again https://github.com/peer/repo`

	h := NewHarvester()
	h.AddVisited("https://github.com/self/repo")

	links := h.HarvestLinks(md, "https://github.com/self/repo", 0, DefaultConfig())
	if len(links) != 1 || links[0].NormalizedURL != "github.com/peer/repo" {
		t.Fatalf("expected only peer once, got %+v", links)
	}

	// A second pass over the same text finds nothing new.
	again := h.HarvestLinks(md, "https://github.com/self/repo", 0, DefaultConfig())
	if len(again) != 0 {
		t.Fatalf("revisit produced links: %+v", again)
	}
}

func TestHarvestLinksDepthLimit(t *testing.T) {
	md := "link https://github.com/a/b"
	h := NewHarvester()
	cfg := DefaultConfig() // MaxDepth 1

	if links := h.HarvestLinks(md, "origin", 1, cfg); links != nil {
		t.Fatalf("at max depth no links should be emitted, got %+v", links)
	}
	if links := h.HarvestLinks(md, "origin", 0, cfg); len(links) != 1 {
		t.Fatalf("below max depth expected 1 link, got %+v", links)
	}
}

func TestHarvestLinksHTMLAnchors(t *testing.T) {
	md := `<p>See <a href="https://github.com/html/linked">this repo</a>.</p>`
	h := NewHarvester()
	links := h.HarvestLinks(md, "origin", 0, DefaultConfig())
	if len(links) != 1 || links[0].NormalizedURL != "github.com/html/linked" {
		t.Fatalf("html anchor not harvested: %+v", links)
	}
}

func TestHarvestLinksTreeDeepLink(t *testing.T) {
	md := `direct artifact root: https://github.com/acme/repo/tree/main/skills/pdf`
	h := NewHarvester()
	links := h.HarvestLinks(md, "origin", 0, DefaultConfig())
	if len(links) != 1 || links[0].NormalizedURL != "github.com/acme/repo" {
		t.Fatalf("tree deep link should resolve to its repo, got %+v", links)
	}
}

func TestParseRepoRefHosts(t *testing.T) {
	cfg := Config{ExtraHosts: map[string]bool{"git.example.com": true}}
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://github.com/a/b", true},
		{"https://git.example.com/a/b", true},
		{"https://gitlab.com/a/b", false},
		{"https://github.com/a", false},
		{"ftp://github.com/a/b", false},
	}
	for _, tc := range tests {
		_, _, ok := parseRepoRef(tc.url, cfg)
		if ok != tc.ok {
			t.Errorf("parseRepoRef(%q) ok = %v, want %v", tc.url, ok, tc.ok)
		}
	}
}
