package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Options{
		BaseURL:     srv.URL,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	return c, srv
}

var testSource = artifact.Source{ID: "acme/skills", Owner: "acme", Repo: "skills", Ref: "main"}

func TestResolveRef(t *testing.T) {
	var gotPath, gotAuth string
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"sha":"abc123","commit":{}}`)
	})
	c.token = "tok"

	sha, err := c.ResolveRef(context.Background(), testSource)
	if err != nil {
		t.Fatal(err)
	}
	if sha != "abc123" {
		t.Errorf("sha = %s", sha)
	}
	if gotPath != "/repos/acme/skills/commits/main" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestRetryAfterTooManyRequests(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"sha":"abc123"}`)
	})

	sha, err := c.ResolveRef(context.Background(), testSource)
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if sha != "abc123" {
		t.Errorf("sha = %s", sha)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryOnServerError(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"sha":"def456"}`)
	})

	if _, err := c.ResolveRef(context.Background(), testSource); err != nil {
		t.Fatalf("expected recovery after 502, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestNotFoundIsClientErrorWithoutRetry(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.ResolveRef(context.Background(), testSource)
	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ClientError, got %v", err)
	}
	if ce.Status != http.StatusNotFound {
		t.Errorf("status = %d", ce.Status)
	}
	if calls != 1 {
		t.Errorf("404 must not be retried, calls = %d", calls)
	}
}

func TestRateLimitExhaustionAndPreemption(t *testing.T) {
	calls := 0
	reset := time.Now().Add(time.Hour).Unix()
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(reset))
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.ResolveRef(context.Background(), testSource)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rle.ResetAt.Unix() != reset {
		t.Errorf("resetAt = %v, want epoch %d", rle.ResetAt, reset)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want all 3 attempts consumed", calls)
	}

	// Known-exhausted quota short-circuits before touching the network.
	_, err = c.ResolveRef(context.Background(), testSource)
	if !errors.As(err, &rle) {
		t.Fatalf("expected preemptive *RateLimitError, got %v", err)
	}
	if calls != 3 {
		t.Errorf("preempted call still hit the server (calls = %d)", calls)
	}
}

func TestPersistentServerErrorSurfacesStatus(t *testing.T) {
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ResolveRef(context.Background(), testSource)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		t.Fatalf("5xx exhaustion must not be a rate-limit error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want all 3 attempts consumed", calls)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("final status missing from error: %v", err)
	}
}

const treeBody = `{
  "truncated": false,
  "tree": [
    {"path": "skills", "type": "tree", "sha": "t1"},
    {"path": "skills/pdf", "type": "tree", "sha": "t2"},
    {"path": "skills/pdf/SKILL.md", "type": "blob", "sha": "b1", "size": 42},
    {"path": "README.md", "type": "blob", "sha": "b2", "size": 7},
    {"path": "docs/guide.md", "type": "blob", "sha": "b3", "size": 9}
  ]
}`

func TestFetchTree(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, treeBody)
	})

	res, err := c.FetchTree(context.Background(), testSource, "sha", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
	if len(res.Paths) != 5 {
		t.Fatalf("got %d paths", len(res.Paths))
	}
	for i := 1; i < len(res.Paths); i++ {
		if res.Paths[i-1].Path >= res.Paths[i].Path {
			t.Fatalf("paths not sorted: %q before %q", res.Paths[i-1].Path, res.Paths[i].Path)
		}
	}
	for _, p := range res.Paths {
		if p.Path == "skills/pdf/SKILL.md" {
			if p.Kind != artifact.KindFile || p.SHA != "b1" || p.SizeBytes != 42 {
				t.Errorf("blob entry mismatch: %+v", p)
			}
		}
		if p.Path == "skills/pdf" && p.Kind != artifact.KindTree {
			t.Errorf("tree entry mismatch: %+v", p)
		}
	}
}

func TestFetchTreeRootHint(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, treeBody)
	})

	src := testSource
	src.RootHint = "/skills/"
	res, err := c.FetchTree(context.Background(), src, "sha", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range res.Paths {
		if p.Path != "skills" && !hasPrefix(p.Path, "skills/") {
			t.Errorf("path %s escapes root hint", p.Path)
		}
	}
	if len(res.Paths) != 3 {
		t.Errorf("got %d paths under hint, want 3", len(res.Paths))
	}
}

func hasPrefix(s, p string) bool { return len(s) >= len(p) && s[:len(p)] == p }

func TestFetchTreeMaxEntriesTruncates(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, treeBody)
	})

	res, err := c.FetchTree(context.Background(), testSource, "sha", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("cap hit must set Truncated")
	}
	if len(res.Paths) != 2 {
		t.Errorf("got %d paths, want 2", len(res.Paths))
	}
}

func TestFetchBlob(t *testing.T) {
	raw := "---\ntype: skill\n---\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	// GitHub wraps long base64 payloads across lines.
	body := fmt.Sprintf(`{"encoding":"base64","content":"%s\n%s"}`, encoded[:10], encoded[10:])
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})

	got, err := c.FetchBlob(context.Background(), testSource, "skills/pdf/SKILL.md", "main")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != raw {
		t.Errorf("blob = %q, want %q", got, raw)
	}
}
