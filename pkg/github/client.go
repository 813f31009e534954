package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

const (
	defaultBaseURL     = "https://api.github.com"
	defaultMaxAttempts = 4
	defaultBaseDelay   = 2 * time.Second
	userAgent          = "skillmeat-scanner"
)

// ClientError is a non-retryable upstream 4xx (404, 401, ...).
type ClientError struct {
	Status int
	URL    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("github: request to %s failed with status %d", e.URL, e.Status)
}

// RateLimitError means retries were exhausted on a rate-limited endpoint.
// Callers can schedule a deferred retry after ResetAt.
type RateLimitError struct {
	URL     string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("github: rate limited on %s, retries exhausted", e.URL)
	}
	return fmt.Sprintf("github: rate limited on %s, retries exhausted (resets %s)", e.URL, e.ResetAt.Format(time.RFC3339))
}

// TreeResult is a fetched recursive tree. Truncated is set when either the
// API or the caller's cap cut the listing short, never silently.
type TreeResult struct {
	Paths     []artifact.ScannedPath
	Truncated bool
}

// Options configures a Client.
type Options struct {
	Token       string
	BaseURL     string
	MaxAttempts int
	BaseDelay   time.Duration
}

// Client is a thin, retrying read client for the GitHub tree/ref/blob APIs.
// It holds no state between calls beyond a remaining-quota counter used to
// preempt obviously-exhausted quota.
type Client struct {
	http    *retryablehttp.Client
	token   string
	baseURL string

	// remaining tracks the last seen X-RateLimit-Remaining; -1 = unknown.
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
}

// NewClient builds a Client. A zero Options value gives sane defaults and
// unauthenticated access.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}

	rc := retryablehttp.NewClient()
	rc.Logger = log.New(io.Discard, "", 0)
	rc.RetryMax = opts.MaxAttempts - 1
	rc.RetryWaitMin = opts.BaseDelay
	rc.RetryWaitMax = 60 * time.Second
	rc.CheckRetry = checkRetry
	rc.Backoff = backoffWithJitter
	// Hand the final response back instead of a bare "giving up" error, so
	// exhausted retries can still be mapped onto the error taxonomy and the
	// quota headers of the last attempt get recorded.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:      rc,
		token:     opts.Token,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		remaining: -1,
	}
}

// checkRetry retries 5xx and explicit rate-limit signals: 429, or 403 with a
// zero-remaining-quota header. Other 4xx surface immediately.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	if isRateLimited(resp) {
		return true, nil
	}
	return false, nil
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// backoffWithJitter is exponential backoff with full jitter, honoring
// Retry-After when the server sends one.
func backoffWithJitter(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	d := min << uint(attemptNum)
	if d > max || d <= 0 {
		d = max
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// requestWithRetry performs one GET through the retrying client and maps
// terminal failures onto the error taxonomy.
func (c *Client) requestWithRetry(ctx context.Context, url string) (string, error) {
	c.mu.Lock()
	if c.remaining == 0 && time.Now().Before(c.resetAt) {
		resetAt := c.resetAt
		c.mu.Unlock()
		return "", &RateLimitError{URL: url, ResetAt: resetAt}
	}
	c.mu.Unlock()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("github: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	c.noteQuota(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return string(body), nil
	case isRateLimited(resp):
		c.mu.Lock()
		resetAt := c.resetAt
		c.mu.Unlock()
		return "", &RateLimitError{URL: url, ResetAt: resetAt}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", &ClientError{Status: resp.StatusCode, URL: url}
	default:
		return "", fmt.Errorf("github: request to %s failed with status %d after retries", url, resp.StatusCode)
	}
}

func (c *Client) noteQuota(resp *http.Response) {
	rem := resp.Header.Get("X-RateLimit-Remaining")
	if rem == "" {
		return
	}
	n, err := strconv.Atoi(rem)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = n
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			c.resetAt = time.Unix(epoch, 0)
		}
	}
}

// ResolveRef resolves a branch, tag or sha to a commit SHA.
func (c *Client) ResolveRef(ctx context.Context, source artifact.Source) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", c.baseURL, source.Owner, source.Repo, source.ResolvedRef())
	body, err := c.requestWithRetry(ctx, url)
	if err != nil {
		return "", err
	}
	sha := gjson.Get(body, "sha").Str
	if sha == "" {
		return "", &ClientError{Status: http.StatusNotFound, URL: url}
	}
	return sha, nil
}

// FetchTree fetches the full recursive tree at sha, filtered under the
// source's root hint and capped at maxEntries. Path order is stable (sorted)
// so detector output is deterministic for the same input set.
func (c *Client) FetchTree(ctx context.Context, source artifact.Source, sha string, maxEntries int) (TreeResult, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.baseURL, source.Owner, source.Repo, sha)
	body, err := c.requestWithRetry(ctx, url)
	if err != nil {
		return TreeResult{}, err
	}

	result := TreeResult{Truncated: gjson.Get(body, "truncated").Bool()}
	root := normalizeRootHint(source.RootHint)

	entries := gjson.Get(body, "tree").Array()
	for _, e := range entries {
		p := e.Get("path").Str
		if p == "" {
			continue
		}
		if root != "" && p != root && !strings.HasPrefix(p, root+"/") {
			continue
		}
		kind := artifact.KindFile
		if e.Get("type").Str == "tree" {
			kind = artifact.KindTree
		}
		if maxEntries > 0 && len(result.Paths) >= maxEntries {
			result.Truncated = true
			break
		}
		result.Paths = append(result.Paths, artifact.ScannedPath{
			Path:      p,
			Kind:      kind,
			SHA:       e.Get("sha").Str,
			SizeBytes: e.Get("size").Int(),
		})
	}

	sort.Slice(result.Paths, func(i, j int) bool { return result.Paths[i].Path < result.Paths[j].Path })
	return result, nil
}

// FetchBlob fetches one file's raw content at sha.
func (c *Client) FetchBlob(ctx context.Context, source artifact.Source, path, sha string) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.baseURL, source.Owner, source.Repo, strings.TrimPrefix(path, "/"), sha)
	body, err := c.requestWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	encoding := gjson.Get(body, "encoding").Str
	content := gjson.Get(body, "content").Str
	if encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("github: decoding blob %s: %w", path, err)
		}
		return decoded, nil
	}
	return []byte(content), nil
}

func normalizeRootHint(root string) string {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "." {
		return ""
	}
	return root
}
