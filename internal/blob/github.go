// Implements Store on a GitHub repository through the REST contents API.

package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	dberr "github.com/maruel/csvdb/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// GitHubOptions configures a GitHub store.
type GitHubOptions struct {
	Owner  string
	Repo   string
	Branch string // Defaults to the repository's default branch.
	// BaseURL is the API root. Defaults to https://api.github.com.
	BaseURL string
	// TokenSource authenticates requests. Anonymous when nil.
	TokenSource oauth2.TokenSource
	// HTTPClient is the underlying client. Defaults to one with a 30s timeout.
	HTTPClient *http.Client
	// RequestsPerMin throttles outgoing requests. 0 disables throttling.
	RequestsPerMin int
	Burst          int

	CommitterName  string
	CommitterEmail string
}

// GitHub is a Store backed by a GitHub repository.
//
// A version is the git blob SHA GitHub reports for the file, so versions are
// interchangeable with those of a Git store on a clone of the same repository.
type GitHub struct {
	opts    GitHubOptions
	base    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGitHub returns a GitHub store. ctx only scopes token refreshes.
func NewGitHub(ctx context.Context, opts GitHubOptions) (*GitHub, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, dberr.Validation("github owner and repo are required")
	}
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.TokenSource != nil {
		timeout := client.Timeout
		client = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, client), opts.TokenSource)
		client.Timeout = timeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerMin > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMin)/60.0), burst)
	}
	return &GitHub{opts: opts, base: base, client: client, limiter: limiter}, nil
}

// contentEntry is one item of a contents API response.
type contentEntry struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (g *GitHub) repoURL(parts ...string) string {
	return g.base + "/repos/" + url.PathEscape(g.opts.Owner) + "/" + url.PathEscape(g.opts.Repo) + "/" + strings.Join(parts, "/")
}

func (g *GitHub) contentsURL(p, ref string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	u := g.repoURL("contents", strings.Join(segs, "/"))
	if p == "" {
		u = strings.TrimSuffix(u, "/")
	}
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}
	return u
}

// do sends one request and returns the response body when the status is 2xx.
// Any other status is returned as a REMOTE_ERROR carrying that status so
// callers can remap it.
func (g *GitHub) do(ctx context.Context, method, u string, body any) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, dberr.Transport(err)
	}
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, dberr.Transport(err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dberr.Transport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Message == "" {
			msg.Message = strings.TrimSpace(string(data))
		}
		return nil, dberr.Remote(resp.StatusCode, msg.Message)
	}
	return data, nil
}

func statusOf(err error) int {
	var e *dberr.Error
	if dberr.CodeOf(err) == dberr.ErrRemote && errors.As(err, &e) {
		return e.StatusCode()
	}
	return 0
}

// get fetches the contents entry of a file. Directories are NOT_FOUND.
func (g *GitHub) get(ctx context.Context, p, ref string) (*contentEntry, error) {
	if p == "" {
		return nil, dberr.NotFound(p)
	}
	data, err := g.do(ctx, http.MethodGet, g.contentsURL(p, ref), nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, dberr.NotFound(p).Wrap(err)
		}
		return nil, err
	}
	if len(data) > 0 && data[0] == '[' {
		return nil, dberr.NotFound(p)
	}
	var e contentEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, dberr.Remote(http.StatusBadGateway, "decode contents response").Wrap(err)
	}
	if e.Type != "file" {
		return nil, dberr.NotFound(p)
	}
	return &e, nil
}

// decode returns the file content of e, fetching the blob when the contents
// API omitted it (files over 1MB).
func (g *GitHub) decode(ctx context.Context, e *contentEntry) ([]byte, error) {
	enc, content := e.Encoding, e.Content
	if enc == "none" || (enc == "" && e.Size > 0) {
		data, err := g.do(ctx, http.MethodGet, g.repoURL("git", "blobs", e.SHA), nil)
		if err != nil {
			return nil, err
		}
		var b struct {
			Encoding string `json:"encoding"`
			Content  string `json:"content"`
		}
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, dberr.Remote(http.StatusBadGateway, "decode blob response").Wrap(err)
		}
		enc, content = b.Encoding, b.Content
	}
	switch enc {
	case "base64":
		out, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return nil, dberr.Remote(http.StatusBadGateway, "invalid base64 content").Wrap(err)
		}
		return out, nil
	case "utf-8", "":
		return []byte(content), nil
	default:
		return nil, dberr.Remote(http.StatusBadGateway, "unsupported encoding "+enc)
	}
}

// Probe implements Store.
func (g *GitHub) Probe(ctx context.Context, p string) (Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Info{}, err
	}
	e, err := g.get(ctx, p, g.opts.Branch)
	if err != nil {
		return Info{}, err
	}
	return Info{Path: p, Size: e.Size, Version: Version(e.SHA)}, nil
}

// Read implements Store.
func (g *GitHub) Read(ctx context.Context, p string) (Object, error) {
	return g.ReadAt(ctx, p, g.opts.Branch)
}

// Write implements Store.
func (g *GitHub) Write(ctx context.Context, p string, content []byte, expected Version) (Version, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", dberr.Validation("empty path")
	}
	msg := "Create " + p
	if expected != "" {
		msg = "Update " + p
	}
	req := struct {
		Message   string     `json:"message"`
		Content   string     `json:"content"`
		SHA       string     `json:"sha,omitempty"`
		Branch    string     `json:"branch,omitempty"`
		Committer *committer `json:"committer,omitempty"`
	}{
		Message:   msg,
		Content:   base64.StdEncoding.EncodeToString(content),
		SHA:       string(expected),
		Branch:    g.opts.Branch,
		Committer: g.committer(),
	}
	data, err := g.do(ctx, http.MethodPut, g.contentsURL(p, ""), req)
	if err != nil {
		switch s := statusOf(err); {
		case s == http.StatusConflict:
			return "", dberr.Conflict(p).WithDetail("expected", string(expected)).Wrap(err)
		case s == http.StatusUnprocessableEntity && expected == "":
			// The file exists and no sha was supplied.
			return "", dberr.Conflict(p).WithDetail("expected", "").Wrap(err)
		case s == http.StatusNotFound && expected != "":
			return "", dberr.Conflict(p).WithDetail("expected", string(expected)).Wrap(err)
		}
		return "", err
	}
	var resp struct {
		Content contentEntry `json:"content"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", dberr.Remote(http.StatusBadGateway, "decode write response").Wrap(err)
	}
	return Version(resp.Content.SHA), nil
}

// Delete implements Store.
func (g *GitHub) Delete(ctx context.Context, p string, expected Version) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if expected == "" {
		// The API requires a sha. A missing file is NOT_FOUND, an existing
		// one conflicts with the empty version.
		info, err := g.Probe(ctx, p)
		if err != nil {
			return err
		}
		return dberr.Conflict(p).WithDetail("expected", "").WithDetail("current", string(info.Version))
	}
	req := struct {
		Message   string     `json:"message"`
		SHA       string     `json:"sha"`
		Branch    string     `json:"branch,omitempty"`
		Committer *committer `json:"committer,omitempty"`
	}{
		Message:   "Delete " + p,
		SHA:       string(expected),
		Branch:    g.opts.Branch,
		Committer: g.committer(),
	}
	if _, err := g.do(ctx, http.MethodDelete, g.contentsURL(p, ""), req); err != nil {
		switch statusOf(err) {
		case http.StatusNotFound:
			return dberr.NotFound(p).Wrap(err)
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return dberr.Conflict(p).WithDetail("expected", string(expected)).Wrap(err)
		}
		return err
	}
	return nil
}

func (g *GitHub) committer() *committer {
	if g.opts.CommitterName == "" || g.opts.CommitterEmail == "" {
		return nil
	}
	return &committer{Name: g.opts.CommitterName, Email: g.opts.CommitterEmail}
}

// List implements Store.
func (g *GitHub) List(ctx context.Context, p string) ([]Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	var out []Info
	stack := []string{p}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		data, err := g.do(ctx, http.MethodGet, g.contentsURL(dir, g.opts.Branch), nil)
		if err != nil {
			if statusOf(err) == http.StatusNotFound {
				return nil, dberr.NotFound(dir).Wrap(err)
			}
			return nil, err
		}
		if len(data) > 0 && data[0] != '[' {
			var e contentEntry
			if err := json.Unmarshal(data, &e); err != nil {
				return nil, dberr.Remote(http.StatusBadGateway, "decode contents response").Wrap(err)
			}
			if e.Type == "file" {
				out = append(out, Info{Path: e.Path, Size: e.Size, Version: Version(e.SHA)})
			}
			continue
		}
		var entries []contentEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, dberr.Remote(http.StatusBadGateway, "decode contents response").Wrap(err)
		}
		for _, e := range entries {
			child := e.Path
			switch e.Type {
			case "dir":
				stack = append(stack, child)
			case "file":
				out = append(out, Info{Path: child, Size: e.Size, Version: Version(e.SHA)})
			}
		}
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// History implements Historian using the commits API.
func (g *GitHub) History(ctx context.Context, p string, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	perPage := min(n, 100)
	var commits []*Commit
	for page := 1; len(commits) < n; page++ {
		q := url.Values{}
		if p != "" {
			q.Set("path", p)
		}
		if g.opts.Branch != "" {
			q.Set("sha", g.opts.Branch)
		}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))
		data, err := g.do(ctx, http.MethodGet, g.repoURL("commits")+"?"+q.Encode(), nil)
		if err != nil {
			if statusOf(err) == http.StatusConflict {
				// Empty repository.
				return commits, nil
			}
			return nil, err
		}
		var items []struct {
			SHA    string `json:"sha"`
			Commit struct {
				Message   string    `json:"message"`
				Author    signature `json:"author"`
				Committer signature `json:"committer"`
			} `json:"commit"`
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, dberr.Remote(http.StatusBadGateway, "decode commits response").Wrap(err)
		}
		for _, it := range items {
			if len(commits) == n {
				break
			}
			subject, body, _ := strings.Cut(it.Commit.Message, "\n")
			commits = append(commits, &Commit{
				Hash:           it.SHA,
				Message:        subject,
				Body:           strings.TrimSpace(body),
				Author:         it.Commit.Author.Name,
				AuthorEmail:    it.Commit.Author.Email,
				AuthorDate:     it.Commit.Author.Date,
				Committer:      it.Commit.Committer.Name,
				CommitterEmail: it.Commit.Committer.Email,
				CommitDate:     it.Commit.Committer.Date,
			})
		}
		if len(items) < perPage {
			break
		}
	}
	return commits, nil
}

type signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// ReadAt implements Historian. rev is a branch, tag or commit SHA.
func (g *GitHub) ReadAt(ctx context.Context, p, rev string) (Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Object{}, err
	}
	e, err := g.get(ctx, p, rev)
	if err != nil {
		return Object{}, err
	}
	data, err := g.decode(ctx, e)
	if err != nil {
		return Object{}, fmt.Errorf("read %s: %w", p, err)
	}
	return Object{Content: data, Version: Version(e.SHA)}, nil
}
