package backup

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
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wealth-dashboard/internal/httputil"
)

// ErrNotConfigured indicates the uploader lacks a token or repository.
var ErrNotConfigured = errors.New("backup: github not configured")

// GitHubOptions configure the contents API uploader.
type GitHubOptions struct {
	APIBase string
	Token   string
	// Repo is "owner/name".
	Repo    string
	Branch  string
	Dir     string
	Message string
	Timeout time.Duration
	Retry   httputil.RetryConfig
}

// GitHub mirrors local files into a repository through the contents API.
type GitHub struct {
	opts   GitHubOptions
	client *http.Client
	logger zerolog.Logger
}

// NewGitHub constructs an uploader.
func NewGitHub(opts GitHubOptions, logger zerolog.Logger) *GitHub {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.github.com"
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.Message == "" {
		opts.Message = "Update {file}"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	l := logger.With().Str("component", "github_backup").Logger()
	opts.Retry.Logger = l
	return &GitHub{opts: opts, client: &http.Client{Timeout: timeout}, logger: l}
}

type contentsResponse struct {
	SHA string `json:"sha"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

// Upload creates or replaces name in the repository with content.
func (g *GitHub) Upload(ctx context.Context, name string, content []byte) error {
	if g.opts.Token == "" || g.opts.Repo == "" {
		return ErrNotConfigured
	}
	endpoint := g.contentsURL(name)

	sha, err := g.currentSHA(ctx, endpoint)
	if err != nil {
		return err
	}

	body, err := json.Marshal(putRequest{
		Message: strings.ReplaceAll(g.opts.Message, "{file}", name),
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  g.opts.Branch,
		SHA:     sha,
	})
	if err != nil {
		return fmt.Errorf("encode github request: %w", err)
	}

	resp, err := httputil.Do(ctx, g.client, g.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		g.headers(req)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("github put %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github put %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	g.logger.Debug().Str("file", name).Bool("replaced", sha != "").Msg("backup uploaded")
	return nil
}

// currentSHA returns the blob sha of the existing file, or "" when absent.
func (g *GitHub) currentSHA(ctx context.Context, endpoint string) (string, error) {
	q := url.Values{}
	q.Set("ref", g.opts.Branch)
	resp, err := httputil.Do(ctx, g.client, g.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		g.headers(req)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("github get: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var cr contentsResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return "", fmt.Errorf("decode github contents: %w", err)
		}
		return cr.SHA, nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("github get: status %d", resp.StatusCode)
	}
}

func (g *GitHub) contentsURL(name string) string {
	p := path.Join(g.opts.Dir, name)
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/contents/%s", g.opts.APIBase, g.opts.Repo, strings.Join(segments, "/"))
}

func (g *GitHub) headers(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.opts.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}
