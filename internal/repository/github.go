package repository

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
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	githubAPIVersion   = "2022-11-28"
	githubUserAgent    = "qr-menu-api"
	maxGitHubResponse  = 64 << 20
	maxUpstreamMessage = 200
)

// GitHubConfig describes the repository that holds tenant documents.
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
	// APIURL defaults to https://api.github.com.
	APIURL string
	// Timeout bounds a single round trip, defaults to 10s.
	Timeout time.Duration
}

func (c GitHubConfig) configured() bool {
	return c.Token != "" && c.Owner != "" && c.Repo != ""
}

// GitHubStore stores documents as files committed through the GitHub Contents API.
type GitHubStore struct {
	cfg     GitHubConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewGitHubStore creates a store for cfg. client may be nil. A store built
// from an incomplete config answers every call with ErrMisconfigured.
func NewGitHubStore(cfg GitHubConfig, client *http.Client, log *zap.Logger) *GitHubStore {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}

	st := gobreaker.Settings{
		Name:        "github-contents",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Canceled callers do not count as upstream failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &GitHubStore{
		cfg:     cfg,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

type githubContent struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubPut struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type githubPutResult struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type githubResponse struct {
	status int
	body   []byte
}

// Get fetches path from the configured branch.
func (s *GitHubStore) Get(ctx context.Context, path string) (*Document, error) {
	resp, err := s.do(ctx, http.MethodGet, s.contentsURL(path)+"?ref="+url.QueryEscape(s.cfg.Branch), nil)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.status != http.StatusOK:
		return nil, statusError(resp, ErrUnavailable)
	}

	var file githubContent
	if err := json.Unmarshal(resp.body, &file); err != nil {
		return nil, fmt.Errorf("%w: decode contents of %s: %v", ErrUnavailable, path, err)
	}

	content, err := s.decodeContent(ctx, file)
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMisconfigured) {
			return nil, err
		}
		// The revision is still returned so the caller can overwrite the file.
		s.log.Warn("undecodable github content", zap.String("path", path), zap.Error(err))
		content = nil
	}
	return &Document{Path: path, Content: content, Revision: file.SHA}, nil
}

// Put commits content at path on the configured branch.
func (s *GitHubStore) Put(ctx context.Context, path string, content []byte, revision, message string) (string, error) {
	body, err := json.Marshal(githubPut{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  s.cfg.Branch,
		SHA:     revision,
	})
	if err != nil {
		return "", err
	}

	resp, err := s.do(ctx, http.MethodPut, s.contentsURL(path), body)
	if err != nil {
		return "", err
	}
	switch resp.status {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return "", statusError(resp, ErrConflict)
	default:
		return "", statusError(resp, ErrUnavailable)
	}

	var res githubPutResult
	if err := json.Unmarshal(resp.body, &res); err != nil {
		return "", fmt.Errorf("%w: decode commit result for %s: %v", ErrUnavailable, path, err)
	}
	if res.Content.SHA == "" {
		return BlobSHA(content), nil
	}
	return res.Content.SHA, nil
}

// decodeContent returns the file bytes. Files above the contents API size
// limit come back without inline content and are read through the blob API.
func (s *GitHubStore) decodeContent(ctx context.Context, file githubContent) ([]byte, error) {
	if file.Encoding == "none" && file.SHA != "" {
		resp, err := s.do(ctx, http.MethodGet, s.repoURL()+"/git/blobs/"+url.PathEscape(file.SHA), nil)
		if err != nil {
			return nil, err
		}
		if resp.status != http.StatusOK {
			return nil, statusError(resp, ErrUnavailable)
		}
		if err := json.Unmarshal(resp.body, &file); err != nil {
			return nil, fmt.Errorf("%w: decode blob: %v", ErrUnavailable, err)
		}
	}
	if file.Encoding != "" && file.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q", file.Encoding)
	}
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
}

func (s *GitHubStore) do(ctx context.Context, method, endpoint string, body []byte) (*githubResponse, error) {
	if !s.cfg.configured() {
		return nil, ErrMisconfigured
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := s.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
		req.Header.Set("User-Agent", githubUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxGitHubResponse))
		if err != nil {
			return nil, err
		}
		out := &githubResponse{status: resp.StatusCode, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return out, statusError(out, ErrUnavailable)
		}
		return out, nil
	})
	if err != nil {
		var se *StatusError
		switch {
		case errors.As(err, &se):
			return nil, err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			s.log.Warn("github request failed", zap.String("method", method), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return res.(*githubResponse), nil
}

func (s *GitHubStore) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", s.cfg.APIURL, url.PathEscape(s.cfg.Owner), url.PathEscape(s.cfg.Repo))
}

func (s *GitHubStore) contentsURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.repoURL() + "/contents/" + strings.Join(segments, "/")
}

func statusError(resp *githubResponse, kind error) *StatusError {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.body, &payload)
	msg := payload.Message
	if len(msg) > maxUpstreamMessage {
		msg = msg[:maxUpstreamMessage]
	}
	return &StatusError{Status: resp.status, Message: msg, Err: kind}
}
