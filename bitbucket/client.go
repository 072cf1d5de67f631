package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"bitbuckethooks/logger"
	"bitbuckethooks/models"
)

// HookEvents is the event subscription every created hook gets.
var HookEvents = []string{
	"repo:push",
	"repo:fork",
	"repo:commit_comment_created",
	"repo:commit_status_created",
	"repo:commit_status_updated",
	"issue:created",
	"issue:updated",
	"issue:comment_created",
	"pullrequest:created",
	"pullrequest:updated",
	"pullrequest:approved",
	"pullrequest:unapproved",
	"pullrequest:fulfilled",
	"pullrequest:rejected",
	"pullrequest:comment_created",
	"pullrequest:comment_updated",
	"pullrequest:comment_deleted",
}

// Client represents a Bitbucket Cloud API client
type Client struct {
	username   string
	password   string
	httpClient *http.Client
	baseURL    *url.URL
	// out receives a line for every request before it is sent.
	out io.Writer
}

// page is the envelope Bitbucket wraps every collection in.
type page[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type repositoryResponse struct {
	Slug  string `json:"slug"`
	Links struct {
		Hooks struct {
			Href string `json:"href"`
		} `json:"hooks"`
	} `json:"links"`
}

type hookResponse struct {
	UUID        string   `json:"uuid"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Active      bool     `json:"active"`
	Events      []string `json:"events"`
}

type hookRequest struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Active      bool     `json:"active"`
	Events      []string `json:"events"`
}

// NewClient creates a client for the API rooted at baseURL, authenticating
// every request with HTTP Basic auth. Announcements go to out, or stdout when
// out is nil.
func NewClient(baseURL, username, password string, out io.Writer) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if out == nil {
		out = os.Stdout
	}
	logger.Info("Initializing Bitbucket client",
		zap.String("base_url", u.String()),
		zap.String("username", username))
	return &Client{
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: u,
		out:     out,
	}, nil
}

// ListRepositories returns every repository of account, following the
// "next" links until the last page. Results keep the server's order.
func (c *Client) ListRepositories(ctx context.Context, account string) ([]models.Repository, error) {
	reqURL := c.baseURL.JoinPath("repositories", account)

	items, err := fetchAll[repositoryResponse](ctx, c, reqURL.String())
	if err != nil {
		logger.Error("Failed to list repositories",
			zap.Error(err),
			zap.String("account", account))
		return nil, fmt.Errorf("failed to list repositories of %s: %w", account, err)
	}

	repos := make([]models.Repository, 0, len(items))
	for _, item := range items {
		repos = append(repos, models.Repository{
			Slug:      item.Slug,
			HooksHref: item.Links.Hooks.Href,
		})
	}

	logger.Info("Successfully listed repositories",
		zap.String("account", account),
		zap.Int("total_count", len(repos)))

	return repos, nil
}

// ListHooks returns the web hooks configured on a repository. A repository
// without hooks yields an empty slice.
func (c *Client) ListHooks(ctx context.Context, account, slug string) ([]models.Hook, error) {
	reqURL := c.hooksURL(account, slug)

	items, err := fetchAll[hookResponse](ctx, c, reqURL)
	if err != nil {
		logger.Error("Failed to list web hooks",
			zap.Error(err),
			zap.String("account", account),
			zap.String("repo", slug))
		return nil, fmt.Errorf("failed to list web hooks of %s/%s: %w", account, slug, err)
	}

	hooks := make([]models.Hook, 0, len(items))
	for _, item := range items {
		hooks = append(hooks, item.toModel())
	}
	return hooks, nil
}

// CreateHook registers hook on a repository and returns the hook as echoed
// by the server. The hook is always created active; when it carries no
// events it subscribes to HookEvents. Callers must compare the returned URL
// with the requested one, a 2xx status alone is not proof of success.
func (c *Client) CreateHook(ctx context.Context, account, slug string, hook models.Hook) (*models.Hook, error) {
	reqURL := c.hooksURL(account, slug)

	events := hook.Events
	if len(events) == 0 {
		events = HookEvents
	}
	body, err := json.Marshal(hookRequest{
		Description: hook.Description,
		URL:         hook.URL,
		Active:      true,
		Events:      events,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode hook: %w", err)
	}

	c.announce(http.MethodPost, reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Failed to create web hook",
			zap.Error(err),
			zap.String("account", account),
			zap.String("repo", slug))
		return nil, fmt.Errorf("%w: POST %s: %v", ErrHookCreation, reqURL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrHookCreation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("Failed to create web hook",
			zap.Int("status_code", resp.StatusCode),
			zap.String("account", account),
			zap.String("repo", slug),
			zap.ByteString("body", payload))
		return nil, fmt.Errorf("%w: POST %s: status code %d", ErrHookCreation, reqURL, resp.StatusCode)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, fmt.Errorf("%w: empty response from %s", ErrHookCreation, reqURL)
	}

	var created hookResponse
	if err := json.Unmarshal(payload, &created); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrHookCreation, err)
	}

	logger.Info("Created web hook",
		zap.String("account", account),
		zap.String("repo", slug),
		zap.String("uuid", created.UUID),
		zap.String("url", created.URL))

	result := created.toModel()
	return &result, nil
}

func (c *Client) hooksURL(account, slug string) string {
	return c.baseURL.JoinPath("repositories", account, slug, "hooks").String()
}

func (c *Client) authorize(req *http.Request) {
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) announce(method, reqURL string) {
	verb := "Querying"
	if method == http.MethodPost {
		verb = "Posting to"
	}
	fmt.Fprintf(c.out, "%s %s ...\n", verb, reqURL)
	logger.Debug("Sending request", zap.String("method", method), zap.String("url", reqURL))
}

// getJSON issues an authenticated GET and decodes the body into v. Anything
// but 200 OK is an ErrRequest.
func (c *Client) getJSON(ctx context.Context, reqURL string, v any) error {
	c.announce(http.MethodGet, reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrRequest, reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("Unexpected response status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", reqURL))
		return fmt.Errorf("%w: GET %s: status code %d", ErrRequest, reqURL, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", reqURL, err)
	}
	return nil
}

// fetchAll walks a paginated collection starting at first and returns the
// values of every page in order.
func fetchAll[T any](ctx context.Context, c *Client, first string) ([]T, error) {
	var all []T
	seen := make(map[string]bool)

	for next, n := first, 1; next != ""; n++ {
		if seen[next] {
			return nil, fmt.Errorf("%w: %s", ErrPagination, next)
		}
		seen[next] = true

		var p page[T]
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, err
		}
		logger.Debug("Fetched page",
			zap.String("url", next),
			zap.Int("page", n),
			zap.Int("count", len(p.Values)))

		all = append(all, p.Values...)
		next = p.Next
	}

	return all, nil
}

func (h hookResponse) toModel() models.Hook {
	return models.Hook{
		UUID:        h.UUID,
		URL:         h.URL,
		Description: h.Description,
		Active:      h.Active,
		Events:      h.Events,
	}
}
