package reconcile

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"bitbuckethooks/filter"
	"bitbuckethooks/logger"
	"bitbuckethooks/models"
)

// ErrMalformedLink is returned when a repository's hooks link has an
// unexpected shape.
var ErrMalformedLink = fmt.Errorf("malformed hooks link")

// HookClientInterface defines the Bitbucket client operations needed by the reconciler
type HookClientInterface interface {
	ListRepositories(ctx context.Context, account string) ([]models.Repository, error)
	ListHooks(ctx context.Context, account, slug string) ([]models.Hook, error)
	CreateHook(ctx context.Context, account, slug string, hook models.Hook) (*models.Hook, error)
}

// Outcome is what happened to a single repository.
type Outcome int

const (
	Added Outcome = iota
	AlreadyIntegrated
	Blacklisted
	NotWhitelisted
	MalformedLink
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case AlreadyIntegrated:
		return "already-integrated"
	case Blacklisted:
		return "blacklisted"
	case NotWhitelisted:
		return "not-whitelisted"
	case MalformedLink:
		return "malformed-link"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Reconciler makes sure every repository of an account carries the hook.
type Reconciler struct {
	client      HookClientInterface
	filter      *filter.Filter
	apiPath     string
	description string
	out         io.Writer
}

// New creates a Reconciler. apiPath is the path of the API root the client
// talks to (such as "/2.0"), hooks links are expected under it. description
// is used for hooks it creates.
func New(client HookClientInterface, f *filter.Filter, apiPath, description string, out io.Writer) *Reconciler {
	return &Reconciler{
		client:      client,
		filter:      f,
		apiPath:     strings.TrimRight(apiPath, "/"),
		description: description,
		out:         out,
	}
}

// Run lists the repositories of the run's account and reconciles each one in
// server order. Only a failure to list repositories is returned; problems
// with a single repository are reported and the loop moves on.
func (r *Reconciler) Run(ctx context.Context, run *models.Run) error {
	account := run.Credentials.Account

	r.printf("Reading in list of repositories from Bitbucket repositories/%s\n\n", account)
	repos, err := r.client.ListRepositories(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to fetch repositories: %w", err)
	}
	r.printf("\nSuccess! Found %d repositories inside %s account.\n\n", len(repos), account)

	linkPattern := hooksLinkPattern(r.apiPath, account)
	seen := make(map[string]bool, len(repos))

	for _, repo := range repos {
		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		outcome, err := r.reconcile(ctx, run, linkPattern, seen, repo)
		if err != nil {
			logger.ForRepo(account, repo.Slug).Warn("Repository not reconciled",
				zap.String("outcome", outcome.String()),
				zap.Error(err))
		} else {
			logger.ForRepo(account, repo.Slug).Debug("Repository reconciled",
				zap.String("outcome", outcome.String()))
		}
	}

	return nil
}

// reconcile handles one repository. The returned error explains a Failed or
// MalformedLink outcome and is never fatal.
func (r *Reconciler) reconcile(ctx context.Context, run *models.Run, linkPattern *regexp.Regexp, seen map[string]bool, repo models.Repository) (Outcome, error) {
	creds := run.Credentials
	counters := &run.Counters

	path, err := repositoryPath(linkPattern, repo.HooksHref)
	if err != nil {
		r.printf("Cannot match URL from %s\n", repo.HooksHref)
		return MalformedLink, err
	}
	if seen[path] {
		return Duplicate, nil
	}
	seen[path] = true

	counters.Total++

	switch d := r.filter.Check(repo.Slug); {
	case d == filter.Blacklisted:
		r.printf("Skipping repo %s because is blacklisted\n", repo.Slug)
		counters.Blacklisted++
		return Blacklisted, nil
	case !d.Included():
		r.printf("Skipping repo %s because does not match whitelist pattern\n", repo.Slug)
		return NotWhitelisted, nil
	case d == filter.Whitelisted:
		counters.Whitelisted++
	}

	r.printf("Testing repository: %s\n", path)
	defer r.printf("\n")

	hooks, err := r.client.ListHooks(ctx, creds.Account, path)
	if err != nil {
		r.printf("Failed to read web hooks: %v\n", err)
		return Failed, err
	}

	if hasHook(hooks, creds.HookURL) {
		r.printf("Already integrated with the web hook\n")
		return AlreadyIntegrated, nil
	}

	r.printf("Adding web hook to %s\n", creds.HookURL)
	created, err := r.client.CreateHook(ctx, creds.Account, path, models.Hook{
		URL:         creds.HookURL,
		Description: r.description,
		Active:      true,
	})
	if err == nil && created == nil {
		err = fmt.Errorf("empty response")
	}
	if err == nil && created.URL != creds.HookURL {
		err = fmt.Errorf("server returned hook url %q", created.URL)
	}
	if err != nil {
		r.printf("Failed to add web hook!\n")
		return Failed, fmt.Errorf("failed to add web hook to %s: %w", path, err)
	}

	counters.Updated++
	r.printf("Added web hook\n")
	return Added, nil
}

func (r *Reconciler) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// hooksLinkPattern matches the self link of a repository's hooks collection
// for account, capturing the repository path. Links may sit under apiPath,
// under the public "/2.0" root or under the older "/!api/2.0" root; any host
// is accepted so proxies and test servers work.
func hooksLinkPattern(apiPath, account string) *regexp.Regexp {
	root := `/2\.0`
	if apiPath != "" && apiPath != "/2.0" {
		root = `(?:` + regexp.QuoteMeta(apiPath) + `|/2\.0)`
	}
	return regexp.MustCompile(`^https?://[^/]+(?:/!api)?` + root + `/repositories/(?i:` +
		regexp.QuoteMeta(account) + `)/(.+)/hooks/?$`)
}

func repositoryPath(pattern *regexp.Regexp, href string) (string, error) {
	m := pattern.FindStringSubmatch(href)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedLink, href)
	}
	return m[1], nil
}

func hasHook(hooks []models.Hook, url string) bool {
	for _, h := range hooks {
		if h.URL == url {
			return true
		}
	}
	return false
}
