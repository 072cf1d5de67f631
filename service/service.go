package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"go.uber.org/zap"

	"bitbuckethooks/bitbucket"
	"bitbuckethooks/config"
	"bitbuckethooks/logger"
	"bitbuckethooks/models"
	"bitbuckethooks/prompt"
	"bitbuckethooks/reconcile"
)

// Service errors
var (
	ErrServiceInit = fmt.Errorf("service initialization error")
	ErrServiceRun  = fmt.Errorf("service run error")
)

// ClientFactory builds the API client once credentials are known.
type ClientFactory func(cfg *config.Config, creds models.Credentials, out io.Writer) (reconcile.HookClientInterface, error)

// Service represents the main application service
type Service struct {
	config    *config.Config
	in        io.Reader
	out       io.Writer
	newClient ClientFactory
}

// NewService creates a new service instance reading answers from in and
// writing prompts, progress and the report to out.
func NewService(cfg *config.Config, in io.Reader, out io.Writer) *Service {
	return &Service{
		config:    cfg,
		in:        in,
		out:       out,
		newClient: newBitbucketClient,
	}
}

func newBitbucketClient(cfg *config.Config, creds models.Credentials, out io.Writer) (reconcile.HookClientInterface, error) {
	return bitbucket.NewClient(cfg.APIURL, creds.Username, creds.Password, out)
}

// Start collects credentials, asks for confirmation and reconciles every
// repository of the account. A declined confirmation returns
// prompt.ErrUserDeclined before any request is made.
func (s *Service) Start(ctx context.Context) error {
	fmt.Fprint(s.out, "\nBulk add a POST hook to all repositories on your Bitbucket account\n")
	fmt.Fprint(s.out, "------------------------------------------------------------------\n\n")

	p := prompt.New(s.in, s.out)
	creds, f, err := prompt.Collect(p, s.config.Credentials())
	if err != nil {
		return fmt.Errorf("%w: failed to collect credentials: %w", ErrServiceInit, err)
	}

	if err := p.Confirm(prompt.Summary(creds)); err != nil {
		if errors.Is(err, prompt.ErrUserDeclined) {
			fmt.Fprintln(s.out, "Quitting script")
			return err
		}
		return fmt.Errorf("%w: %w", ErrServiceInit, err)
	}

	apiURL, err := url.Parse(s.config.APIURL)
	if err != nil {
		return fmt.Errorf("%w: invalid API URL: %w", ErrServiceInit, err)
	}

	client, err := s.newClient(s.config, creds, s.out)
	if err != nil {
		return fmt.Errorf("%w: failed to create client: %w", ErrServiceInit, err)
	}

	logger.Info("Starting run",
		zap.String("account", creds.Account),
		zap.String("hook_url", creds.HookURL),
		zap.Bool("whitelist", f.HasWhitelist()),
		zap.Bool("blacklist", f.HasBlacklist()))

	run := models.NewRun(creds)
	reconciler := reconcile.New(client, f, apiURL.Path, s.config.HookDescription, s.out)
	if err := reconciler.Run(ctx, run); err != nil {
		return fmt.Errorf("%w: %w", ErrServiceRun, err)
	}

	Report(s.out, run)

	logger.Info("Run finished",
		zap.String("account", creds.Account),
		zap.Int("total", run.Counters.Total),
		zap.Int("updated", run.Counters.Updated),
		zap.Int("whitelisted", run.Counters.Whitelisted),
		zap.Int("blacklisted", run.Counters.Blacklisted))

	return nil
}
