package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bitbuckethooks/config"
	"bitbuckethooks/logger"
	"bitbuckethooks/prompt"
	"bitbuckethooks/service"
)

const longHelp = `Bulk add a POST hook to all repositories on your Bitbucket account

The tool asks for your Bitbucket login details and the URL of the POST
hook you want to add, then adds it to every repository that does not
already have it. Rerunning is safe: repositories that already carry the
hook are left untouched.

Any of the answers can be pre-set in the environment or in the config file:
  BITBUCKET_ACCOUNT, BITBUCKET_POST_HOOK_URL, BITBUCKET_USERNAME,
  BITBUCKET_PASSWORD, BITBUCKET_WHITELIST, BITBUCKET_BLACKLIST

Whitelist and blacklist are regular expressions searched for in the
repository slug. The blacklist wins over the whitelist.`

func newRootCommand() *cobra.Command {
	var configPath string

	cfg := config.NewConfig()
	cmd := &cobra.Command{
		Use:           "bitbucket-hooks",
		Short:         "Bulk add a POST hook to all repositories on your Bitbucket account",
		Long:          longHelp,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Load(configPath); err != nil {
				return fmt.Errorf("%w: failed to load configuration: %w", service.ErrServiceInit, err)
			}
			if err := logger.Initialize(cfg.LogLevel); err != nil {
				return fmt.Errorf("%w: failed to initialize logger: %w", service.ErrServiceInit, err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return service.NewService(cfg, cmd.InOrStdin(), cmd.OutOrStdout()).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigFile, "configuration file with pre-set values")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "diagnostic log level (debug, info, warn, error)")
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		panic(err)
	}

	return cmd
}

// isHelp reports whether the arguments ask for usage. Cobra already knows
// --help and -h; -help and -? are kept for people used to other tools.
func isHelp(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "--help", "-help", "-h", "-?":
			return true
		}
	}
	return false
}

func main() {
	cmd := newRootCommand()

	if isHelp(os.Args[1:]) {
		_ = cmd.Help()
		return
	}

	err := cmd.ExecuteContext(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, prompt.ErrUserDeclined):
	default:
		logger.Error("Run failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
