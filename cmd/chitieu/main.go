package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chitieu/internal/backend"
	"chitieu/internal/cli"
	"chitieu/internal/config"
	"chitieu/internal/core"
	"chitieu/internal/ledger"
	applog "chitieu/internal/log"
	"chitieu/internal/metrics"
	"chitieu/internal/session"
)

// app carries what every command needs once the root command has run.
type app struct {
	cfg      *config.Config
	logger   *applog.Logger
	backend  *backend.BackendResult
	sessions *session.Manager
	out      io.Writer
	cancel   context.CancelFunc
}

func main() {
	cli.LoadEnvFile()

	a := &app{out: os.Stdout}
	root := a.rootCommand()
	err := root.Execute()
	if stopErr := a.stop(); stopErr != nil && a.logger != nil {
		a.logger.Warn("Backend close failed", "error", stopErr)
	}
	if err != nil {
		if a.logger != nil {
			a.logger.Debug("Command failed", "error", err)
		}
		fmt.Fprintln(os.Stderr, cli.UserMessage(err))
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chitieu",
		Short:         "Track category balances and chat with other users",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd)
		},
	}

	root.AddCommand(
		a.signupCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.categoriesCommand(),
		a.categoryCommand(),
		a.recordCommand(),
		a.entriesCommand(),
		a.receiptCommand(),
		a.usersCommand(),
		a.chatCommand(),
		a.vocabCommand(),
	)
	return root
}

// start loads configuration, opens the backend and starts the background
// relay and metrics server. Both stop with the command context.
func (a *app) start(cmd *cobra.Command) error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cli.SetupLogger(cfg, applog.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	a.cancel = cancel
	cmd.SetContext(ctx)

	result, err := backend.NewFactory(a.logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	a.backend = result
	a.sessions = session.NewManager(result.Gateway, cfg.SessionFile, []byte(cfg.SessionSecret), cfg.SessionTTL,
		a.logger.WithComponent(applog.ComponentSession).Logger)

	go func() {
		if err := result.RunRelay(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Change relay stopped", "error", err)
		}
	}()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, a.logger.WithComponent(applog.ComponentMetrics).Logger); err != nil {
				a.logger.Warn("Metrics server stopped", "error", err)
			}
		}()
	}
	return nil
}

func (a *app) stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return a.backend.Close()
}

// currentUser returns the signed-in user or a gateway.ErrAuth error.
func (a *app) currentUser() (core.User, error) {
	return a.sessions.CurrentUser()
}

// openLedger opens the signed-in user's ledger. The caller closes it.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	u, err := a.currentUser()
	if err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithLogger(a.logger.WithComponent(applog.ComponentLedger).Logger)}
	if a.backend.Objects != nil {
		opts = append(opts, ledger.WithObjectStore(a.backend.Objects, ledger.ReceiptBucket))
	}
	l := ledger.New(a.backend.Gateway, u.ID, opts...)

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := l.Open(loadCtx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
