package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kodelens/kodelens/internal/config"
	"github.com/kodelens/kodelens/internal/kerrors"
	"github.com/kodelens/kodelens/internal/logger"
	"github.com/kodelens/kodelens/internal/server"
	"github.com/kodelens/kodelens/internal/signals"
)

// Exit codes per §6.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitPortInUse      = 3
	exitRootUnreadable = 4
)

// cliError carries an explicit process exit code, mirroring how the
// teacher's cmdutil error helpers distinguish user errors from internal
// ones rather than always exiting 1.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

func newCmdServe() *cobra.Command {
	var (
		flagPort        int
		flagRoot        string
		flagBind        string
		flagAllowRemote bool
		flagConfigFile  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kodelensd server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initializeLogger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flagPort, flagRoot, flagBind, flagAllowRemote, flagConfigFile)
		},
	}

	cmd.Flags().IntVar(&flagPort, "port", 0, "Listen port (default: from config, 3333)")
	cmd.Flags().StringVar(&flagRoot, "root", "", "Log tree root directory (default: ~/.kodelens)")
	cmd.Flags().StringVar(&flagBind, "bind", "", "Listen address (default: 127.0.0.1)")
	cmd.Flags().BoolVar(&flagAllowRemote, "allow-remote", false, "Permit a non-loopback --bind address")
	cmd.Flags().StringVar(&flagConfigFile, "config", "", "Path to kodelens.yaml")

	return cmd
}

func runServe(ctx context.Context, flagPort int, flagRoot, flagBind string, flagAllowRemote bool, flagConfigFile string) error {
	cfg, err := config.NewLoader(flagConfigFile).Load()
	if err != nil {
		return &cliError{code: exitConfigError, err: fmt.Errorf("loading configuration: %w", err)}
	}

	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagBind != "" {
		cfg.Bind = flagBind
	}
	if flagAllowRemote {
		cfg.AllowRemote = true
	}
	if cfg.Root == "" {
		if flagRoot != "" {
			cfg.Root = flagRoot
		} else {
			root, err := config.DefaultRoot()
			if err != nil {
				return &cliError{code: exitConfigError, err: fmt.Errorf("resolving default root: %w", err)}
			}
			cfg.Root = root
		}
	} else if flagRoot != "" {
		cfg.Root = flagRoot
	}

	if !isLoopback(cfg.Bind) && !cfg.AllowRemote {
		return &cliError{code: exitConfigError, err: fmt.Errorf("--bind %s is not loopback; pass --allow-remote to permit it", cfg.Bind)}
	}

	if _, err := os.Stat(cfg.Root); err != nil {
		return &cliError{code: exitRootUnreadable, err: fmt.Errorf("%w: %s: %v", kerrors.ErrFileUnavailable, cfg.Root, err)}
	}

	logger.Info().
		Str("root", cfg.Root).
		Str("bind", cfg.Bind).
		Int("port", cfg.Port).
		Msg("kodelensd starting")

	srv := server.New(cfg, cfg.Root)
	if err := srv.Start(cfg.Root); err != nil {
		if isAddrInUse(err) {
			return &cliError{code: exitPortInUse, err: fmt.Errorf("port %d in use: %w", cfg.Port, err)}
		}
		if errors.Is(err, kerrors.ErrWatcherFailed) {
			return &cliError{code: exitRootUnreadable, err: err}
		}
		return &cliError{code: exitConfigError, err: err}
	}

	sigCtx, cancel := signals.SetupSignalContext(ctx)
	defer cancel()
	<-sigCtx.Done()

	logger.Info().Msg("kodelensd shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}

func isLoopback(bind string) bool {
	if bind == "" || bind == "127.0.0.1" || bind == "::1" || bind == "localhost" {
		return true
	}
	ip := net.ParseIP(bind)
	return ip != nil && ip.IsLoopback()
}

func isAddrInUse(err error) bool {
	return strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind: address already in use")
}

// initializeLogger sets up the logger with file logging if possible,
// falling back to a nop logger on any failure — the same fallback chain
// the teacher's cmd/root.initializeLogger follows.
func initializeLogger() {
	logsDir, err := defaultLogsDir()
	if err != nil {
		logger.Init()
		return
	}
	if err := logger.NewLogger(&logger.Options{
		LogsDir:    logsDir,
		FileConfig: &logger.LoggingConfig{},
	}); err != nil {
		logger.Init()
	}
}

func defaultLogsDir() (string, error) {
	root, err := config.DefaultRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "logs"), nil
}
