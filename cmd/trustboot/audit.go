package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	trusttls "github.com/polisai/trustboot/internal/tls"
	"github.com/polisai/trustboot/pkg/config"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check the platform trust store for the expected root",
		Long: `Reads the platform certificate store, independently of any merge, and reports
whether the expected root certificate authority is present. A missing root
prints a warning. With --watch the audit re-runs whenever the configuration
file changes.`,
		Args: cobra.NoArgs,
		RunE: runAudit,
	}

	cmd.Flags().String("expected", "", "Expected root subject (overrides trust.expected_root)")
	cmd.Flags().Bool("watch", false, "Re-run the audit when the configuration file changes")

	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	expected, err := cmd.Flags().GetString("expected")
	if err != nil {
		return fmt.Errorf("failed to get expected flag: %w", err)
	}
	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return fmt.Errorf("failed to get watch flag: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditOnce(ctx, cmd, env.cfg, expected, env.logger)

	if !watch {
		return nil
	}
	if env.configPath == "" {
		return fmt.Errorf("--watch requires --config")
	}

	watcher, err := config.NewWatcher(env.configPath, env.logger, func(cfg *config.Config) {
		auditOnce(ctx, cmd, cfg, expected, env.logger)
	})
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	env.logger.Info("Watching configuration for changes", "path", env.configPath)
	<-ctx.Done()
	return nil
}

func auditOnce(ctx context.Context, cmd *cobra.Command, cfg *config.Config, expected string, logger *slog.Logger) trusttls.AuditResult {
	if expected == "" {
		expected = cfg.Trust.ExpectedRoot
	}

	loader := trusttls.NewKeyStoreLoader(logger, nil, cfg.Trust.LoadTimeout)
	format := trusttls.StoreFormat(cfg.Trust.PlatformStore.Format)
	source, resolveErr := trusttls.PlatformSource(cfg.Trust.PlatformStore.Path, format, cfg.Trust.PlatformStore.Passphrase)

	auditor := trusttls.NewTrustAnchorAuditor(
		trusttls.NewPlatformAnchors(loader, source, resolveErr),
		trusttls.NewConsoleNotifier(cmd.ErrOrStderr()),
		logger,
		nil,
	)

	result := auditor.Check(ctx, expected)
	printAudit(cmd.OutOrStdout(), source, result)
	return result
}

func printAudit(out io.Writer, source trusttls.Source, result trusttls.AuditResult) {
	fmt.Fprintf(out, "store:    %s\n", source.Path)
	fmt.Fprintf(out, "expected: %s\n", result.Expected)
	fmt.Fprintf(out, "scanned:  %d\n", result.Scanned)
	fmt.Fprintf(out, "outcome:  %s\n", result.Outcome)
	if result.Err != nil {
		fmt.Fprintf(out, "error:    %v\n", result.Err)
	}
}
