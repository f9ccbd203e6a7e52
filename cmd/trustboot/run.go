package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	trusttls "github.com/polisai/trustboot/internal/tls"
	"github.com/polisai/trustboot/pkg/config"
	"github.com/polisai/trustboot/pkg/runtimepatch"
	"github.com/polisai/trustboot/pkg/telemetry"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trust bootstrap as an application host would at startup",
		Long: `Starts the trust bootstrap in the background, checks the configured runtime
dependency in parallel, and waits for both. With --probe the installed client
context is used for a request to the given URL. With --metrics-addr the
bootstrap metrics are served until the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: runBootstrap,
	}

	cmd.Flags().String("probe", "", "URL to request with the installed TLS client context")
	cmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on (overrides telemetry.metrics_addr)")

	return cmd
}

// runBootstrap is the main entry point for the run command
func runBootstrap(cmd *cobra.Command, _ []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	logger := env.logger

	probeURL, err := cmd.Flags().GetString("probe")
	if err != nil {
		return fmt.Errorf("failed to get probe flag: %w", err)
	}
	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	if metricsAddr == "" {
		metricsAddr = env.cfg.Telemetry.MetricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instruments, err := trusttls.GetMetricsCollector()
	if err != nil {
		logger.Warn("Trust instruments unavailable", "error", err)
	}
	promMetrics := telemetry.NewBootstrapMetrics()

	var server *http.Server
	if metricsAddr != "" {
		server = serveMetrics(metricsAddr, promMetrics, logger)
		defer shutdownServer(server, logger)
	}

	var spans *telemetry.SpanBuffer
	if env.cfg.Telemetry.OTLPEndpoint != "" {
		spans = telemetry.StartSpanBuffer(env.cfg.Telemetry.ServiceName)
	}

	loader := trusttls.NewKeyStoreLoader(logger, instruments, env.cfg.Trust.LoadTimeout)
	inputs := buildTrustInputs(env.cfg, loader, logger)
	bootstrapper := trusttls.NewBootstrapper(
		bootstrapConfig(env.cfg, inputs, trusttls.NewConsoleNotifier(cmd.ErrOrStderr()), nil),
		logger,
		instruments,
	)
	bootstrapper.OnStateChange(promMetrics.ObserveTransition)

	logger.Info("Starting trust bootstrap", "sources", len(inputs.sources), "expected_root", env.cfg.Trust.ExpectedRoot)
	task := bootstrapper.Start(ctx)

	patchErr := make(chan error, 1)
	go func() {
		patchErr <- newPatcher(env.cfg, logger).Patch(ctx)
	}()

	report := task.Wait()
	promMetrics.ObserveReport(report)
	printReport(cmd.OutOrStdout(), report)

	shutdownTracing := setupTracing(ctx, env.cfg, spans, logger)
	defer shutdownTracing()

	if err := <-patchErr; err != nil {
		if env.cfg.Runtime.Required {
			return fmt.Errorf("runtime dependency check failed: %w", err)
		}
		logger.Warn("Runtime dependency check failed", "error", err)
	}

	if probeURL != "" {
		if err := probe(ctx, cmd.OutOrStdout(), probeURL); err != nil {
			return err
		}
	}

	if server != nil {
		logger.Info("Serving metrics until interrupted", "addr", metricsAddr)
		<-ctx.Done()
	}

	return nil
}

func newPatcher(cfg *config.Config, logger *slog.Logger) runtimepatch.Patcher {
	if cfg.Runtime.Binary == "" {
		return runtimepatch.NoopPatcher{}
	}
	return runtimepatch.NewExecPatcher(cfg.Runtime.Binary, cfg.Runtime.MinVersion, logger)
}

// setupTracing starts the OTLP exporter once trust is settled so the exporter
// connection validates against the installed anchors. Spans recorded in
// spans during the bootstrap are exported first.
func setupTracing(ctx context.Context, cfg *config.Config, spans *telemetry.SpanBuffer, logger *slog.Logger) func() {
	telemetryCfg := telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Replay:      spans,
	}
	if installed := trusttls.Default(); installed != nil {
		telemetryCfg.Credentials = installed.GRPCCredentials()
	}

	shutdown, err := telemetry.SetupProvider(ctx, telemetryCfg)
	if spans != nil {
		if dropped := spans.Dropped(); dropped > 0 {
			logger.Warn("Bootstrap spans dropped", "count", dropped)
		}
		if closeErr := spans.Close(ctx); closeErr != nil {
			logger.Debug("Span buffer close failed", "error", closeErr)
		}
	}
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}
}

func serveMetrics(addr string, metrics *telemetry.BootstrapMetrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	return server
}

func shutdownServer(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed", "error", err)
	}
}

// probe requests url with the installed context, or the platform default
// client when trust is degraded.
func probe(ctx context.Context, out io.Writer, url string) error {
	client := http.DefaultClient
	if installed := trusttls.Default(); installed != nil {
		client = installed.HTTPClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	fmt.Fprintf(out, "probe: %s %s\n", url, resp.Status)
	return nil
}

func printReport(out io.Writer, report trusttls.Report) {
	fmt.Fprintf(out, "run:      %s\n", report.RunID)
	fmt.Fprintf(out, "state:    %s\n", report.State)
	fmt.Fprintf(out, "anchors:  %d\n", report.Anchors)
	fmt.Fprintf(out, "audit:    %s (%s)\n", report.Audit.Outcome, report.Audit.Expected)
	fmt.Fprintf(out, "duration: %s\n", report.Duration.Round(time.Millisecond))
	for _, err := range report.Errors {
		fmt.Fprintf(out, "error:    %v\n", err)
	}
}
