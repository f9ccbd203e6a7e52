package tls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "trustboot.trust"

// BootstrapConfig wires the inputs of a trust bootstrap run.
type BootstrapConfig struct {
	// Sources are merged in order; the platform store goes last so it wins
	// alias collisions.
	Sources []Source
	// PlatformAnchors is audited independently of the merge.
	PlatformAnchors AnchorSource
	ExpectedRoot    string
	Context         ContextOptions
	LoadTimeout     time.Duration
	// Slot receives the built context; nil selects the process slot.
	Slot     *Slot
	Notifier Notifier
}

// Report summarises a bootstrap run.
type Report struct {
	RunID    string
	State    State
	Anchors  int
	Audit    AuditResult
	Errors   []error
	Duration time.Duration
}

// Bootstrapper runs the trust bootstrap: load, merge, build and install on
// one path, the platform audit on another.
type Bootstrapper struct {
	cfg       BootstrapConfig
	logger    *TrustLogger
	metrics   *MetricsCollector
	tracer    trace.Tracer
	loader    *KeyStoreLoader
	merger    *TrustBootstrapper
	factory   *SecureContextFactory
	auditor   *TrustAnchorAuditor
	mu        sync.Mutex
	callbacks []StateCallback
}

// NewBootstrapper creates a Bootstrapper. metrics may be nil.
func NewBootstrapper(cfg BootstrapConfig, logger *slog.Logger, metrics *MetricsCollector) *Bootstrapper {
	if cfg.ExpectedRoot == "" {
		cfg.ExpectedRoot = DefaultExpectedRoot
	}

	loader := NewKeyStoreLoader(logger, metrics, cfg.LoadTimeout)
	return &Bootstrapper{
		cfg:     cfg,
		logger:  NewTrustLogger(logger),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		loader:  loader,
		merger:  NewTrustBootstrapper(logger),
		factory: NewSecureContextFactory(logger, metrics, cfg.Context, cfg.Slot),
		auditor: NewTrustAnchorAuditor(cfg.PlatformAnchors, cfg.Notifier, logger, metrics),
	}
}

// OnStateChange registers a callback invoked on every state transition of later runs.
func (b *Bootstrapper) OnStateChange(callback StateCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// Run executes the bootstrap and waits for both activities. It never panics
// and always ends in StateInstalled or StateDegraded.
func (b *Bootstrapper) Run(ctx context.Context) Report {
	start := time.Now()
	runID := uuid.NewString()
	ctx = WithRunID(ctx, runID)

	ctx, span := b.tracer.Start(ctx, "trust.bootstrap", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	tracker := NewStateTracker(b.logger)
	b.mu.Lock()
	for _, callback := range b.callbacks {
		tracker.OnStateChange(callback)
	}
	b.mu.Unlock()

	var (
		wg    sync.WaitGroup
		audit AuditResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		audit = b.audit(ctx)
	}()

	anchors, errs := b.establish(ctx, tracker)
	wg.Wait()

	report := Report{
		RunID:    runID,
		State:    tracker.Current(),
		Anchors:  anchors,
		Audit:    audit,
		Errors:   errs,
		Duration: time.Since(start),
	}

	span.SetAttributes(
		attribute.String("state", report.State.String()),
		attribute.Int("anchors", report.Anchors),
		attribute.String("audit", string(report.Audit.Outcome)),
	)
	if report.State == StateDegraded {
		span.SetStatus(codes.Error, "trust degraded")
	}
	b.metrics.RecordBootstrap(ctx, report.State, report.Duration)
	return report
}

// Task is a bootstrap running in the background.
type Task struct {
	done   chan struct{}
	report Report
}

// Start launches Run in the background. Waiting on the task is optional.
func (b *Bootstrapper) Start(ctx context.Context) *Task {
	task := &Task{done: make(chan struct{})}
	go func() {
		defer close(task.done)
		task.report = b.Run(ctx)
	}()
	return task
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run has finished and returns its report.
func (t *Task) Wait() Report {
	<-t.done
	return t.report
}

func (b *Bootstrapper) audit(ctx context.Context) (result AuditResult) {
	ctx, span := b.tracer.Start(ctx, "trust.audit")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = AuditResult{
				Expected: b.cfg.ExpectedRoot,
				Outcome:  AuditUnavailable,
				Err:      NewAuditUnavailableError(fmt.Errorf("panic: %v", r)),
			}
		}
		span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	}()

	return b.auditor.Check(ctx, b.cfg.ExpectedRoot)
}

// establish runs load, merge, build and install, degrading on the first failure.
func (b *Bootstrapper) establish(ctx context.Context, tracker *StateTracker) (anchors int, errs []error) {
	defer func() {
		if r := recover(); r != nil {
			errs = append(errs, fmt.Errorf("trust bootstrap panic: %v", r))
			anchors = 0
			tracker.Transition(ctx, StateDegraded)
		}
	}()

	tracker.Transition(ctx, StateLoading)

	results := b.loadAll(ctx)
	loaded := 0
	for _, result := range results {
		if result.OK() {
			loaded++
		} else {
			errs = append(errs, result.Err)
		}
	}
	if loaded == 0 {
		err := NewInvalidAnchorSetError("no certificate store loaded", nil).WithContext("sources", len(results))
		b.logger.LogContextBuild(ctx, 0, err)
		tracker.Transition(ctx, StateDegraded)
		return 0, append(errs, err)
	}

	var store *CertificateStore
	_ = b.step(ctx, "trust.merge", func(ctx context.Context) error {
		store = b.merger.Merge(ctx, results...)
		return nil
	}, []attribute.KeyValue{attribute.Int("inputs", len(results))})
	tracker.Transition(ctx, StateMerged)

	var stc *SecureTransportContext
	if err := b.step(ctx, "trust.build", func(ctx context.Context) error {
		var err error
		stc, err = b.factory.Build(ctx, store)
		return err
	}, nil); err != nil {
		tracker.Transition(ctx, StateDegraded)
		return 0, append(errs, err)
	}
	tracker.Transition(ctx, StateContextBuilt)

	if err := b.step(ctx, "trust.install", func(ctx context.Context) error {
		return b.factory.Install(ctx, stc)
	}, nil); err != nil {
		tracker.Transition(ctx, StateDegraded)
		return 0, append(errs, err)
	}
	tracker.Transition(ctx, StateInstalled)

	return stc.AnchorCount(), errs
}

func (b *Bootstrapper) loadAll(ctx context.Context) []LoadResult {
	results := make([]LoadResult, 0, len(b.cfg.Sources))
	for _, src := range b.cfg.Sources {
		var result LoadResult
		_ = b.step(ctx, "trust.load", func(ctx context.Context) error {
			result = b.loader.LoadSource(ctx, src)
			return result.Err
		}, []attribute.KeyValue{attribute.String("source", src.Name)})
		results = append(results, result)
	}
	return results
}

// step runs fn inside a span, recording its error on the span.
func (b *Bootstrapper) step(ctx context.Context, name string, fn func(context.Context) error, attrs []attribute.KeyValue) error {
	ctx, span := b.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
