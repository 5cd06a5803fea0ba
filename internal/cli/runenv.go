package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/mailherd/mailherd/internal/archive"
	"github.com/mailherd/mailherd/internal/audit"
	"github.com/mailherd/mailherd/internal/config"
	"github.com/mailherd/mailherd/internal/console"
	"github.com/mailherd/mailherd/internal/events"
	"github.com/mailherd/mailherd/internal/panel"
	redisstore "github.com/mailherd/mailherd/internal/redis"
	"github.com/mailherd/mailherd/internal/secret"
	"github.com/mailherd/mailherd/pkg/batch"
	"github.com/mailherd/mailherd/pkg/telemetry"
)

const (
	initTimeout    = 10 * time.Second
	archiveTimeout = 30 * time.Second
)

// loadConfig snapshots the resolved configuration for the running command.
func loadConfig() config.Config {
	return config.Load(viper.GetViper())
}

// runEnv bundles what a batch command wires up around the engine: run
// identity, the optional integrations, rendering and metrics.
type runEnv struct {
	cfg     config.Config
	logger  *slog.Logger
	command string
	printer *console.Printer

	runID   string
	runKey  string
	started time.Time

	journalClient *goredis.Client
	journal       redisstore.Journal

	pool *pgxpool.Pool
	repo audit.Repository

	publisher events.Publisher

	uploader *archive.Uploader

	shutdownTracer func()

	mu      sync.Mutex
	tracker *batch.Tracker
}

// newRunEnv dials every configured integration and starts the status
// server. ctx should already be signal-bound; it also scopes the status
// server's lifetime.
func newRunEnv(ctx context.Context, cfg config.Config, logger *slog.Logger, command string) (*runEnv, error) {
	e := &runEnv{
		cfg:     cfg,
		logger:  logger,
		command: command,
		printer: console.New(os.Stdout),
	}

	shutdown, err := telemetry.InitTracer(ctx, "mailherd", cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	e.shutdownTracer = shutdown

	if cfg.JournalAddr != "" {
		e.journalClient = redisstore.NewClient(cfg.JournalAddr)
		e.journal = redisstore.NewJournal(e.journalClient)
	}

	if cfg.AuditDSN != "" {
		initCtx, cancel := context.WithTimeout(ctx, initTimeout)
		pool, err := audit.NewPool(initCtx, cfg.AuditDSN)
		cancel()
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("audit: %w", err)
		}
		e.pool = pool
		e.repo = audit.NewRepository(pool)
	}

	if cfg.EventsBrokers != "" {
		e.publisher = events.NewPublisher(strings.Split(cfg.EventsBrokers, ","))
	}

	if cfg.ArchiveS3Bucket != "" {
		up, err := archive.NewUploader(ctx, archive.Config{
			Endpoint:  cfg.ArchiveS3Endpoint,
			Region:    cfg.ArchiveS3Region,
			Bucket:    cfg.ArchiveS3Bucket,
			Prefix:    cfg.ArchiveS3Prefix,
			AccessKey: cfg.ArchiveS3AccessKey,
			SecretKey: cfg.ArchiveS3SecretKey,
		}, logger)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.uploader = up
	}

	if cfg.MetricsAddr != "" {
		telemetry.StartStatusServer(ctx, cfg.MetricsAddr, e.progress, logger)
	}

	return e, nil
}

// Close releases the integration clients. Safe on a partially built env.
func (e *runEnv) Close() {
	if e.journalClient != nil {
		_ = e.journalClient.Close()
	}
	if e.publisher != nil {
		_ = e.publisher.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.shutdownTracer != nil {
		e.shutdownTracer()
	}
}

// beginRun stamps a fresh run identity and opens the audit row. Scheduled
// syncs call it once per firing, so observers capturing the identity must
// be rebuilt (via engineOptions) after each call. total may be 0 when the
// item count is only known mid-run, as in reset's process phase.
func (e *runEnv) beginRun(ctx context.Context, runKey string, total int) error {
	if e.cfg.Concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", e.cfg.Concurrency)
	}

	e.runID = uuid.New().String()
	e.runKey = runKey
	e.started = time.Now()

	e.mu.Lock()
	e.tracker = nil
	if total > 0 {
		e.tracker = batch.NewTracker(total)
	}
	e.mu.Unlock()

	if e.journal != nil && e.cfg.JournalFresh {
		n, err := e.journal.Clear(ctx, runKey)
		if err != nil {
			return fmt.Errorf("clear journal: %w", err)
		}
		e.logger.Info("journal cleared",
			slog.Int("entries", n),
			slog.String("run_key", runKey),
		)
	}

	if e.repo != nil {
		run := audit.Run{ID: e.runID, Command: e.command, RunKey: runKey}
		if err := e.repo.BeginRun(ctx, &run); err != nil {
			return fmt.Errorf("begin audit run: %w", err)
		}
	}

	e.logger.Info("run starting",
		slog.String("run_id", e.runID),
		slog.String("run_key", runKey),
		slog.Int("items", total),
		slog.Int("concurrency", e.cfg.Concurrency),
	)
	return nil
}

func (e *runEnv) observe(status batch.Status, total int) {
	e.mu.Lock()
	if e.tracker == nil {
		e.tracker = batch.NewTracker(total)
	}
	e.tracker.Observe(status)
	e.mu.Unlock()
	telemetry.ItemsProcessed.WithLabelValues(e.command, string(status)).Inc()
}

// progress feeds the status server.
func (e *runEnv) progress() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracker == nil {
		return batch.Progress{}
	}
	return e.tracker.Snapshot()
}

// finish renders the summary, observes run metrics and closes the audit row.
func (e *runEnv) finish(summary batch.Summary, runErr error) {
	elapsed := time.Since(e.started)
	telemetry.RunDuration.WithLabelValues(e.command).Observe(elapsed.Seconds())
	e.printer.Summary(summary, elapsed)

	if e.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := e.repo.FinishRun(ctx, e.runID, summary, runErr); err != nil {
			e.logger.Warn("audit finish failed", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("run finished",
		slog.String("run_id", e.runID),
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("elapsed", elapsed),
	)
}

// exitError maps a summary to the run's exit error, nil when clean.
func (e *runEnv) exitError(summary batch.Summary) error {
	if summary.Failed > 0 {
		return &runFailedError{Failed: summary.Failed, Total: summary.Total}
	}
	if e.cfg.StrictSkips && summary.Skipped > 0 {
		return &runFailedError{Skipped: summary.Skipped, Total: summary.Total}
	}
	return nil
}

// effectiveRunKey derives the journal key from the run's input when
// --journal-key is not given.
func (e *runEnv) effectiveRunKey(input string) string {
	if e.cfg.JournalKey != "" {
		return e.cfg.JournalKey
	}
	return e.command + ":" + filepath.Base(input)
}

// archiveResults uploads a written results CSV when archiving is on. It
// runs on its own deadline so an interrupted run still archives what it
// produced.
func (e *runEnv) archiveResults(path string) {
	if e.uploader == nil || path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("archive skipped, cannot reopen results",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	defer f.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if _, err := e.uploader.Upload(ctx, e.runID, filepath.Base(path), f); err != nil {
		e.logger.Warn("archive upload failed", slog.String("error", err.Error()))
	}
}

// panelClient builds the configured panel client and verifies connectivity
// up front, so auth problems surface as one structural error instead of N
// failed items.
func (e *runEnv) panelClient(ctx context.Context) (panel.Client, error) {
	token := e.cfg.PanelToken
	if token == "" {
		t, err := secret.Prompt("panel API token")
		if err != nil {
			return nil, fmt.Errorf("panel token: %w", err)
		}
		token = t
	}

	var limiter panel.Limiter
	if e.cfg.APIRateLimit > 0 {
		if e.journalClient == nil {
			return nil, errors.New("--api-rate-limit needs --journal-addr: the shared limiter lives in Redis")
		}
		rl := redisstore.NewRateLimiter(e.journalClient, e.cfg.APIRateLimit, e.cfg.APIRateWindow)
		limiter = redisstore.NewAPILimiter(rl, "panel:"+strings.ToLower(e.cfg.Provider), e.logger)
	}

	client, err := panel.New(panel.Config{
		Provider: e.cfg.Provider,
		BaseURL:  e.cfg.PanelURL,
		Username: e.cfg.PanelUser,
		Token:    token,
		Insecure: e.cfg.PanelInsecure,
		Timeout:  e.cfg.PanelTimeout,
		Limiter:  limiter,
		Logger:   e.logger,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("panel ping: %w", err)
	}
	return client, nil
}

// engineOptions assembles batch options carrying the full observer stack:
// tracker and metrics, console, and whichever of journal, audit and events
// are configured. Call it after beginRun — observers capture the current
// run identity.
func engineOptions[T any](e *runEnv, keyOf func(int) string) batch.Options[T] {
	observers := []func(batch.Outcome[T], int, int){
		func(oc batch.Outcome[T], _, total int) { e.observe(oc.Status, total) },
		console.Observer[T](e.printer, keyOf),
	}
	if e.journal != nil {
		observers = append(observers, redisstore.JournalObserver[T](e.journal, e.runKey, keyOf, e.logger))
	}
	if e.repo != nil {
		observers = append(observers, audit.ItemObserver[T](e.repo, e.runID, keyOf, e.logger))
	}
	if e.publisher != nil {
		observers = append(observers, events.Observer[T](e.publisher, e.cfg.EventsTopic, e.runID, e.command, keyOf, e.logger))
	}

	return batch.Options[T]{
		Concurrency: e.cfg.Concurrency,
		ExitOnError: e.cfg.ExitOnError,
		Debug:       e.cfg.Debug,
		ItemTimeout: e.cfg.ItemTimeout,
		Logger:      e.logger,
		OnProgress:  composeObservers(observers...),
	}
}

func composeObservers[T any](fns ...func(batch.Outcome[T], int, int)) func(batch.Outcome[T], int, int) {
	return func(oc batch.Outcome[T], completed, total int) {
		for _, fn := range fns {
			fn(oc, completed, total)
		}
	}
}

// instrument wraps fn with the in-flight gauge.
func instrument[I, T any](command string, fn batch.Func[I, T]) batch.Func[I, T] {
	return func(ctx context.Context, item I, index int) (T, error) {
		telemetry.ItemsInFlight.WithLabelValues(command).Inc()
		defer telemetry.ItemsInFlight.WithLabelValues(command).Dec()
		return fn(ctx, item, index)
	}
}

// skipEverything is the --dry-run work function: every item reports SKIPPED
// without side effects, exercising input parsing and the observer stack.
func skipEverything[I, T any](context.Context, I, int) (T, error) {
	var zero T
	return zero, batch.ErrSkip
}

// signalContext cancels the returned context on SIGINT/SIGTERM so runs
// drain in-flight items instead of dying mid-call.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		defer signal.Stop(quit)
		select {
		case <-quit:
			logger.Info("interrupt received, draining in-flight items...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
