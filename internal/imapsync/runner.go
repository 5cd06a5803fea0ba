package imapsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mailherd/mailherd/internal/domain"
	"github.com/mailherd/mailherd/pkg/telemetry"
)

const (
	// DefaultBinary is the local-mode executable looked up on PATH.
	DefaultBinary = "imapsync"
	// DefaultImage is the docker-mode image.
	DefaultImage = "gilleslamiral/imapsync"

	// tailSize bounds how much trailing output is kept in memory for
	// error reporting; full output always goes to the log file.
	tailSize = 2048
)

// Runner invokes the external imapsync tool, one process per job.
// Passwords travel via owner-only temp files, never on the argv.
type Runner struct {
	// Binary is the local executable. Empty means DefaultBinary.
	Binary string
	// UseDocker wraps the invocation in `docker run` with Image.
	UseDocker bool
	// Image overrides DefaultImage in docker mode.
	Image string
	// LogDir receives one transfer log per job. Empty means discard.
	LogDir string
	// ExtraArgs are appended to every invocation verbatim.
	ExtraArgs []string
	// DryRun forwards imapsync's own --dry flag.
	DryRun bool
	// Logger receives per-job lines. Defaults to slog.Default().
	Logger *slog.Logger
}

// Result describes one finished transfer.
type Result struct {
	ExitCode   int
	LogPath    string
	DurationMs int64
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run transfers one mailbox. A non-zero imapsync exit comes back as a
// SyncExitError carrying the trailing output; the Result is returned
// alongside so callers still see the exit code and log location.
func (r *Runner) Run(ctx context.Context, job domain.SyncJob) (*Result, error) {
	ctx, span := otel.Tracer("imapsync").Start(ctx, "imapsync.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("sync.host1", job.Host1),
		attribute.String("sync.host2", job.Host2),
		attribute.Bool("sync.docker", r.UseDocker),
	)

	passDir, err := os.MkdirTemp("", "mailherd-pass-")
	if err != nil {
		return nil, fmt.Errorf("create passfile dir: %w", err)
	}
	defer os.RemoveAll(passDir)

	pass1 := filepath.Join(passDir, "pass1")
	pass2 := filepath.Join(passDir, "pass2")
	if err := os.WriteFile(pass1, []byte(job.Password1), 0o600); err != nil {
		return nil, fmt.Errorf("write passfile: %w", err)
	}
	if err := os.WriteFile(pass2, []byte(job.Password2), 0o600); err != nil {
		return nil, fmt.Errorf("write passfile: %w", err)
	}

	name, argv := r.command(job, passDir)

	logPath, sink, err := r.openLog(job)
	if err != nil {
		return nil, err
	}

	tail := &tailBuffer{limit: tailSize}
	out := io.MultiWriter(sink, tail)

	cmd := exec.Command(name, argv...)
	cmd.Stdout = out
	cmd.Stderr = out
	setProcGroup(cmd)

	log := r.logger().With(slog.String("job", job.Describe()))
	log.Info("starting transfer", slog.String("log", logPath))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		sink.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		// Kill the whole tree so docker/perl children do not linger.
		killTree(cmd)
		<-done
		sink.Close()
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("transfer cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}
	sink.Close()

	res := &Result{LogPath: logPath, DurationMs: time.Since(start).Milliseconds()}
	telemetry.SyncDuration.Observe(time.Since(start).Seconds())

	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, "wait failed")
			return nil, fmt.Errorf("run %s: %w", name, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
		syncErr := &domain.SyncExitError{ExitCode: res.ExitCode, LogTail: tail.String()}
		span.RecordError(syncErr)
		span.SetStatus(codes.Error, "non-zero exit")
		telemetry.SyncRuns.WithLabelValues(strconv.Itoa(res.ExitCode)).Inc()
		log.Error("transfer failed",
			slog.Int("exit_code", res.ExitCode),
			slog.String("log", logPath),
		)
		return res, syncErr
	}

	telemetry.SyncRuns.WithLabelValues("0").Inc()
	log.Info("transfer finished", slog.Int64("duration_ms", res.DurationMs))
	return res, nil
}

// command assembles the executable and argv for one job. In docker mode
// the passfile directory is bind-mounted read-only and the in-container
// paths are used.
func (r *Runner) command(job domain.SyncJob, passDir string) (string, []string) {
	pass1 := filepath.Join(passDir, "pass1")
	pass2 := filepath.Join(passDir, "pass2")
	if r.UseDocker {
		pass1 = "/passfiles/pass1"
		pass2 = "/passfiles/pass2"
	}

	args := []string{
		"--host1", job.Host1,
		"--user1", job.User1,
		"--passfile1", pass1,
		"--host2", job.Host2,
		"--user2", job.User2,
		"--passfile2", pass2,
	}
	if job.SSL1 {
		args = append(args, "--ssl1")
	}
	if job.SSL2 {
		args = append(args, "--ssl2")
	}
	if job.Port1 > 0 {
		args = append(args, "--port1", strconv.Itoa(job.Port1))
	}
	if job.Port2 > 0 {
		args = append(args, "--port2", strconv.Itoa(job.Port2))
	}
	if r.DryRun {
		args = append(args, "--dry")
	}
	args = append(args, r.ExtraArgs...)

	if r.UseDocker {
		image := r.Image
		if image == "" {
			image = DefaultImage
		}
		docker := []string{
			"run", "--rm",
			"-v", passDir + ":/passfiles:ro",
			image,
		}
		return "docker", append(docker, args...)
	}

	binary := r.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	return binary, args
}

// openLog creates the per-job transfer log. Without a LogDir the output
// is discarded and only the in-memory tail survives.
func (r *Runner) openLog(job domain.SyncJob) (string, io.WriteCloser, error) {
	if r.LogDir == "" {
		return "", nopCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(r.LogDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s--%s.log",
		time.Now().UTC().Format("20060102T150405Z"),
		sanitize(job.User1),
		sanitize(job.User2),
	)
	path := filepath.Join(r.LogDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("create transfer log: %w", err)
	}
	return path, f, nil
}

// sanitize keeps log filenames shell- and filesystem-friendly.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '@' || r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// tailBuffer keeps the last limit bytes written through it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
