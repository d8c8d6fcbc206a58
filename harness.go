// Package harness bundles the helpers end-to-end tests lean on: fetching
// fixtures over HTTP, launching and stopping detached processes through PID
// files, reading and writing YAML, and failing fast on missing environment.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/harness/internal/config"
	"github.com/loykin/harness/internal/download"
	"github.com/loykin/harness/internal/env"
	"github.com/loykin/harness/internal/errs"
	"github.com/loykin/harness/internal/history"
	"github.com/loykin/harness/internal/history/factory"
	"github.com/loykin/harness/internal/logger"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/process"
	"github.com/loykin/harness/internal/server"
	"github.com/loykin/harness/internal/yamlfile"
)

// Re-export core types for external consumers.

type Spec = process.Spec

type Handle = process.Handle

type Document = yamlfile.Document

type Config = config.Config

type HistoryConfig = config.HistoryConfig

type Download = config.Download

type HistorySink = history.Sink

type HistoryEvent = history.Event

type (
	NetworkError    = errs.NetworkError
	FileReadError   = errs.FileReadError
	FileWriteError  = errs.FileWriteError
	FileDeleteError = errs.FileDeleteError
	ParseError      = errs.ParseError
	SignalError     = errs.SignalError
	ConfigError     = errs.ConfigError
)

var (
	ErrBadStatus  error = errs.ErrBadStatus
	ErrEmptyName  error = errs.ErrEmptyName
	ErrInvalidPID error = errs.ErrInvalidPID
)

// SetLogger replaces the logger used by every helper that is not given one.
func SetLogger(l *slog.Logger) { logger.Set(l) }

// LoadConfig reads a harness.yaml file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// RegisterMetrics registers the harness collectors on r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// DownloadFile fetches url into dest in the background. done is called
// exactly once: nil on success, otherwise a *NetworkError or *FileWriteError.
func DownloadFile(url, dest string, done func(error)) {
	download.New().Download(context.Background(), url, dest, done)
}

// SpawnDetachedProcess starts command in its own session with output in
// <name>-out.log and <name>-err.log and its PID in <name>.pid, all in the
// working directory. The child is never waited on by the caller.
func SpawnDetachedProcess(command string, args []string, name string) (Handle, error) {
	return process.Launch(context.Background(), Spec{Name: name, Command: command, Args: args, Dir: "."})
}

// KillDetachedProcess signals the PID recorded in ./<name>.pid and removes
// the file. done is called exactly once.
func KillDetachedProcess(name string, done func(error)) {
	var c process.Control
	c.TerminateAsync(context.Background(), ".", name, done)
}

// LoadYAMLFile parses path in the background; parse failures arrive as *ParseError.
func LoadYAMLFile(path string, done func(Document, error)) {
	yamlfile.ReadAsync(path, done)
}

// WriteYAMLFile overwrites path with doc in the background.
func WriteYAMLFile(path string, doc Document, done func(error)) {
	yamlfile.WriteAsync(path, doc, done)
}

// CheckEnvVars returns a *ConfigError naming every entry of names that is
// unset or empty in vars.
func CheckEnvVars(vars map[string]string, names ...string) error {
	return env.Require(env.Var(vars), names)
}

// RequireEnvVars panics with a *ConfigError when any of names is unset or
// empty in the process environment.
func RequireEnvVars(names ...string) {
	if err := CheckEnvVars(env.OS(), names...); err != nil {
		logger.L().Error("missing required environment", "error", err)
		panic(err)
	}
}

// CI reports whether the CI variable is set.
func CI() bool { return env.DetectFlags(env.OS()).IsCI }

// CollectingCoverage reports whether the run is collecting coverage.
func CollectingCoverage() bool { return env.DetectFlags(env.OS()).CollectingCoverage }

// IsRepo reports whether the CI build runs for the owner/name repository slug.
func IsRepo(slug string) bool {
	s := env.DetectFlags(env.OS()).RepoSlug
	return s != "" && s == slug
}

// Harness brings up and tears down the fixtures and processes described by a Config.
type Harness struct {
	cfg        *Config
	log        *slog.Logger
	logCloser  io.Closer
	env        *env.Env
	control    *process.Control
	downloader *download.Downloader
	sink       history.Sink
}

// New builds a Harness; it opens the configured log file and history sink.
func New(cfg *Config) (*Harness, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e, err := cfg.Environment()
	if err != nil {
		return nil, err
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	log, closer := logger.New(cfg.Log)
	dl := download.New()
	dl.Logger = log
	return &Harness{
		cfg:        cfg,
		log:        log,
		logCloser:  closer,
		env:        e,
		control:    &process.Control{Env: e, Logger: log},
		downloader: dl,
		sink:       sink,
	}, nil
}

// Config returns the configuration the Harness was built from.
func (h *Harness) Config() *Config { return h.cfg }

// Logger returns the logger built from the config.
func (h *Harness) Logger() *slog.Logger { return h.log }

// History returns the configured sink; history.Nop when none is set.
func (h *Harness) History() HistorySink { return h.sink }

// Up checks the required environment, fetches every download concurrently
// and then launches the configured processes in order. It stops at the first
// failure and returns the handles launched so far.
func (h *Harness) Up(ctx context.Context) ([]Handle, error) {
	if err := env.Require(h.env.Vars(), h.cfg.RequiredEnv); err != nil {
		h.log.Error("missing required environment", "error", err)
		return nil, err
	}
	if err := h.fetchAll(ctx); err != nil {
		return nil, err
	}
	handles := make([]Handle, 0, len(h.cfg.Processes))
	for _, spec := range h.cfg.Processes {
		hd, err := h.control.Launch(ctx, spec)
		h.record(ctx, history.NewEvent(history.EventLaunch, spec.Name, hd.PID, err))
		if err != nil {
			return handles, err
		}
		handles = append(handles, hd)
	}
	return handles, nil
}

func (h *Harness) fetchAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range h.cfg.Downloads {
		g.Go(func() error {
			_, err := h.downloader.Fetch(gctx, d.URL, d.Dest)
			return err
		})
	}
	return g.Wait()
}

// Down terminates every configured process. Processes without a PID file
// are skipped; other failures are joined.
func (h *Harness) Down(ctx context.Context) error {
	var all []error
	for _, spec := range h.cfg.Processes {
		dir := spec.Dir
		if dir == "" {
			dir = h.cfg.Dir
		}
		err := h.control.Terminate(ctx, dir, spec.Name)
		if errors.Is(err, fs.ErrNotExist) {
			h.log.Debug("no pid file; skipping", "name", spec.Name)
			continue
		}
		h.record(ctx, history.NewEvent(history.EventTerminate, spec.Name, 0, err))
		if err != nil {
			all = append(all, fmt.Errorf("%s: %w", spec.Name, err))
		}
	}
	return errors.Join(all...)
}

// Router returns a fixture server rooted at the configured server root and
// reporting on processes under the configured dir.
func (h *Harness) Router() *server.Router {
	return &server.Router{
		Root:     h.cfg.Server.Root,
		PIDDir:   h.cfg.Dir,
		BasePath: h.cfg.Server.BasePath,
		Metrics:  metrics.Handler(),
		Control:  h.control,
	}
}

func (h *Harness) record(ctx context.Context, e history.Event) {
	if err := h.sink.Send(ctx, e); err != nil {
		h.log.Warn("history send failed", "name", e.Name, "event", string(e.Type), "error", err)
	}
}

// Close releases the history sink and the log file.
func (h *Harness) Close() error {
	return errors.Join(h.sink.Close(), h.logCloser.Close())
}
