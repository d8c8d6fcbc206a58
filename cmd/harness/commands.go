package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loykin/harness"
	"github.com/loykin/harness/internal/config"
	"github.com/loykin/harness/internal/download"
	"github.com/loykin/harness/internal/env"
	"github.com/loykin/harness/internal/logger"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/pidfile"
	"github.com/loykin/harness/internal/process"
	"github.com/loykin/harness/internal/server"
	"github.com/loykin/harness/internal/yamlfile"
)

// command holds the state shared by every subcommand.
type command struct {
	flags *GlobalFlags
}

type session struct {
	cfg     *harness.Config
	log     *slog.Logger
	env     *env.Env
	control *process.Control
	close   func()
}

func (c *command) loadConfig(cmd *cobra.Command) (*harness.Config, error) {
	var (
		cfg *harness.Config
		err error
	)
	if c.flags.ConfigPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(c.flags.ConfigPath)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Log.Stderr == nil {
		cfg.Log.Stderr = cmd.ErrOrStderr()
	}
	return cfg, nil
}

// open loads the config (or defaults), installs its logger and composes the
// child environment.
func (c *command) open(cmd *cobra.Command) (*session, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	e, err := cfg.Environment()
	if err != nil {
		return nil, err
	}
	log, closer := logger.New(cfg.Log)
	logger.Set(log)
	return &session{
		cfg:     cfg,
		log:     log,
		env:     e,
		control: &process.Control{Env: e, Logger: log},
		close:   func() { _ = closer.Close() },
	}, nil
}

func (s *session) dir(flag string) string {
	if flag != "" {
		return flag
	}
	return s.cfg.Dir
}

func (c *command) Download(cmd *cobra.Command, url, dest string) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	d := download.New()
	d.Logger = s.log
	n, err := d.Fetch(cmd.Context(), url, dest)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d bytes to %s\n", n, dest)
	return nil
}

func (c *command) Spawn(cmd *cobra.Command, f ProcessFlags, args []string) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	h, err := s.control.Launch(cmd.Context(), process.Spec{
		Name:    f.Name,
		Command: args[0],
		Args:    args[1:],
		Dir:     s.dir(f.Dir),
		WorkDir: f.WorkDir,
		Env:     f.Env,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "started %s pid=%d pid_file=%s\n", h.Name, h.PID, h.PIDFile)
	return nil
}

func (c *command) Kill(cmd *cobra.Command, f ProcessFlags) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.control.Terminate(cmd.Context(), s.dir(f.Dir), f.Name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", f.Name)
	return nil
}

func (c *command) Status(cmd *cobra.Command, f ProcessFlags) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	dir := s.dir(f.Dir)
	pid, err := pidfile.Read(pidfile.Path(dir, f.Name))
	if errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "name=%s running=false\n", f.Name)
		return nil
	}
	if err != nil {
		return err
	}
	alive, err := s.control.Alive(dir, f.Name)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "name=%s pid=%d running=%t\n", f.Name, pid, alive)
	return nil
}

func (c *command) YAMLGet(cmd *cobra.Command, path, key string) error {
	doc, err := yamlfile.Read(path)
	if err != nil {
		return err
	}
	var v any = doc
	if key != "" {
		var ok bool
		if v, ok = lookup(doc, key); !ok {
			return fmt.Errorf("key %q not found in %s", key, path)
		}
	}
	switch v.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, _ = cmd.OutOrStdout().Write(out)
	default:
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

func (c *command) YAMLSet(cmd *cobra.Command, path string, pairs []string) error {
	doc, err := yamlfile.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		doc, err = yamlfile.Document{}, nil
	}
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		k, raw, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("%q is not KEY=VALUE", kv)
		}
		if err := assign(doc, k, scalar(raw)); err != nil {
			return err
		}
	}
	return yamlfile.Write(path, doc)
}

// scalar decodes raw as a YAML scalar and falls back to the plain string.
func scalar(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any:
		return raw
	}
	return v
}

func lookup(doc map[string]any, key string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(doc map[string]any, key string, v any) error {
	parts := strings.Split(key, ".")
	cur := doc
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			m := map[string]any{}
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a mapping", strings.Join(parts[:i+1], "."))
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

func (c *command) RequireEnv(cmd *cobra.Command, names []string) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	return env.Require(s.env.Vars(), names)
}

func (c *command) openHarness(cmd *cobra.Command) (*harness.Harness, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	h, err := harness.New(cfg)
	if err != nil {
		return nil, err
	}
	logger.Set(h.Logger())
	return h, nil
}

func (c *command) Up(cmd *cobra.Command) error {
	h, err := c.openHarness(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()
	handles, err := h.Up(cmd.Context())
	for _, hd := range handles {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "started %s pid=%d\n", hd.Name, hd.PID)
	}
	return err
}

func (c *command) Down(cmd *cobra.Command) error {
	h, err := c.openHarness(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()
	return h.Down(cmd.Context())
}

func (c *command) Serve(cmd *cobra.Command) error {
	h, err := c.openHarness(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()
	cfg, log := h.Config(), h.Logger()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	servers := []*http.Server{server.NewServer(cfg.Server.Addr, h.Router())}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			shutdown(servers)
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		log.Info("listening", "addr", ln.Addr().String())
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-cmd.Context().Done():
		log.Info("shutting down")
		shutdown(servers)
		return nil
	case err := <-errCh:
		shutdown(servers)
		return err
	}
}

func shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(ctx)
	}
}
