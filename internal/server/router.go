package server

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/harness/internal/pidfile"
	"github.com/loykin/harness/internal/process"
)

// Router serves fixture files for download tests and reports on processes
// launched into PIDDir.
// Endpoints:
//
//	GET {basePath}/files/*path            static file under Root
//	GET {basePath}/healthz                liveness
//	GET {basePath}/processes/:name        pid and liveness from <PIDDir>/<name>.pid
//	GET {basePath}/metrics                when Metrics is set
type Router struct {
	Root     string       // directory served under /files
	PIDDir   string       // directory holding pid files
	BasePath string       // may be empty or start with '/'; no trailing slash
	Metrics  http.Handler // optional
	Control  *process.Control
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(sanitizeBase(r.BasePath))
	if r.Root != "" {
		group.StaticFS("/files", gin.Dir(r.Root, false))
	}
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	group.GET("/processes/:name", r.handleProcess)
	if r.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.Metrics))
	}
	return g
}

// NewServer wraps the router in an http.Server with conservative timeouts.
// The caller starts and stops it.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute, // large fixtures
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type processResp struct {
	Name     string `json:"name"`
	PID      int    `json:"pid"`
	Alive    bool   `json:"alive"`
	Detector string `json:"detector"`
}

func (r *Router) handleProcess(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid process name"})
		return
	}
	pid, err := pidfile.Read(pidfile.Path(r.PIDDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "no pid file for " + name})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	ctl := r.Control
	if ctl == nil {
		ctl = &process.Control{}
	}
	d := ctl.Detector(r.PIDDir, name)
	alive, _ := d.Alive()
	writeJSON(c, http.StatusOK, processResp{Name: name, PID: pid, Alive: alive, Detector: d.Describe()})
}
