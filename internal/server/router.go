// Package server exposes the world lifecycle over HTTP.
// Endpoints:
//
//	POST {basePath}/worlds/start   body: {"name":..., "memory":..., "port":...}
//	POST {basePath}/worlds/stop    query: name=...
//	GET  {basePath}/worlds/status  query: name=... (omit for all worlds)
//	POST {basePath}/worlds/backup  query: name=...
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics
//
// World names are validated before anything touches disk; a bad name is a
// 400, never a filesystem access.
package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tangerine2001/minecraft-server-starter/internal/backup"
	"github.com/Tangerine2001/minecraft-server-starter/internal/metrics"
	"github.com/Tangerine2001/minecraft-server-starter/internal/supervisor"
	"github.com/Tangerine2001/minecraft-server-starter/internal/world"
)

type Router struct {
	sup      *supervisor.Supervisor
	backups  *backup.Scheduler
	basePath string
}

// NewRouter constructs an embeddable router. basePath may be empty or start
// with '/'; no trailing slash.
func NewRouter(sup *supervisor.Supervisor, backups *backup.Scheduler, basePath string) *Router {
	return &Router{sup: sup, backups: backups, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/worlds/start", r.handleStart)
	group.POST("/worlds/stop", r.handleStop)
	group.GET("/worlds/status", r.handleStatus)
	group.POST("/worlds/backup", r.handleBackup)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. The
// listener is bound before returning so an occupied or invalid addr surfaces
// as an error instead of a dead server.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, backups *backup.Scheduler) (*http.Server, error) {
	r := NewRouter(sup, backups, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type startReq struct {
	Name   string `json:"name"`
	Memory string `json:"memory"`
	Port   int    `json:"port"`
}

type startResp struct {
	World          string `json:"world"`
	PID            int    `json:"pid"`
	Port           int    `json:"port"`
	RequestedPort  int    `json:"requested_port"`
	PortReassigned bool   `json:"port_reassigned"`
	ArtifactPath   string `json:"artifact_path"`
}

type stopResp struct {
	World          string `json:"world"`
	Stopped        bool   `json:"stopped"`
	AlreadyStopped bool   `json:"already_stopped"`
	PID            int    `json:"pid,omitempty"`
	BackupPath     string `json:"backup_path,omitempty"`
}

type statusResp struct {
	World   string `json:"world"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

type backupResp struct {
	World       string `json:"world"`
	ArchivePath string `json:"archive_path"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := world.Validate(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "port out of range"})
		return
	}
	res, err := r.sup.Start(c.Request.Context(), req.Name, req.Memory, req.Port)
	if err != nil {
		c.JSON(startErrStatus(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, startResp{
		World:          res.World,
		PID:            res.PID,
		Port:           res.Port,
		RequestedPort:  res.RequestedPort,
		PortReassigned: res.PortReassigned,
		ArtifactPath:   res.ArtifactPath,
	})
}

func startErrStatus(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrInvalidWorldName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if err := world.Validate(name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	res, err := r.sup.Stop(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stopResp{
		World:          res.World,
		Stopped:        res.Stopped,
		AlreadyStopped: res.AlreadyStopped,
		PID:            res.PID,
		BackupPath:     res.BackupPath,
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		all, err := r.sup.StatusAll()
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		out := make([]statusResp, 0, len(all))
		for _, st := range all {
			out = append(out, statusResp{World: st.World, Running: st.Running, PID: st.PID})
		}
		c.JSON(http.StatusOK, out)
		return
	}
	if err := world.Validate(name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	st := r.sup.StatusOf(name)
	c.JSON(http.StatusOK, statusResp{World: st.World, Running: st.Running, PID: st.PID})
}

func (r *Router) handleBackup(c *gin.Context) {
	name := c.Query("name")
	if err := world.Validate(name); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if r.backups == nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "backups disabled"})
		return
	}
	path, err := r.backups.Perform(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, backupResp{World: name, ArchivePath: path})
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
