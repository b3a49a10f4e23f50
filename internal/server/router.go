package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/livesync/internal/connection"
	"github.com/loykin/livesync/internal/metrics"
	"github.com/loykin/livesync/internal/notify"
	"github.com/loykin/livesync/internal/operation"
	"github.com/loykin/livesync/internal/state"
)

// Router exposes a read-only debug surface over the sync core.
// Endpoints:
//   GET {basePath}/status       connection state and store counters
//   GET {basePath}/snapshot     full dashboard state snapshot
//   GET {basePath}/operations     tracked operations keyed by id
//   GET {basePath}/notifications  recent delivered notifications
//   GET {basePath}/metrics        Prometheus metrics
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	store    *state.Store
	conn     *connection.Manager
	registry *operation.Registry
	notifier *notify.Coordinator
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(st *state.Store, conn *connection.Manager, reg *operation.Registry, coord *notify.Coordinator, basePath string) *Router {
	return &Router{store: st, conn: conn, registry: reg, notifier: coord, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/snapshot", r.handleSnapshot)
	group.GET("/operations", r.handleOperations)
	group.GET("/notifications", r.handleNotifications)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, st *state.Store, conn *connection.Manager, reg *operation.Registry, coord *notify.Coordinator) (*http.Server, error) {
	r := NewRouter(st, conn, reg, coord, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type statusResp struct {
	Connection string `json:"connection"`
	Agents     int    `json:"agents"`
	Tasks      int    `json:"tasks"`
	ActiveOps  bool   `json:"active_operations"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		Connection: string(r.conn.State()),
		Agents:     r.store.AgentCount(),
		Tasks:      r.store.TaskCount(),
		ActiveOps:  r.registry.HasActive(),
	})
}

func (r *Router) handleSnapshot(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.store.Snapshot())
}

func (r *Router) handleOperations(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.registry.Views())
}

func (r *Router) handleNotifications(c *gin.Context) {
	recs := r.notifier.Recent()
	if recs == nil {
		recs = []notify.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
