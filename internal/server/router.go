package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loykin/hostpanel/internal/audit"
	"github.com/loykin/hostpanel/internal/errkind"
	mng "github.com/loykin/hostpanel/internal/manager"
	"github.com/loykin/hostpanel/internal/metrics"
)

// Router provides embeddable HTTP handlers for the panel.
// Endpoints, relative to basePath:
//
//	POST   /hosts                     body: CreateRequest JSON; 202 with a job id unless sync
//	GET    /hosts                     registry listing
//	GET    /hosts/:name/delete-check  delete guard decision
//	DELETE /hosts/:name               delete
//	POST   /hosts/:name/:action       start, stop or restart
//	GET    /jobs                      background jobs
//	GET    /jobs/:id?offset=N         poll a job
//	GET    /audit?limit=N             recent audit records
//	GET    /zone                      active domain zone
//
// Executed actions answer 200 (202 for started jobs) and report their
// outcome in the body's type field. Requests rejected before hostctl ran
// answer 4xx/5xx with an error_kind.
type Router struct {
	mgr      *mng.Manager
	basePath string
	logger   *slog.Logger
	metrics  http.Handler

	writeTimeout time.Duration
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
	requestIDHeader   = "X-Request-ID"
)

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath), logger: slog.Default()}
}

// SetLogger overrides the access logger.
func (r *Router) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// MountMetrics serves h at /metrics, outside basePath.
func (r *Router) MountMetrics(h http.Handler) { r.metrics = h }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestID(), r.accessLog())
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	group := g.Group(r.basePath)
	group.POST("/hosts", r.handleCreate)
	group.GET("/hosts", r.handleHosts)
	group.GET("/hosts/:name/delete-check", r.handleDeleteCheck)
	group.DELETE("/hosts/:name", r.handleDelete)
	group.POST("/hosts/:name/:action", r.handleLifecycle)
	group.GET("/jobs", r.handleJobs)
	group.GET("/jobs/:id", r.handlePoll)
	group.GET("/audit", r.handleAudit)
	group.GET("/zone", r.handleZone)
	return g
}

// DefaultWriteTimeout covers synchronous creates and deletes.
const DefaultWriteTimeout = 16 * time.Minute

// SetWriteTimeout overrides the write timeout of servers built by Server.
// Non-positive values keep the default.
func (r *Router) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		r.writeTimeout = d
	}
}

// Server returns an http.Server for this router with the standard timeouts.
// Synchronous actions that outlive the write timeout still complete but
// lose their response.
func (r *Router) Server(addr string) *http.Server {
	wt := r.writeTimeout
	if wt <= 0 {
		wt = DefaultWriteTimeout
	}
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      wt,
		IdleTimeout:       60 * time.Second,
	}
}

// NewServer starts a standalone HTTP server on addr using a new router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr, basePath string, mgr *mng.Manager) (*http.Server, error) {
	server := NewRouter(mgr, basePath).Server(addr)
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Middleware ---

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, route, status, elapsed.Seconds())

		level := slog.LevelInfo
		if route == r.basePath+"/jobs/:id" || route == "/metrics" {
			// polled every second or scraped
			level = slog.LevelDebug
		}
		r.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", c.GetString("request_id"),
		)
	}
}

// --- Handlers ---

type errorResp struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind"`
}

func writeError(c *gin.Context, err error) {
	k := errkind.Of(err)
	writeJSON(c, kindStatus(k), errorResp{Type: "error", Message: err.Error(), ErrorKind: string(k)})
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResp{Type: "error", Message: msg, ErrorKind: string(errkind.Validation)})
}

func (r *Router) handleCreate(c *gin.Context) {
	var req mng.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	res, err := r.mgr.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusOK
	if res.JobID != "" {
		code = http.StatusAccepted
	}
	writeJSON(c, code, res)
}

func (r *Router) handlePoll(c *gin.Context) {
	resp := r.mgr.Poll(c.Request.Context(), c.Param("id"), queryInt(c, "offset", 0))
	c.Header("Cache-Control", "no-cache, must-revalidate")
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleJobs(c *gin.Context) {
	jobs, err := r.mgr.Jobs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, jobs)
}

func (r *Router) handleHosts(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Hosts())
}

func (r *Router) handleDeleteCheck(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		badRequest(c, "invalid host name")
		return
	}
	dec, err := r.mgr.CheckDelete(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dec)
}

func (r *Router) handleDelete(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		badRequest(c, "invalid host name")
		return
	}
	res, err := r.mgr.Delete(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleLifecycle(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		badRequest(c, "invalid host name")
		return
	}
	res, err := r.mgr.Lifecycle(c.Request.Context(), c.Param("action"), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleAudit(c *gin.Context) {
	limit := queryInt(c, "limit", defaultAuditLimit)
	if limit <= 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	recs, err := r.mgr.AuditTail(int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleZone(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.ZoneInfo())
}
