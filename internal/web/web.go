package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"notiflow/internal/config"
	"notiflow/internal/course"
	appLog "notiflow/internal/log"
	"notiflow/internal/midterm"
	"notiflow/internal/model"
	"notiflow/internal/normalize"
	"notiflow/internal/orchestrator"
	"notiflow/internal/scheduler"
	"notiflow/internal/store"
)

// Syncer triggers a platform sync. *scheduler.Scheduler implements it.
type Syncer interface {
	RunOnce(ctx context.Context) (scheduler.SyncReport, error)
	Last() (scheduler.SyncReport, bool)
}

// Server exposes the calendar feed and the event store over HTTP.
type Server struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	syncer Syncer
	engine *gin.Engine
	now    func() time.Time

	// Expanded occurrences are cached briefly so calendar widgets polling
	// the API do not re-expand the whole store on every request. Writes
	// through this server drop the cache.
	occMu    sync.RWMutex
	occCache map[string]occurrencesCache
}

type occurrencesCache struct {
	resp      occurrencesResponse
	updatedAt time.Time
}

const occurrencesCacheTTL = 30 * time.Second

// NewServer constructs a new Server. syncer may be nil, which disables
// /api/sync.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, syncer Syncer) *Server {
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		syncer:   syncer,
		engine:   gin.New(),
		now:      time.Now,
		occCache: map[string]occurrencesCache{},
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	// /health is always reachable without credentials.
	s.engine.GET("/health", s.handleHealth)

	protected := s.engine.Group("/")
	if s.basicAuthEnabled() {
		protected.Use(gin.BasicAuthForRealm(gin.Accounts{
			s.cfg.BasicAuth.Username: s.cfg.BasicAuth.Password,
		}, "NotiFlow"))
	}

	protected.GET("/calendar.ics", s.handleCalendar)

	api := protected.Group("/api")
	api.GET("/events/:category", s.handleGetEvents)
	api.PUT("/events/:category", s.handleReplaceEvents)
	api.POST("/class-meetings", s.handleAddClassForm)
	api.DELETE("/class-meetings", s.handleDeleteClassMeeting)
	api.GET("/occurrences", s.handleOccurrences)
	api.GET("/sync", s.handleLastSync)
	api.POST("/sync", s.handleSync)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleCalendar serves the whole store as one iCalendar document.
// Events that fail validation are left out and counted in a header.
func (s *Server) handleCalendar(c *gin.Context) {
	text, report, err := s.orch.Export(c.Request.Context())
	if err != nil {
		appLog.Error("calendar export failed", err)
		writeError(c, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	if len(report.Skipped) > 0 {
		appLog.Warn("calendar export skipped events", "skipped", len(report.Skipped))
	}
	c.Header("X-Notiflow-Skipped", strconv.Itoa(len(report.Skipped)))
	c.Header("Content-Disposition", `inline; filename="notiflow.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(text))
}

type eventsResponse struct {
	Category model.Kind     `json:"category"`
	Events   []model.Record `json:"events"`
}

func (s *Server) handleGetEvents(c *gin.Context) {
	kind, ok := categoryParam(c)
	if !ok {
		return
	}
	events, err := s.orch.Events(c.Request.Context(), kind)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventsResponse{Category: kind, Events: model.Records(events)})
}

// handleReplaceEvents replaces one category. The body is a JSON array of
// records, or of midterm candidates for the midterm category.
//
// PUT /api/events/assignment
func (s *Server) handleReplaceEvents(c *gin.Context) {
	kind, ok := categoryParam(c)
	if !ok {
		return
	}

	var in orchestrator.Input
	var err error
	if kind == model.KindMidterm {
		var cands []midterm.Candidate
		err = c.ShouldBindJSON(&cands)
		in.Candidates = cands
	} else {
		var recs []model.Record
		err = c.ShouldBindJSON(&recs)
		in.Records = recs
	}
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	report, err := s.orch.Refresh(c.Request.Context(), kind, in)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	s.invalidate()
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleAddClassForm(c *gin.Context) {
	var form normalize.ClassForm
	if err := c.ShouldBindJSON(&form); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	report, err := s.orch.AddClassForm(c.Request.Context(), form)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	s.invalidate()
	if report.Stored == 0 {
		c.JSON(http.StatusUnprocessableEntity, report)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// DELETE /api/class-meetings?course=CPEN%20221&date=2025/09/02&start=14:00:00
func (s *Server) handleDeleteClassMeeting(c *gin.Context) {
	key := model.Key{
		Course: strings.TrimSpace(c.Query("course")),
		Kind:   model.KindClassMeeting,
		Date:   strings.TrimSpace(c.Query("date")),
		Start:  strings.TrimSpace(c.Query("start")),
	}
	if key.Course == "" || key.Date == "" || key.Start == "" {
		writeError(c, http.StatusBadRequest, "course, date and start are required")
		return
	}
	id, err := course.Parse(key.Course)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	key.Course = id.String()
	if err := s.orch.DeleteClassMeeting(c.Request.Context(), key); err != nil {
		writeStoreError(c, err)
		return
	}
	s.invalidate()
	c.Status(http.StatusNoContent)
}

type occurrencesResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
}

// handleOccurrences expands the store into a window.
//
// GET /api/occurrences?from=2025-09-01&to=2025-09-08
// GET /api/occurrences?days=7&backfill=1
//   - from/to:  explicit half-open window, dates in the display timezone
//   - days:     how many days ahead (default 7)
//   - backfill: how many days back (default 1)
func (s *Server) handleOccurrences(c *gin.Context) {
	loc := s.orch.Location()

	var rangeStart, rangeEnd time.Time
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		var err1, err2 error
		rangeStart, err1 = time.ParseInLocation(time.DateOnly, from, loc)
		rangeEnd, err2 = time.ParseInLocation(time.DateOnly, to, loc)
		if err1 != nil || err2 != nil {
			writeError(c, http.StatusBadRequest, "from and to must both be YYYY-MM-DD")
			return
		}
	} else {
		days := parseIntDefault(c.Query("days"), 7)
		if days <= 0 {
			days = 7
		}
		backfill := parseIntDefault(c.Query("backfill"), 1)
		if backfill < 0 {
			backfill = 0
		}
		now := s.now().In(loc)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		rangeStart = today.AddDate(0, 0, -backfill)
		rangeEnd = today.AddDate(0, 0, days)
	}

	cacheKey := rangeStart.Format(time.RFC3339) + "/" + rangeEnd.Format(time.RFC3339)
	s.occMu.RLock()
	oc, hit := s.occCache[cacheKey]
	s.occMu.RUnlock()
	if hit && s.now().Sub(oc.updatedAt) < occurrencesCacheTTL {
		c.JSON(http.StatusOK, oc.resp)
		return
	}

	occs, err := s.orch.Occurrences(c.Request.Context(), rangeStart, rangeEnd)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if occs == nil {
		occs = []model.Occurrence{}
	}
	resp := occurrencesResponse{
		Occurrences:     occs,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}

	now := s.now()
	s.occMu.Lock()
	// Every window is a new key; drop expired ones so the map stays small.
	for k, v := range s.occCache {
		if now.Sub(v.updatedAt) >= occurrencesCacheTTL {
			delete(s.occCache, k)
		}
	}
	s.occCache[cacheKey] = occurrencesCache{resp: resp, updatedAt: now}
	s.occMu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSync(c *gin.Context) {
	if s.syncer == nil {
		writeError(c, http.StatusServiceUnavailable, "platform sync is not configured")
		return
	}
	report, err := s.syncer.RunOnce(c.Request.Context())
	s.invalidate()
	if err != nil {
		appLog.Error("api sync failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleLastSync(c *gin.Context) {
	if s.syncer == nil {
		writeError(c, http.StatusServiceUnavailable, "platform sync is not configured")
		return
	}
	report, ok := s.syncer.Last()
	if !ok {
		writeError(c, http.StatusNotFound, "no sync has run yet")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) invalidate() {
	s.occMu.Lock()
	clear(s.occCache)
	s.occMu.Unlock()
}

func categoryParam(c *gin.Context) (model.Kind, bool) {
	kind, err := model.ParseKind(c.Param("category"))
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// writeStoreError maps orchestrator errors onto status codes.
func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrRejectedInput):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		appLog.Error("api request failed", err, "path", c.FullPath())
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// requestLogger logs one line per request through the app logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
