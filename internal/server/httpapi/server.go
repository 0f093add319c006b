// Package httpapi exposes the completion engine over local HTTP, for
// editors that prefer HTTP to a stdio process and for debugging.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koustreak/cosbrowser/internal/completion"
	"github.com/koustreak/cosbrowser/internal/errs"
	"github.com/koustreak/cosbrowser/internal/logger"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	Version        string
	Logger         *logger.Logger
}

// Server routes HTTP requests to a completion engine.
type Server struct {
	engine   *completion.Engine
	gatherer prometheus.Gatherer
	timeout  time.Duration
	version  string
	log      *logger.Logger
}

// New returns a Server for engine.
func New(engine *completion.Engine, opts Options) *Server {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Server{
		engine:   engine,
		gatherer: opts.Gatherer,
		timeout:  timeout,
		version:  opts.Version,
		log:      logger.OrGlobal(opts.Logger).Component("http"),
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/complete", s.handleComplete)
		r.Post("/resolve", s.handleResolve)
		r.Post("/cache/refresh", s.handleRefresh)
		r.Get("/ls", s.handleList)
		r.Get("/preview", s.handlePreview)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWith("http server listening", map[string]interface{}{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, "http server", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// handleHealth reports liveness. With ?deep=1 it also pings the bucket and
// answers 503 when the bucket cannot be reached.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"enabled": s.engine.Config().Valid(),
	}
	if r.URL.Query().Get("deep") != "1" {
		writeJSON(w, http.StatusOK, body)
		return
	}

	if err := s.engine.Check(r.Context()); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		body["kind"] = errs.KindOf(err).String()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completion.Request
	if !s.decode(w, r, &req) {
		return
	}
	items := s.engine.Complete(r.Context(), req)
	if items == nil {
		items = []completion.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var item completion.Item
	if !s.decode(w, r, &item) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Resolve(r.Context(), item))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.engine.RefreshCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeError(w, errs.New(errs.ErrKindInvalidInput, "url is required"))
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Preview(r.Context(), url))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return false
	}
	return true
}

// requestLogger logs one line per request through the component logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.log.WarnWith("http request", nil, fields)
			return
		}
		s.log.DebugWith("http request", fields)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, StatusFor(err), errorBody{Error: err.Error(), Kind: kind.String()})
}

// StatusFor maps an error to the HTTP status reported for it. Kinds are
// tried in a fixed order, each through the whole cause chain, so a remote
// listing failure caused by a permission error is still a 403.
func StatusFor(err error) int {
	switch {
	case errs.IsInvalidInput(err):
		return http.StatusBadRequest
	case errs.IsDisabled(err):
		return http.StatusServiceUnavailable
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsPermissionDenied(err):
		return http.StatusForbidden
	case errs.IsTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errs.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errs.IsRemote(err), errs.IsConnectionFailed(err), errs.IsQueryFailed(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
