// Package api serves scans over HTTP.
//
// Routes:
//   - POST /scan            form field "url" or JSON {"url": ...}; 200 with the report
//   - GET  /results/{id}    a stored report, 404 once expired
//   - GET  /health          liveness probe
//   - GET  /metrics         Prometheus exposition, when configured
//
// Every error is a JSON body {"error": "..."}; a caller never sees a
// partial report.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/duration"
	"github.com/vulnscan/vulnscan/pkg/jsonutil"
	"github.com/vulnscan/vulnscan/pkg/report"
	"github.com/vulnscan/vulnscan/pkg/scanner"
	"github.com/vulnscan/vulnscan/pkg/session"
	"github.com/vulnscan/vulnscan/pkg/target"
)

// Scanner runs scans and returns stored reports. *scanner.Scanner
// satisfies it.
type Scanner interface {
	Scan(ctx context.Context, rawURL string) (*report.Report, error)
	Get(scanID string) (*report.Report, error)
}

var _ Scanner = (*scanner.Scanner)(nil)

// Config configures the HTTP server. Zero values take the defaults.
type Config struct {
	ClientRateLimit int // POST /scan per minute per client IP; 0 disables
	ClientBurst     int
	MaxFormSize     int64
}

// Server is the HTTP front of a Scanner.
type Server struct {
	scanner Scanner
	cfg     Config
	logger  *slog.Logger
	metrics http.Handler
	limiter *clientLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New creates a Server.
func New(sc Scanner, cfg Config, opts ...Option) *Server {
	if cfg.ClientBurst <= 0 {
		cfg.ClientBurst = defaults.ClientBurst
	}
	if cfg.MaxFormSize <= 0 {
		cfg.MaxFormSize = defaults.MaxFormSize
	}
	s := &Server{
		scanner: sc,
		cfg:     cfg,
		logger:  slog.Default(),
		limiter: newClientLimiter(cfg.ClientRateLimit, cfg.ClientBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with recovery, security headers and
// request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /scan", s.limiter.middleware(http.HandlerFunc(s.handleScan)))
	mux.HandleFunc("GET /results/{scanID}", s.handleResult)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.recovery(securityHeaders(s.logRequests(mux)))
}

// Serve accepts connections on ln until ctx ends. In-flight requests get
// duration.Shutdown to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: duration.ServerReadHeader,
		WriteTimeout:      duration.ServerWrite,
		IdleTimeout:       duration.ServerIdle,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), duration.Shutdown)
		defer cancel()
		s.logger.Info("http server shutting down")
		shutdownErr <- srv.Shutdown(sctx)
	}()

	s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type scanRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFormSize)

	rawURL, err := scanURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.scanner.Scan(r.Context(), rawURL)
	if err != nil {
		s.scanError(w, r, err)
		return
	}

	s.writeReport(w, r, rep, "/results/"+rep.ScanID)
}

// scanURL reads the url field from a JSON or form body.
func scanURL(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var rawURL string
	if ct == "application/json" {
		var req scanRequest
		if err := jsonutil.Read(r.Body, &req); err != nil {
			return "", fmt.Errorf("invalid JSON body: %v", err)
		}
		rawURL = req.URL
	} else {
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("invalid form body: %v", err)
		}
		rawURL = r.PostFormValue("url")
	}
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("missing url")
	}
	return rawURL, nil
}

func (s *Server) scanError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, target.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scanner.ErrAllChecksFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, scanner.ErrScanCancelled) && r.Context().Err() != nil:
		// The client went away; nobody reads the response.
		s.logger.Info("scan abandoned by client", slog.String("remote", clientIP(r)))
	case errors.Is(err, scanner.ErrScanCancelled):
		writeError(w, http.StatusServiceUnavailable, "scan cancelled")
	default:
		s.logger.Error("scan failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("scanID")
	rep, err := s.scanner.Get(id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "scan "+id+" not found or expired")
	case err != nil:
		s.logger.Error("result lookup failed", slog.String("scan_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		s.writeReport(w, r, rep, "")
	}
}

// writeReport answers with rep, tagged by its content fingerprint. A GET
// whose If-None-Match carries the same tag gets 304.
func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, rep *report.Report, location string) {
	data, err := jsonutil.Marshal(rep)
	if err != nil {
		s.logger.Error("encode report", slog.String("scan_id", rep.ScanID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if location != "" {
		w.Header().Set("Location", location)
	}
	if fp, err := rep.Fingerprint(); err == nil {
		etag := `"` + fp + `"`
		w.Header().Set("ETag", etag)
		if r.Method == http.MethodGet && r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", defaults.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(data, '\n'))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": defaults.Version})
}

// writeJSON encodes before writing the header so an encoding failure
// still yields a single error body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		slog.Default().Error("encode response", slog.Int("status", status), slog.String("error", err.Error()))
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", defaults.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// writeError answers {"error": msg}. msg may echo client input, so
// invalid UTF-8 is replaced.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.ToValidUTF8(msg, "\uFFFD")})
}

// recovery turns a handler panic into a 500.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("panic in http handler",
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.String("remote", clientIP(r)),
			slog.Duration("elapsed", time.Since(start)))
	})
}
