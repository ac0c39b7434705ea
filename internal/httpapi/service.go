package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	core "github.com/olavhq/olav/internal/core"
	"github.com/olavhq/olav/internal/logging"
	"github.com/olavhq/olav/internal/metrics"
	system "github.com/olavhq/olav/internal/system"
)

// Service exposes the control-surface HTTP API and fits into the system
// manager's start/stop lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logging.Logger
}

// Config bundles Service construction parameters.
type Config struct {
	Addr      string
	Tokens    []string
	JWTSecret string
	Version   string
	DB        *sql.DB
}

// NewService wires the audit sink (file via AUDIT_LOG_PATH, else Postgres if
// db is configured) and the middleware chain: auth sees real requests first,
// CORS short-circuits preflight OPTIONS before auth runs, audit records the
// outcome, and metrics wraps the final handler.
func NewService(status StatusProvider, reloader Reloader, cfg Config, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	var auditSink sink
	if path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH")); path != "" {
		if s, err := newFileSink(path); err == nil {
			auditSink = s
			log.Infof("audit log persisting to %s", path)
		} else {
			log.Warnf("audit log file not configured: %v", err)
		}
	} else if cfg.DB != nil {
		auditSink = newPostgresSink(cfg.DB)
	}
	audit := newAuditLog(300, auditSink)

	h := NewHandler(status, reloader, audit, cfg.Version)
	h = wrapWithAudit(h, audit)
	h = wrapWithAuth(h, cfg.Tokens, cfg.JWTSecret)
	h = wrapWithCORS(h)
	h = metrics.InstrumentHandler(h)

	return &Service{addr: cfg.Addr, handler: h, log: log}
}

var _ system.Service = (*Service)(nil)

// Name identifies this component to the system manager.
func (s *Service) Name() string { return "httpapi" }

// Descriptor advertises this component's placement.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "httpapi", Domain: "control-surface", Layer: core.LayerSession}
}

// Start begins serving HTTP on s.addr.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// wrapWithCORS allows cross-origin requests from a local dashboard and
// short-circuits preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithAudit records every request's outcome to the audit log.
func wrapWithAudit(next http.Handler, audit *auditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		audit.add(entry{
			Time:       time.Now(),
			User:       userFromCtx(r.Context()),
			Role:       roleFromCtx(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
