package server

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/databench/databench/pkg/analysis"
)

// Server ties the dispatch layer to HTTP: the analyses index page, the
// per-analysis pages, the WebSocket endpoint, and the metrics endpoint.
type Server struct {
	config    *ServerConfig
	catalog   *analysis.Catalog
	sessions  *SessionManager
	Dispatch  *Dispatcher
	transport *WebSocketTransport

	router     chi.Router
	httpServer *http.Server

	logger *slog.Logger
}

// New creates a server over a sealed catalog. Middleware may be added via
// Dispatch.Use before Run.
func New(config *ServerConfig, catalog *analysis.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()

	sessions := NewSessionManager(config.MaxSessions, logger)
	dispatcher := NewDispatcher(catalog, sessions, logger)
	transport := NewWebSocketTransport(dispatcher, config, logger)

	s := &Server{
		config:    config,
		catalog:   catalog,
		sessions:  sessions,
		Dispatch:  dispatcher,
		transport: transport,
		logger:    logger.With("component", "server"),
	}

	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", transport.ServeHTTP)
	r.Get("/{analysis}/", s.handleAnalysisPage)
	s.router = r

	return s
}

// ServeHTTP implements http.Handler for mounting in external routers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts the server and blocks until a shutdown signal or listen
// error.
func (s *Server) Run() error {
	if !s.catalog.Sealed() {
		s.catalog.Seal()
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			"address", s.config.Address,
			"analyses", s.catalog.Len())
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server: connections first, then
// sessions, then the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.transport.CloseAll()
	s.sessions.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Transport returns the WebSocket transport.
func (s *Server) Transport() *WebSocketTransport {
	return s.transport
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Databench</title></head>
<body>
<h1>Databench</h1>
{{if .Description}}<p>{{.Description}}</p>{{end}}
{{if .Author}}<p><em>{{.Author}}{{if .Version}} v{{.Version}}{{end}}</em></p>{{end}}
<ul>
{{range .Analyses}}
  <li>
    <a href="/{{.Name}}/">{{.Name}}</a>
    {{if .Thumbnail}}<img src="{{.Thumbnail}}" alt="{{.Name}}" width="100">{{end}}
    <p>{{.Description}}</p>
  </li>
{{end}}
</ul>
</body>
</html>
`))

var analysisTemplate = template.Must(template.New("analysis").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}} - Databench</title></head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Description}}</p>
<p><a href="/">back to index</a></p>
</body>
</html>
`))

// handleIndex renders the list-of-analyses overview page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Analyses    []*analysis.Analysis
		Description string
		Author      string
		Version     string
	}{
		Analyses:    s.catalog.ListAll(),
		Description: s.catalog.Description,
		Author:      s.catalog.Author,
		Version:     s.catalog.Version,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("index render failed", "error", err)
	}
}

// handleAnalysisPage renders a minimal page for one analysis.
func (s *Server) handleAnalysisPage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "analysis")
	a, err := s.catalog.Lookup(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := analysisTemplate.Execute(w, a); err != nil {
		s.logger.Error("analysis page render failed", "analysis", name, "error", err)
	}
}

// handleHealthz reports liveness and the active session count.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}
