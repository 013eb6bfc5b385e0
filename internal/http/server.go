// Package http exposes the recurring transaction engine as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/middleware/ratelimit"
	"recurrent/internal/middleware/security"
	"recurrent/internal/middleware/trace"
	"recurrent/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether the backing store can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server. Engine is required.
type Options struct {
	Engine   *services.Engine
	Store    Pinger
	Location *time.Location
	Now      func() time.Time
	Logger   *log.Logger
	// RateLimitPerMinute caps writes per client IP. Zero disables the limiter.
	RateLimitPerMinute int
}

// Server serves the API over an embedded http.Server.
type Server struct {
	http.Server

	engine  *services.Engine
	store   Pinger
	loc     *time.Location
	now     func() time.Time
	logger  *log.Logger
	limiter *ratelimit.Limiter
	started time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		engine:  opts.Engine,
		store:   opts.Store,
		loc:     opts.Location,
		now:     opts.Now,
		logger:  opts.Logger.WithComponent(log.ComponentHTTP),
		started: time.Now(),
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB
	}
	return s
}

func (s *Server) routes() http.Handler {
	ips := security.NewIPExtractor()
	tracer := trace.NewMiddleware(s.logger, ips.ExtractClientIP)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	r := chi.NewRouter()
	r.Use(tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(headers.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("route not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(ips.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
				ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
			}))
		}
		r.Use(middleware.AllowContentType("application/json"))

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Post("/{kind}", s.handleCreateTransaction)
			r.Put("/{kind}/{id}", s.handleUpdateTransaction)
			r.Delete("/{kind}/{id}", s.handleDeleteTransaction)
		})

		r.Route("/recurring", func(r chi.Router) {
			r.Get("/", s.handleListRecurring)
			r.Post("/generate", s.handleGenerate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRecurring)
				r.Patch("/", s.handleEditRecurring)
				r.Delete("/", s.handleDeleteRecurring)
				r.Get("/upcoming", s.handleUpcoming)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/stop", s.handleStop)
				r.Post("/skip", s.handleSkip)
			})
		})
	})

	return r
}

// Shutdown stops accepting requests, drains in-flight ones and releases the
// rate limiter. Subsequent calls return nil.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// today is the current calendar day in the API's location.
func (s *Server) today() core.Day {
	return core.NormalizeIn(s.now(), s.loc)
}
