// Package api provides the HTTP API server for EcoTrack.
// It exposes the user's records and the footprint decision engines.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ecotrack/decision/advice"
	"ecotrack/decision/consumption"
	"ecotrack/decision/footprint"
	"ecotrack/decision/policy"
	"ecotrack/pkg/platform"
)

var (
	version   = "1.0.0"
	startTime = time.Now()
)

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	store      Store
	ledger     Ledger
	matcher    *consumption.Matcher
	footprint  *footprint.Engine
	policy     *policy.Engine
	advisor    *advice.Advisor
	limiter    *userLimiter
	logger     zerolog.Logger
	config     *Config
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
	CORSOrigins    []string

	// GridZone is the electricity zone footprints are computed for.
	GridZone string
	// AdviceRatePerMinute bounds advice requests per user.
	AdviceRatePerMinute int

	MetricsUser     string
	MetricsPassword string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:                8080,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        60 * time.Second,
		MaxRequestSize:      1 << 20, // 1MB
		CORSOrigins:         []string{"*"},
		GridZone:            "FR",
		AdviceRatePerMinute: 5,
	}
}

// Deps are the collaborators the server dispatches to. Ledger and Advisor
// are optional.
type Deps struct {
	Store     Store
	Ledger    Ledger
	Matcher   *consumption.Matcher
	Footprint *footprint.Engine
	Policy    *policy.Engine
	Advisor   *advice.Advisor
	Logger    zerolog.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Footprint == nil {
		deps.Footprint = footprint.NewEngine(nil)
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewEngine()
	}
	if deps.Advisor == nil {
		deps.Advisor = advice.NewAdvisor(nil, deps.Logger)
	}

	return &Server{
		store:     deps.Store,
		ledger:    deps.Ledger,
		matcher:   deps.Matcher,
		footprint: deps.Footprint,
		policy:    deps.Policy,
		advisor:   deps.Advisor,
		limiter:   newUserLimiter(config.AdviceRatePerMinute),
		logger:    platform.ComponentLogger(deps.Logger, "api"),
		config:    config,
	}
}

// Routes builds the HTTP handler
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	r.Use(metricsMiddleware)
	r.Use(middleware.RequestSize(s.config.MaxRequestSize))

	// Health endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.With(platform.BasicAuthMiddleware(s.config.MetricsUser, s.config.MetricsPassword)).
		Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/emission-factors", s.handleEmissionFactors)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(platform.BearerAuthMiddleware(s.resolveToken))

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/me", s.handleMe)

			r.Route("/vehicles", func(r chi.Router) {
				r.Get("/", s.handleListVehicles)
				r.Post("/", s.handleCreateVehicle)
				r.Get("/consumption-estimate", s.handleConsumptionEstimate)
				r.Get("/{id}", s.handleGetVehicle)
				r.Put("/{id}", s.handleUpdateVehicle)
				r.Delete("/{id}", s.handleDeleteVehicle)
			})

			r.Route("/trips", func(r chi.Router) {
				r.Get("/", s.handleListTrips)
				r.Post("/", s.handleCreateTrip)
				r.Get("/{id}", s.handleGetTrip)
				r.Put("/{id}", s.handleUpdateTrip)
				r.Delete("/{id}", s.handleDeleteTrip)
			})

			r.Route("/appliances", func(r chi.Router) {
				r.Get("/", s.handleListAppliances)
				r.Post("/", s.handleCreateAppliance)
				r.Delete("/{id}", s.handleDeleteAppliance)
			})

			r.Get("/housing", s.handleGetHousing)
			r.Put("/housing", s.handlePutHousing)

			r.Get("/products", s.handleListProducts)
			r.Get("/products/{id}", s.handleGetProduct)

			r.Route("/purchases", func(r chi.Router) {
				r.Get("/", s.handleListPurchases)
				r.Post("/", s.handleCreatePurchase)
				r.Delete("/{id}", s.handleDeletePurchase)
			})

			r.Get("/footprint", s.handleFootprint)
			r.Post("/footprint", s.handleEvaluateFootprint)
			r.Get("/footprint/monthly", s.handleMonthly)
			r.Post("/advice", s.handleAdvice)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info().Int("port", s.config.Port).Str("version", version).Msg("EcoTrack API server starting")
	return s.httpServer.ListenAndServe()
}

// StartWithGracefulShutdown starts server with graceful shutdown handling
func (s *Server) StartWithGracefulShutdown() error {
	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.Start(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-quit:
		s.logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("remote", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		// Check if origin is allowed
		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	ready := true

	// Check database connectivity
	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = "unavailable"
		ready = false
	}
	if s.ledger != nil {
		checks["ledger"] = "ok"
		if err := s.ledger.Ping(ctx); err != nil {
			checks["ledger"] = "unavailable"
			ready = false
		}
	}
	if s.matcher != nil {
		checks["consumption_dataset"] = "ok"
		if err := s.matcher.Warm(ctx); err != nil {
			checks["consumption_dataset"] = "unavailable"
			ready = false
		}
	}

	status := http.StatusOK
	checks["status"] = "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		checks["status"] = "not ready"
	}
	jsonResponse(w, status, checks)
}
