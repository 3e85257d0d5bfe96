// Package web implements the HTTP server of the trading journal: broker login flow,
// token verification, portfolio/orders proxy and journal API
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	cache "github.com/go-pkgz/expirable-cache/v3"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/rs/cors"

	"github.com/umputun/tradejournal/app/broker"
	"github.com/umputun/tradejournal/app/web/persistence"
)

//go:generate moq -out mocks/broker.go -pkg mocks -skip-ensure -fmt goimports . Broker

// Server represents the web server
type Server struct {
	store             Persistence
	broker            Broker
	notifier          Notifier
	clientCode        string
	password          string
	frontendURL       string
	corsOrigins       []string
	adminPasswordHash string // bcrypt hash for admin basic auth, empty disables admin routes
	location          *time.Location
	stateTTL          time.Duration
	loginRate         float64 // login attempts per second per ip
	version           string

	statesMu sync.Mutex // makes state check-and-invalidate atomic
	states   cache.Cache[string, time.Time]

	now func() time.Time
}

// Broker defines SmartAPI operations used by the server
type Broker interface {
	PublisherLoginURL(state string) string
	LoginByPassword(ctx context.Context, req broker.LoginRequest) (broker.Tokens, error)
	GenerateTokens(ctx context.Context, jwt, refreshToken string) (broker.Tokens, error)
	Profile(ctx context.Context, jwt string) (broker.Profile, error)
	Holdings(ctx context.Context, jwt string) ([]broker.Holding, error)
	OrderBook(ctx context.Context, jwt string) ([]broker.Order, error)
	Logout(ctx context.Context, jwt, clientCode string) error
}

// Persistence defines storage operations for sessions and journal
type Persistence interface {
	SaveSession(ctx context.Context, sess persistence.Session) error
	GetSession(ctx context.Context, clientCode string) (persistence.Session, error)
	DeleteSession(ctx context.Context, clientCode string) error
	ListSessions(ctx context.Context) ([]persistence.Session, error)

	CreateEntry(ctx context.Context, e persistence.JournalEntry) error
	UpdateEntry(ctx context.Context, e persistence.JournalEntry) error
	GetEntry(ctx context.Context, clientCode, id string) (persistence.JournalEntry, error)
	DeleteEntry(ctx context.Context, clientCode, id string) error
	ListEntries(ctx context.Context, f persistence.JournalFilter) ([]persistence.JournalEntry, error)
	JournalStats(ctx context.Context, clientCode string) (persistence.JournalStats, error)
}

// Notifier sends short event messages, implementation should not block
type Notifier interface {
	Event(format string, args ...any)
}

// Config holds server configuration
type Config struct {
	Store             Persistence
	Broker            Broker
	Notifier          Notifier       // optional
	ClientCode        string         // broker client code sessions are stored for
	Password          string         // broker password (PIN) for direct login
	FrontendURL       string         // dashboard URL the callback redirects to
	CORSOrigins       []string       // allowed origins, defaults to the frontend URL origin
	AdminPasswordHash string         // bcrypt hash for admin basic auth (empty to disable)
	Location          *time.Location // time zone of the vendor's daily token reset
	StateTTL          time.Duration  // how long a login state is accepted, defaults to 10m
	LoginRate         float64        // login attempts per second per ip, defaults to 1
	Version           string
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("web server initialization failed: store is required")
	}
	if cfg.Broker == nil {
		return nil, errors.New("web server initialization failed: broker is required")
	}
	if cfg.ClientCode == "" {
		return nil, errors.New("web server initialization failed: client code is required")
	}

	stateTTL := cfg.StateTTL
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	loginRate := cfg.LoginRate
	if loginRate <= 0 {
		loginRate = 1
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	corsOrigins := make([]string, 0, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	if len(corsOrigins) == 0 && cfg.FrontendURL != "" {
		corsOrigins = []string{originOf(cfg.FrontendURL)}
	}

	return &Server{
		store:             cfg.Store,
		broker:            cfg.Broker,
		notifier:          cfg.Notifier,
		clientCode:        cfg.ClientCode,
		password:          cfg.Password,
		frontendURL:       cfg.FrontendURL,
		corsOrigins:       corsOrigins,
		adminPasswordHash: cfg.AdminPasswordHash,
		location:          loc,
		stateTTL:          stateTTL,
		loginRate:         loginRate,
		version:           cfg.Version,
		states:            cache.NewCache[string, time.Time]().WithTTL(stateTTL).WithMaxKeys(10000),
		now:               time.Now,
	}, nil
}

// Run starts the web server
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("tradejournal", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		s.corsHandler(),
	)

	// request logging is not set for /auth, vendor redirects carry tokens in query
	reqLogger := logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler

	loginLimiter := tollbooth.NewLimiter(s.loginRate, nil)
	loginLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	loginLimiter.SetMessage(`{"error":"too many login attempts"}`)
	loginLimiter.SetMessageContentType("application/json")

	// each login start adds a pending state, limited looser than logins
	startLimiter := tollbooth.NewLimiter(s.loginRate*10, nil)
	startLimiter.SetBurst(10)
	startLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	startLimiter.SetMessage(`{"error":"too many login attempts"}`)
	startLimiter.SetMessageContentType("application/json")

	// broker login flow, not protected by bearer auth
	router.Mount("/auth").Route(func(auth *routegroup.Bundle) {
		auth.Use(rest.NoCache)
		auth.With(tollbooth.HTTPMiddleware(startLimiter)).HandleFunc("GET /angel-one", s.handleAuthStart)
		auth.With(tollbooth.HTTPMiddleware(startLimiter)).HandleFunc("GET /login", s.handleAuthStart)
		auth.With(tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("GET /callback", s.handleCallback)
		auth.With(tollbooth.HTTPMiddleware(loginLimiter)).HandleFunc("POST /login", s.handleDirectLogin)
		auth.HandleFunc("GET /verify", s.handleVerify)
		auth.With(s.bearerAuth).HandleFunc("POST /refresh", s.handleRefresh)
		auth.With(s.bearerAuth).HandleFunc("POST /logout", s.handleLogout)
	})

	// JSON API for the dashboard, all routes need a valid broker token
	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(reqLogger, rest.NoCache, s.bearerAuth)
		api.HandleFunc("GET /profile", s.handleProfile)
		api.HandleFunc("GET /portfolio", s.handlePortfolio)
		api.HandleFunc("GET /orders", s.handleOrders)
		api.HandleFunc("GET /dashboard", s.handleDashboard)

		api.HandleFunc("GET /journal", s.handleJournalList)
		api.HandleFunc("POST /journal", s.handleJournalCreate)
		api.HandleFunc("GET /journal/stats", s.handleJournalStats)
		api.HandleFunc("GET /journal/schema", s.handleJournalSchema)
		api.HandleFunc("GET /journal/{id}", s.handleJournalGet)
		api.HandleFunc("PUT /journal/{id}", s.handleJournalUpdate)
		api.HandleFunc("DELETE /journal/{id}", s.handleJournalDelete)
	})

	if s.adminPasswordHash != "" {
		log.Printf("[INFO] admin routes enabled")
		router.Mount("/admin").Route(func(admin *routegroup.Bundle) {
			admin.Use(reqLogger, rest.NoCache, s.adminAuth)
			admin.HandleFunc("GET /sessions", s.handleAdminSessions)
		})
	}

	return router
}

// corsHandler allows the dashboard served from another origin to call the API with bearer tokens.
// No cors headers are sent if there are no allowed origins.
func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.corsOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler
}

// originOf returns scheme://host part of the url
func originOf(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimSuffix(u, "/")
	}
	return parsed.Scheme + "://" + parsed.Host
}

// maskToken hides everything but the first 4 characters
func maskToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:4] + "***"
}
