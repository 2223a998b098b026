// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/anac-tg/incident-desk/internal/alerts"
	"github.com/anac-tg/incident-desk/internal/alerts/email"
	"github.com/anac-tg/incident-desk/internal/alerts/redisqueue"
	"github.com/anac-tg/incident-desk/internal/analysis"
	"github.com/anac-tg/incident-desk/internal/config"
	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/identity"
	"github.com/anac-tg/incident-desk/internal/identity/jwt"
	identitypostgres "github.com/anac-tg/incident-desk/internal/identity/postgres"
	"github.com/anac-tg/incident-desk/internal/incidents"
	incidentspostgres "github.com/anac-tg/incident-desk/internal/incidents/postgres"
	"github.com/anac-tg/incident-desk/internal/photos"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"github.com/anac-tg/incident-desk/internal/pkg/httputil"
	"github.com/anac-tg/incident-desk/internal/pkg/metrics"
	"github.com/anac-tg/incident-desk/internal/pkg/postgres"
	"github.com/anac-tg/incident-desk/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	workerCancel  context.CancelFunc
	alertWorker   *alerts.Worker
	alertQueue    alerts.Queue
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.MigrationsDir, cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	registerDBCollector(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())

	app := &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		workerCancel: workerCancel,
	}

	router, err := app.setupRouter(workerCtx)
	if err != nil {
		workerCancel()
		app.closeClients()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// registerDBCollector exports pool stats. A collector left over from a
// previous App in the same process is replaced.
func registerDBCollector(db *pgxpool.Pool) {
	collector := metrics.NewDBPoolCollector(db)
	if err := prometheus.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			prometheus.Unregister(are.ExistingCollector)
			prometheus.MustRegister(collector)
			return
		}
		slog.Warn("failed to register db pool collector", "error", err)
	}
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown drains the alert worker, stops both servers and closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var errs []error

	if a.alertWorker != nil {
		if err := a.alertWorker.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop alert worker: %w", err))
		}
	}
	a.workerCancel()

	var wg sync.WaitGroup
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeClients()

	return errors.Join(errs...)
}

func (a *App) closeClients() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	a.db.Close()
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// AlertQueue returns the alert queue, or nil when alerts are disabled.
// Used in tests to observe escalations.
func (a *App) AlertQueue() alerts.Queue {
	return a.alertQueue
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	requestTimeout := a.config.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	store, err := newPhotoStore(ctx, a.config.Storage)
	if err != nil {
		return nil, fmt.Errorf("create photo store: %w", err)
	}

	analyzer := analysis.NewClient(analysis.Config{
		APIURL:    a.config.Analysis.APIURL,
		APIKey:    a.config.Analysis.APIKey,
		Model:     a.config.Analysis.Model,
		Timeout:   a.config.Analysis.Timeout,
		RateLimit: a.config.Analysis.RateLimit,
		Burst:     a.config.Analysis.Burst,
	})

	hook, err := a.setupAlerts(ctx)
	if err != nil {
		return nil, err
	}

	identityRepo := identitypostgres.NewRepository(a.db)
	jwtAuth := jwt.NewAuthenticator(jwt.Config{
		SecretKey:            a.config.JWT.SecretKey,
		AccessTokenDuration:  a.config.JWT.AccessTokenDuration,
		RefreshTokenDuration: a.config.JWT.RefreshTokenDuration,
	}, identityRepo)
	identityService := identity.NewService(identityRepo, jwtAuth)
	identityHandler := identity.NewHandler(identityService, identity.CookieSettings{
		Secure:               a.config.Cookie.Secure,
		Domain:               a.config.Cookie.Domain,
		AccessTokenDuration:  a.config.JWT.AccessTokenDuration,
		RefreshTokenDuration: a.config.JWT.RefreshTokenDuration,
	})
	if a.config.RateLimit.LoginPerMinute > 0 {
		loginLimiter := httputil.NewRateLimiter(a.config.RateLimit.LoginPerMinute, a.config.RateLimit.LoginBurst)
		identityHandler.WithLoginLimiter(loginLimiter.Middleware)
	}

	if err := identityService.EnsureAdmin(ctx, identity.AdminSeed{
		Email:     a.config.Admin.Email,
		Password:  a.config.Admin.Password,
		FirstName: a.config.Admin.FirstName,
		LastName:  a.config.Admin.LastName,
	}); err != nil {
		return nil, err
	}

	incidentsRepo := incidentspostgres.NewRepository(a.db)
	incidentsService := incidents.NewService(incidentsRepo, identityService, store, hook)
	triage := incidents.NewTriage(incidentsRepo, store, analyzer, hook)
	incidentsHandler := incidents.NewHandler(incidentsService, triage, store, a.config.Incidents.MaxPhotoBytes)

	r.Route("/api/v1", func(r chi.Router) {
		identityHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))

			identityHandler.RegisterProtectedRoutes(r)
			incidentsHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleOperator))
				identityHandler.RegisterOperatorRoutes(r)
				incidentsHandler.RegisterOperatorRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				identityHandler.RegisterAdminRoutes(r)
				incidentsHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r, nil
}

// setupAlerts builds the escalation pipeline and starts its worker.
// It returns nil when alerts are disabled.
func (a *App) setupAlerts(ctx context.Context) (incidents.AlertHook, error) {
	cfg := a.config.Alerts

	slog.Info("alerts configured",
		"enabled", cfg.Enabled,
		"queue_backend", cfg.Queue.Backend,
		"email_enabled", a.config.Email.Enabled,
	)

	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Recipient == "" {
		slog.Warn("alerts.recipient is empty: escalation e-mails will fail")
	}

	switch cfg.Queue.Backend {
	case "redis":
		client, err := redisqueue.Connect(ctx, redisqueue.Config{
			Addr:     a.config.Redis.Addr,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		a.alertQueue = redisqueue.New(client, cfg.Queue.RedisKey)
	default:
		a.alertQueue = alerts.NewMemoryQueue(cfg.Queue.Size)
	}

	sender, err := email.NewSender(email.Config{
		Enabled:      a.config.Email.Enabled,
		SMTPHost:     a.config.Email.SMTPHost,
		SMTPPort:     a.config.Email.SMTPPort,
		SMTPUser:     a.config.Email.SMTPUser,
		SMTPPassword: a.config.Email.SMTPPassword,
		FromAddress:  a.config.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !a.config.Email.Enabled {
		slog.Warn("email sender is disabled: escalation alerts will not be delivered")
	}

	loc := time.UTC
	if cfg.TimeZone != "" {
		if loc, err = time.LoadLocation(cfg.TimeZone); err != nil {
			return nil, fmt.Errorf("load alert time zone: %w", err)
		}
	}
	renderer, err := alerts.NewRenderer(loc)
	if err != nil {
		return nil, fmt.Errorf("create alert renderer: %w", err)
	}

	dispatcher := alerts.NewDispatcher(sender, renderer, cfg.Recipient)

	a.alertWorker = alerts.NewWorker(alerts.WorkerConfig{
		NumWorkers:        cfg.Worker.NumWorkers,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		SendTimeout:       cfg.Worker.SendTimeout,
	}, a.alertQueue, alerts.ForDispatcher(dispatcher))
	a.alertWorker.Start(ctx)

	return alerts.NewEnqueuer(a.alertQueue), nil
}

func newPhotoStore(ctx context.Context, cfg config.StorageConfig) (photos.Store, error) {
	switch cfg.Backend {
	case "minio":
		return photos.NewMinioStore(ctx, photos.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
	default:
		return photos.NewLocalStore(cfg.Local.Root)
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Alert queue unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", "incident-desk")
}
