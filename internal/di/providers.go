package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/reading-diary/internal/app"
	"github.com/sandeepkv93/reading-diary/internal/config"
	"github.com/sandeepkv93/reading-diary/internal/database"
	"github.com/sandeepkv93/reading-diary/internal/health"
	"github.com/sandeepkv93/reading-diary/internal/http/handler"
	"github.com/sandeepkv93/reading-diary/internal/http/middleware"
	"github.com/sandeepkv93/reading-diary/internal/http/router"
	"github.com/sandeepkv93/reading-diary/internal/http/view"
	"github.com/sandeepkv93/reading-diary/internal/mail"
	"github.com/sandeepkv93/reading-diary/internal/observability"
	"github.com/sandeepkv93/reading-diary/internal/repository"
	"github.com/sandeepkv93/reading-diary/internal/security"
	"github.com/sandeepkv93/reading-diary/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewStoryRepository,
	repository.NewDiaryEntryRepository,
	repository.NewPasswordResetTokenRepository,
	provideSessionStore,
)

var SecuritySet = wire.NewSet(
	providePasswordHasher,
	provideTokenSigner,
	provideCookieManager,
)

var ServiceSet = wire.NewSet(
	mail.NewSender,
	provideCodeIssuer,
	service.NewDeliveryDispatcher,
	provideSessionGate,
	service.NewAuthAbuseGuard,
	service.NewDiaryPageCache,
	service.NewStorageService,
	service.NewAuthService,
	service.NewDiaryService,
	service.NewUserService,
	wire.Bind(new(service.CodeDelivery), new(*service.DeliveryDispatcher)),
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
	wire.Bind(new(service.DiaryServiceInterface), new(*service.DiaryService)),
	wire.Bind(new(service.UserServiceInterface), new(*service.UserService)),
)

var HTTPSet = wire.NewSet(
	view.New,
	provideAuthHandler,
	handler.NewDiaryHandler,
	provideUserHandler,
	provideRateLimiters,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

type MigrationRunner struct {
	DB *gorm.DB
}

func NewMigrationRunner(db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{DB: db}
}

func (m *MigrationRunner) Pending(ctx context.Context) ([]string, error) {
	return database.PendingTables(m.DB.WithContext(ctx))
}

func (m *MigrationRunner) Run(ctx context.Context) error {
	return database.Migrate(m.DB.WithContext(ctx))
}

// SessionPruner backs the sessions tool. It always targets the db table; a
// redis store expires its keys on its own.
type SessionPruner struct {
	DB    *gorm.DB
	Gate  *service.SessionGate
	Store string
}

func (p *SessionPruner) Prune(ctx context.Context) (int64, error) {
	return p.Gate.PruneExpired(ctx)
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.UsesRedis() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

func provideSessionStore(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient) repository.SessionStore {
	if cfg.SessionStore == config.SessionStoreRedis && redisClient != nil {
		return repository.NewRedisSessionStore(redisClient, cfg.RedisPrefix)
	}
	return repository.NewGormSessionStore(db)
}

func providePasswordHasher(cfg *config.Config) (security.PasswordHasher, error) {
	return security.NewPasswordHasher(cfg.PasswordHasher)
}

func provideTokenSigner(cfg *config.Config) *security.TokenSigner {
	return security.NewTokenSigner(cfg.SessionSecret)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure, cfg.CookieSameSite)
}

func provideCodeIssuer(users repository.UserRepository) *service.CodeIssuer {
	return service.NewCodeIssuer(users, service.RandomCodeGenerator{})
}

func provideSessionGate(cfg *config.Config, store repository.SessionStore) *service.SessionGate {
	return service.NewSessionGate(store, cfg.SessionTTL)
}

func provideAuthHandler(
	cfg *config.Config,
	authSvc service.AuthServiceInterface,
	views *view.Renderer,
	cookies *security.CookieManager,
	signer *security.TokenSigner,
) *handler.AuthHandler {
	return handler.NewAuthHandler(authSvc, views, cookies, signer, handler.AuthPolicy{
		SessionTTL:            cfg.SessionTTL,
		RevealUnknownEmail:    cfg.AuthRevealUnknownEmail,
		VerifyRequirePassword: cfg.AuthVerifyRequirePassword,
	})
}

func provideUserHandler(cfg *config.Config, userSvc service.UserServiceInterface, views *view.Renderer) *handler.UserHandler {
	return handler.NewUserHandler(userSvc, views, cfg.AvatarStorageEnabled)
}

type rateLimiters struct {
	global router.RateLimiterFunc
	auth   router.RateLimiterFunc
	write  router.RateLimiterFunc
}

// provideRateLimiters keeps windows in redis when enabled. The auth limiter
// fails closed; the others fail open.
func provideRateLimiters(cfg *config.Config, redisClient redis.UniversalClient) rateLimiters {
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		shared := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RedisPrefix+":rate_limit")
		return rateLimiters{
			global: middleware.NewDistributedRateLimiter(shared, cfg.APIRateLimitPerMin, time.Minute, middleware.FailOpen, "api").Middleware(),
			auth:   middleware.NewDistributedRateLimiter(shared, cfg.AuthRateLimitPerMin, time.Minute, middleware.FailClosed, "auth").Middleware(),
			write: middleware.NewDistributedRateLimiterWithKey(shared, cfg.AuthRateLimitPerMin, time.Minute,
				middleware.FailOpen, "write", middleware.UserOrIPKeyFunc).Middleware(),
		}
	}
	return rateLimiters{
		global: middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute, "api").Middleware(),
		auth:   middleware.NewRateLimiter(cfg.AuthRateLimitPerMin, time.Minute, "auth").Middleware(),
		write: middleware.NewDistributedRateLimiterWithKey(middleware.NewLocalFixedWindowLimiter(), cfg.AuthRateLimitPerMin,
			time.Minute, middleware.FailOpen, "write", middleware.UserOrIPKeyFunc).Middleware(),
	}
}

func provideRouterDependencies(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	diaryHandler *handler.DiaryHandler,
	userHandler *handler.UserHandler,
	gate *service.SessionGate,
	authSvc *service.AuthService,
	signer *security.TokenSigner,
	cookies *security.CookieManager,
	limiters rateLimiters,
	readiness *health.ProbeRunner,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:   authHandler,
		DiaryHandler:  diaryHandler,
		UserHandler:   userHandler,
		Sessions:      gate,
		Users:         authSvc,
		Signer:        signer,
		Cookies:       cookies,
		CSRFTTL:       cfg.SessionTTL,
		GlobalLimiter: limiters.global,
		AuthLimiter:   limiters.auth,
		WriteLimiter:  limiters.write,
		Readiness:     readiness,
		EnableOTel:    cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient, storage service.StorageService) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db), health.NewSchemaChecker(db)}
	if redisClient != nil {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	// Only a live MinIO backend can be probed; the disabled stub has nothing to reach.
	if prober, ok := storage.(health.BucketProber); ok {
		checkers = append(checkers, health.NewStorageChecker(prober))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, 0, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	gate *service.SessionGate,
	dispatcher *service.DeliveryDispatcher,
) *app.App {
	var pruner app.SessionPruner
	if gate != nil && cfg.SessionStore != config.SessionStoreRedis {
		pruner = gate
	}
	var delivery app.Closer
	if dispatcher != nil {
		delivery = dispatcher
	}
	return app.New(cfg, logger, server, runtime, db, redisClient, pruner, delivery)
}

func provideSessionPruner(cfg *config.Config, db *gorm.DB) *SessionPruner {
	gate := service.NewSessionGate(repository.NewGormSessionStore(db), cfg.SessionTTL)
	return &SessionPruner{DB: db, Gate: gate, Store: cfg.SessionStore}
}
