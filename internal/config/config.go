package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"

	SessionStoreDB    = "db"
	SessionStoreRedis = "redis"

	PasswordHasherSHA256   = "sha256"
	PasswordHasherArgon2id = "argon2id"

	SignupPolicyLoginRequired = "login_required"
	SignupPolicyAutoLogin     = "auto_login"

	MailDriverLog   = "log"
	MailDriverSMTP  = "smtp"
	MailDriverRelay = "relay"
)

type Config struct {
	Env      string
	HTTPPort string

	DBDriver    string
	DatabaseURL string

	SessionSecret          string
	SessionSecretEphemeral bool
	SessionTTL             time.Duration
	SessionStore           string
	SessionCleanupInterval time.Duration
	CookieDomain           string
	CookieSecure           bool
	CookieSameSite         string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PasswordHasher            string
	AuthSignupPolicy          string
	AuthVerifyRequirePassword bool
	AuthRevealUnknownEmail    bool
	AuthClearCodeOnVerify     bool

	MailDriver          string
	MailFrom            string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	MailRelayURL        string
	MailRelayAPIKey     string
	MailDeliveryTimeout time.Duration

	PasswordResetTokenTTL time.Duration
	PasswordResetBaseURL  string

	AuthRateLimitPerMin   int
	APIRateLimitPerMin    int
	RateLimitRedisEnabled bool

	AuthAbuseProtectionEnabled bool
	AuthAbuseFreeAttempts      int
	AuthAbuseBaseDelay         time.Duration
	AuthAbuseMultiplier        float64
	AuthAbuseMaxDelay          time.Duration
	AuthAbuseResetWindow       time.Duration

	DiaryCacheEnabled bool
	DiaryCacheTTL     time.Duration

	AvatarStorageEnabled bool
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOBucket          string
	MinIOUseSSL          bool

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELLogLevel              string

	ReadinessProbeTimeout time.Duration
	ShutdownTimeout       time.Duration
}

func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	port := getEnv("HTTP_PORT", "")
	if port == "" {
		port = getEnv("PORT", "8080")
	}

	cfg := &Config{
		Env:      env,
		HTTPPort: port,

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", DBDriverSQLite)),
		DatabaseURL: getEnv("DATABASE_URL", "diary.db"),

		SessionSecret:  os.Getenv("SESSION_SECRET"),
		SessionStore:   strings.ToLower(getEnv("SESSION_STORE", SessionStoreDB)),
		CookieDomain:   os.Getenv("COOKIE_DOMAIN"),
		CookieSecure:   getEnvBool("COOKIE_SECURE", !isLocalLikeEnv(env)),
		CookieSameSite: strings.ToLower(getEnv("COOKIE_SAMESITE", "lax")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "diary"),

		PasswordHasher:            strings.ToLower(getEnv("PASSWORD_HASHER", PasswordHasherSHA256)),
		AuthSignupPolicy:          strings.ToLower(getEnv("AUTH_SIGNUP_POLICY", SignupPolicyLoginRequired)),
		AuthVerifyRequirePassword: getEnvBool("AUTH_VERIFY_REQUIRE_PASSWORD", true),
		AuthRevealUnknownEmail:    getEnvBool("AUTH_REVEAL_UNKNOWN_EMAIL", false),
		AuthClearCodeOnVerify:     getEnvBool("AUTH_CLEAR_CODE_ON_VERIFY", true),

		MailDriver:      strings.ToLower(getEnv("MAIL_DRIVER", MailDriverLog)),
		MailFrom:        getEnv("MAIL_FROM", "no-reply@localhost"),
		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        getEnvInt("SMTP_PORT", 587),
		SMTPUsername:    os.Getenv("SMTP_USERNAME"),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		MailRelayURL:    os.Getenv("MAIL_RELAY_URL"),
		MailRelayAPIKey: os.Getenv("MAIL_RELAY_API_KEY"),

		PasswordResetBaseURL: getEnv("PASSWORD_RESET_BASE_URL", "http://localhost:8080/password/reset"),

		AuthRateLimitPerMin:   getEnvInt("AUTH_RATE_LIMIT_PER_MIN", 30),
		APIRateLimitPerMin:    getEnvInt("API_RATE_LIMIT_PER_MIN", 300),
		RateLimitRedisEnabled: getEnvBool("RATE_LIMIT_REDIS_ENABLED", false),

		AuthAbuseProtectionEnabled: getEnvBool("AUTH_ABUSE_PROTECTION_ENABLED", false),
		AuthAbuseFreeAttempts:      getEnvInt("AUTH_ABUSE_FREE_ATTEMPTS", 5),
		AuthAbuseMultiplier:        getEnvFloat("AUTH_ABUSE_MULTIPLIER", 2.0),

		DiaryCacheEnabled: getEnvBool("DIARY_CACHE_ENABLED", false),

		AvatarStorageEnabled: getEnvBool("AVATAR_STORAGE_ENABLED", false),
		MinIOEndpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:       os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey:       os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:          getEnv("MINIO_BUCKET", "diary-avatars"),
		MinIOUseSSL:          getEnvBool("MINIO_USE_SSL", false),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "reading-diary"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", env),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", false),
		OTELLogLevel:             strings.ToLower(getEnv("OTEL_LOG_LEVEL", "info")),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"SESSION_TTL", "24h", &cfg.SessionTTL},
		{"SESSION_CLEANUP_INTERVAL", "15m", &cfg.SessionCleanupInterval},
		{"MAIL_DELIVERY_TIMEOUT", "5s", &cfg.MailDeliveryTimeout},
		{"PASSWORD_RESET_TOKEN_TTL", "15m", &cfg.PasswordResetTokenTTL},
		{"AUTH_ABUSE_BASE_DELAY", "2s", &cfg.AuthAbuseBaseDelay},
		{"AUTH_ABUSE_MAX_DELAY", "5m", &cfg.AuthAbuseMaxDelay},
		{"AUTH_ABUSE_RESET_WINDOW", "30m", &cfg.AuthAbuseResetWindow},
		{"DIARY_CACHE_TTL", "30s", &cfg.DiaryCacheTTL},
		{"OTEL_METRICS_EXPORT_INTERVAL", "10s", &cfg.OTELMetricsExportInterval},
		{"READINESS_PROBE_TIMEOUT", "1s", &cfg.ReadinessProbeTimeout},
		{"SHUTDOWN_TIMEOUT", "20s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if cfg.SessionSecret == "" && isLocalLikeEnv(env) {
		secret, err := randomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		cfg.SessionSecret = secret
		cfg.SessionSecretEphemeral = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	switch c.DBDriver {
	case DBDriverSQLite, DBDriverPostgres:
	default:
		errs = append(errs, "DB_DRIVER must be one of sqlite, postgres")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, "SESSION_SECRET must be at least 32 chars")
	}
	if c.CookieSameSite != "lax" && c.CookieSameSite != "strict" && c.CookieSameSite != "none" {
		errs = append(errs, "COOKIE_SAMESITE must be one of lax, strict, none")
	}
	if c.CookieSameSite == "none" && !c.CookieSecure {
		errs = append(errs, "COOKIE_SAMESITE=none requires COOKIE_SECURE=true")
	}
	if !isLocalLikeEnv(c.Env) {
		if !c.CookieSecure {
			errs = append(errs, "COOKIE_SECURE must be true outside local environments")
		}
		if c.SessionSecretEphemeral {
			errs = append(errs, "SESSION_SECRET must be set explicitly outside local environments")
		}
	}
	if c.SessionTTL <= 0 || c.SessionTTL > 30*24*time.Hour {
		errs = append(errs, "SESSION_TTL must be between 1s and 30d")
	}
	switch c.SessionStore {
	case SessionStoreDB, SessionStoreRedis:
	default:
		errs = append(errs, "SESSION_STORE must be one of db, redis")
	}
	if c.SessionCleanupInterval <= 0 {
		errs = append(errs, "SESSION_CLEANUP_INTERVAL must be > 0")
	}
	switch c.PasswordHasher {
	case PasswordHasherSHA256, PasswordHasherArgon2id:
	default:
		errs = append(errs, "PASSWORD_HASHER must be one of sha256, argon2id")
	}
	switch c.AuthSignupPolicy {
	case SignupPolicyLoginRequired, SignupPolicyAutoLogin:
	default:
		errs = append(errs, "AUTH_SIGNUP_POLICY must be one of login_required, auto_login")
	}
	switch c.MailDriver {
	case MailDriverLog, MailDriverSMTP, MailDriverRelay:
	default:
		errs = append(errs, "MAIL_DRIVER must be one of log, smtp, relay")
	}
	if c.MailDeliveryTimeout <= 0 || c.MailDeliveryTimeout > time.Minute {
		errs = append(errs, "MAIL_DELIVERY_TIMEOUT must be between 1ms and 1m")
	}
	if c.PasswordResetTokenTTL <= 0 || c.PasswordResetTokenTTL > 24*time.Hour {
		errs = append(errs, "PASSWORD_RESET_TOKEN_TTL must be between 1s and 24h")
	}
	if c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.AvatarStorageEnabled && (c.MinIOAccessKey == "" || c.MinIOSecretKey == "") {
		errs = append(errs, "MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when AVATAR_STORAGE_ENABLED=true")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// UsesRedis reports whether any component is configured against redis.
func (c *Config) UsesRedis() bool {
	return c.SessionStore == SessionStoreRedis || c.RateLimitRedisEnabled
}

func isLocalLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
