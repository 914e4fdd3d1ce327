package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nawapolsungjun/borrow-it/db"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/session"
	"github.com/nawapolsungjun/borrow-it/store"
	"github.com/nawapolsungjun/borrow-it/token"
)

// 简化别名，便于 handlers 调用
type Ctx = gin.Context
type H = gin.H

// App 聚合各依赖
type App struct {
	Router *gin.Engine
	DB     *gorm.DB // nil when running on an in-memory store
	RDB    *redis.Client
	WA     *webauthn.WebAuthn
	Store  store.Store
	Tokens *token.Manager
	Config Config

	appSess *session.AppSessionStore
	waSess  *session.Store
	limiter *FixedWindowLimiter
}

// Config 从环境变量读取
type Config struct {
	Port string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	RedisAddr string
	RedisPwd  string

	WebOrigin string
	RPID      string
	RPOrigins []string

	JWTSecret   string
	TokenTTL    time.Duration
	WebAuthnTTL time.Duration

	LoginRateLimit  int
	LoginRateWindow time.Duration

	AdminUsername string
	AdminPassword string

	LogLevel string
}

// SecureCookies is true when the site is served over TLS.
func (c Config) SecureCookies() bool { return strings.HasPrefix(c.WebOrigin, "https://") }

func (c Config) DSN() string {
	return db.DSN(c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func (a *App) AppSessions() *session.AppSessionStore { return a.appSess }
func (a *App) Ceremonies() *session.Store            { return a.waSess }
func (a *App) LoginLimiter() *FixedWindowLimiter     { return a.limiter }

// MustNew connects Postgres and Redis and builds the app, exiting on failure.
func MustNew(cfg Config) *App {
	// --- DB: Postgres (ConnectDB also migrates) ---
	dbConn, err := db.ConnectDB(cfg.DSN())
	if err != nil {
		logger.Log.Fatalw("connect db", "err", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Fatalw("redis", "addr", cfg.RedisAddr, "err", err)
	}

	a, err := New(cfg, db.NewRepo(dbConn), rdb)
	if err != nil {
		logger.Log.Fatalw("init app", "err", err)
	}
	a.DB = dbConn
	return a
}

// New wires everything above the storage and Redis connections.
func New(cfg Config, st store.Store, rdb *redis.Client) (*App, error) {
	tokens, err := token.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	// --- WebAuthn RP ---
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "borrow-it",
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	limiter, err := NewFixedWindowLimiter(rdb, "borrowit:ratelimit:login", cfg.LoginRateLimit, cfg.LoginRateWindow)
	if err != nil {
		return nil, err
	}

	// --- Gin ---
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())
	useCORS(r, cfg.corsOrigins())

	return &App{
		Router:  r,
		RDB:     rdb,
		WA:      wa,
		Store:   st,
		Tokens:  tokens,
		Config:  cfg,
		appSess: session.NewAppSessionStore(rdb, cfg.TokenTTL),
		waSess:  session.NewStore(rdb, cfg.WebAuthnTTL),
		limiter: limiter,
	}, nil
}

func (a *App) Close() { _ = a.RDB.Close() }

// LoadConfig reads the environment. Only JWT_SECRET has no default.
func LoadConfig() (Config, error) {
	get := func(k, def string) string {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			return def
		}
		return v
	}
	var errs []error
	seconds := func(k string, def int) time.Duration {
		n, err := strconv.Atoi(get(k, strconv.Itoa(def)))
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer", k))
			return time.Duration(def) * time.Second
		}
		return time.Duration(n) * time.Second
	}

	webOrigin := get("WEB_ORIGIN", "http://localhost:3000")
	var origins []string
	for _, o := range strings.Split(get("RP_ORIGINS", webOrigin), ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	limit, err := strconv.Atoi(get("LOGIN_RATE_LIMIT", "10"))
	if err != nil || limit <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_LIMIT must be a positive integer"))
	}

	cfg := Config{
		Port:            get("PORT", "3001"),
		DBHost:          get("DB_HOST", "localhost"),
		DBUser:          get("DB_USER", "postgres"),
		DBPassword:      os.Getenv("DB_PASSWORD"),
		DBName:          get("DB_NAME", "borrowit"),
		DBPort:          get("DB_PORT", "5432"),
		DBSSLMode:       get("DB_SSLMODE", "disable"),
		RedisAddr:       get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:        os.Getenv("REDIS_PASSWORD"),
		WebOrigin:       webOrigin,
		RPID:            get("RP_ID", "localhost"),
		RPOrigins:       origins,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenTTL:        seconds("TOKEN_TTL_SECONDS", 3600),
		WebAuthnTTL:     seconds("WEBAUTHN_TTL_SECONDS", 600),
		LoginRateLimit:  limit,
		LoginRateWindow: seconds("LOGIN_RATE_WINDOW_SECONDS", 60),
		AdminUsername:   strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		LogLevel:        get("LOG_LEVEL", "info"),
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if (cfg.AdminUsername == "") != (cfg.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together"))
	}
	return cfg, errors.Join(errs...)
}

func (c Config) corsOrigins() []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range append([]string{c.WebOrigin}, c.RPOrigins...) {
		if o != "" && !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}
