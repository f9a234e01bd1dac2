package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/config"
	"authgate.dev/internal/httpapi"
	"authgate.dev/internal/obs"
	"authgate.dev/internal/password"
	"authgate.dev/internal/store/pg"
	"authgate.dev/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Store selection: Postgres when a DSN is configured, in-memory
	// otherwise. The in-memory store is for local runs only.
	var (
		store auth.Store
		db    *sql.DB
	)
	if cfg.DatabaseDSN != "" {
		pgStore, err := pg.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		pgStore.DB().SetMaxOpenConns(cfg.DBMaxOpenConns)
		pgStore.DB().SetMaxIdleConns(cfg.DBMaxIdleConns)
		pgStore.DB().SetConnMaxLifetime(cfg.DBConnMaxLife)
		store = pgStore
		db = pgStore.DB()
		defer pgStore.Close()
	} else {
		obs.Warn("main", "no AUTHGATE_PG_DSN set, using in-memory store", nil)
		store = auth.NewMemStore()
	}

	hasher := password.NewHasher(password.Params{
		Memory:      cfg.Argon2Memory,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
	})
	codec, err := token.NewCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	svc, err := auth.NewService(store, hasher, codec,
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithResetTTL(cfg.ResetTTL),
		auth.WithLockoutPolicy(cfg.MaxLoginAttempts, cfg.LockoutWindow),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	rbac, err := auth.NewRBAC(store)
	if err != nil {
		log.Fatalf("rbac: %v", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	if err := rbac.EnsureBuiltins(startCtx); err != nil {
		log.Fatalf("seed permissions: %v", err)
	}
	cancelStart()

	// Scheduled token sweep, off the request path.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := svc.SweepExpired(ctx); err != nil {
			obs.Error("main", "token sweep failed", map[string]any{"error": err.Error()})
		}
	}); err != nil {
		log.Fatalf("sweep schedule %q: %v", cfg.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	api := httpapi.New(svc, rbac, httpapi.ReadyProbe{DB: db}, httpapi.Options{
		Version:       version,
		CORSOrigin:    cfg.CORSOrigin,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		RatePerSecond: cfg.RateLimitPerSecond,
		RateBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
