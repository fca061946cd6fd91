package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bustrack/internal/apperr"
	"bustrack/internal/attendance"
	"bustrack/internal/auth"
	"bustrack/internal/config"
	"bustrack/internal/entity"
	"bustrack/internal/httpapi"
	"bustrack/internal/httpmiddleware"
	"bustrack/internal/location"
	"bustrack/internal/logger"
	"bustrack/internal/queue"
	"bustrack/internal/retention"
	"bustrack/internal/store"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	backend, err := store.Open(ctx, cfg.StoreBackend, store.Options{
		DatabaseURL:   cfg.DatabaseURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			zl.Warn("store close failed", zap.Error(err))
		}
	}()

	stores := entity.NewStores(backend)
	if err := stores.Migrate(ctx); err != nil {
		return err
	}
	authSvc := auth.NewService(stores, auth.Settings{
		Issuer:      cfg.JWTIssuer,
		SigningKey:  cfg.JWTSigningKey,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		EmailDomain: cfg.EmailDomain,
	}, zl.Named("auth"))
	if err := seedFaculty(ctx, cfg, stores, authSvc, zl); err != nil {
		return err
	}

	// QUEUE_BACKEND=memory runs without redis: in-process queue and rate limiter.
	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	}
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	var limiter httpmiddleware.Limiter
	if redisClient != nil {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, zl.Named("queue"))
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin, time.Minute)
	} else {
		q = queue.NewInMemory(1024)
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	locations := location.NewService(stores.Pings, q, cfg.RetentionCeiling, zl.Named("location"))

	// An in-process queue has no other consumer, so the retention worker runs here.
	if _, inProcess := q.(*queue.InMemory); inProcess {
		w := retention.NewWorker(locations, q, retention.Options{
			Interval:     cfg.PruneInterval,
			Timeout:      cfg.PruneTimeout,
			EventsPerRun: cfg.PruneEvery,
		}, zl.Named("retention"))
		go func() {
			if err := w.Run(ctx); err != nil {
				zl.Error("retention worker stopped", zap.Error(err))
			}
		}()
	}

	checks := map[string]httpapi.HealthCheck{"store": backend.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			if !redisClient.Healthy(ctx) {
				return errors.New("redis ping failed")
			}
			return nil
		}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Stores:      stores,
		Locations:   locations,
		Attendance:  attendance.NewService(stores, loc, zl.Named("attendance")),
		Auth:        authSvc,
		SigningKey:  cfg.JWTSigningKey,
		Issuer:      cfg.JWTIssuer,
		Version:     cfg.Version,
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Checks:      checks,
		Log:         zl.Named("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced shutdown", zap.Error(err))
	}
	zl.Info("server exited")
	return nil
}

// seedFaculty creates the first faculty member, and its login when a password is set, so
// further faculty accounts can be created through the API.
func seedFaculty(ctx context.Context, cfg config.App, stores *entity.Stores, authSvc *auth.Service, zl *zap.Logger) error {
	if cfg.SeedFacultyEmail == "" {
		return nil
	}
	f := entity.Faculty{
		Name:       cfg.SeedFacultyName,
		EmployeeID: cfg.SeedFacultyEmployee,
		Barcode:    cfg.SeedFacultyBarcode,
		Email:      cfg.SeedFacultyEmail,
	}
	created, err := stores.Faculty.Ensure(ctx, &f)
	if err != nil {
		return err
	}
	if created {
		zl.Info("seeded faculty", zap.String("id", f.ID), zap.String("email", f.Email))
	}
	if cfg.SeedFacultyPassword == "" {
		return nil
	}
	acc, err := authSvc.CreateFacultyAccount(ctx, cfg.SeedFacultyEmail, cfg.SeedFacultyPassword)
	switch {
	case errors.Is(err, apperr.ErrDuplicate):
		return nil
	case err != nil:
		return err
	}
	zl.Info("seeded faculty account", zap.String("user", acc.ID), zap.String("email", acc.Email))
	return nil
}
