package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slimtax/internal/advice"
	"slimtax/internal/api"
	"slimtax/internal/auth"
	"slimtax/internal/config"
	"slimtax/internal/logger"
	"slimtax/internal/mailer"
	"slimtax/internal/redis"
	"slimtax/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("SLIMTAX_CONFIG"))
	if err != nil {
		logger.New(config.LogConfig{}).Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.Log)
	defer log.Sync()

	if cfg.Log.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := os.Getenv("SLIMTAX_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, confirmation_tokens
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return storage.Ping(ctx, db) },
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis, 3*time.Second)
		if err != nil {
			log.Fatal("create redis client", zap.Error(err))
		}
		defer rdb.Close()
		checks["cache"] = rdb.Ping
	} else {
		log.Info("redis disabled, sessions cached in process only")
	}

	authOpts := []auth.Option{auth.WithLogger(log.Named("auth"))}
	var mail mailer.Mailer
	if cfg.SMTP.Enabled() {
		mail = mailer.NewSMTPMailer(cfg.SMTP, log.Named("mailer"))
		authOpts = append(authOpts, auth.WithEmailConfirmation(time.Duration(cfg.BasicConfig.ConfirmationTTLHours)*time.Hour))
	} else {
		log.Info("smtp not configured, email confirmation disabled")
	}
	tokenTTL := time.Duration(cfg.BasicConfig.TokenTTLHours) * time.Hour
	authService := auth.NewService(db, rdb, tokenTTL, authOpts...)
	authService.StartTokenCleaner(ctx, time.Duration(cfg.BasicConfig.TokenCleanIntervalMinutes)*time.Minute)

	handlerOpts := api.Options{
		Gate:    cfg.Gate,
		BaseURL: cfg.BasicConfig.PublicBaseURL,
		Mailer:  mail,
		Checks:  checks,
		Logger:  log.Named("http"),
	}
	if cfg.OAuth.Google.Enabled() {
		handlerOpts.Google = auth.NewGoogleOAuth(cfg.OAuth.Google, cfg.OAuth.StateSecret)
	}

	responder := advice.NewResponder(advice.WithDelay(time.Duration(cfg.Advice.DelayMillis) * time.Millisecond))
	handlers := api.NewHandler(authService, responder, handlerOpts)

	router := gin.New()
	router.Use(api.RequestLogger(log.Named("http")), gin.Recovery())
	if err := handlers.RegisterRoutes(router); err != nil {
		log.Fatal("register routes", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.CORS(cfg.CORS, router),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info("slim tax listening", zap.String("addr", srv.Addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
