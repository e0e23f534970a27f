package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cvtriage/internal/api"
	"cvtriage/internal/auth"
	"cvtriage/internal/redis"
	"cvtriage/internal/screening"
	"cvtriage/internal/secrets"
	"cvtriage/internal/service/ai"
	"cvtriage/internal/service/ledger"
	"cvtriage/internal/service/profile"
	"cvtriage/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("starting cvtriage", zap.String("version", version))

	db, store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database ready",
		zap.String("driver", store.Driver()),
		zap.Bool("atomic_increment", cfg.Database.AtomicIncrement),
	)

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "inference api key",
		Value: cfg.Inference.APIKey,
		File:  cfg.Inference.APIKeyFile,
	})
	if err != nil {
		return err
	}
	generator, err := ai.NewGenerator(ctx, cfg.Inference, apiKey)
	if err != nil {
		return err
	}
	analyzer := ai.NewClient(generator, log,
		ai.WithTimeout(cfg.Inference.Timeout),
		ai.WithMaxLogLength(cfg.Inference.MaxLogLength),
	)

	profiles := profile.NewService(store, store, profile.Options{
		DefaultLimit:        cfg.Credits.DefaultLimit,
		BootstrapAdminEmail: cfg.Credits.BootstrapAdminEmail,
		BootstrapAdminLimit: cfg.Credits.BootstrapAdminLimit,
	}, log.Named("profiles"))
	authSvc := auth.NewService(store, cache, cfg.Auth.TokenTTL, log.Named("auth"))
	gate := auth.NewGate(authSvc, profiles, log.Named("gate"))

	if cache != nil {
		relay, err := auth.StartRelay(ctx, cache, authSvc, log)
		if err != nil {
			return err
		}
		defer relay.Stop()
		log.Info("session relay started", zap.String("instance_id", relay.InstanceID()))
	}

	pool := worker.NewPool(worker.Config{
		MaxWorkers:  cfg.Worker.MaxWorkers,
		TaskTimeout: cfg.Worker.TaskTimeout,
	}, log.Named("worker"))
	sessions := screening.NewManager(analyzer, ledger.New(store, log.Named("ledger")), profiles, pool, log.Named("screening"))

	handler := api.NewHandler(gate, profiles, sessions, api.Config{
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		SoftUploadBytes: cfg.Server.SoftUploadBytes,
		DefaultCredits:  cfg.Credits.DefaultLimit,
	}, log.Named("api"))

	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Warn("pending side effects abandoned", zap.Int64("failures", pool.Failures()), zap.Error(err))
	}
	return nil
}
