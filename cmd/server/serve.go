package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/saleszy/internal/adapter/handler"
	"github.com/rl1809/saleszy/internal/adapter/storage"
	"github.com/rl1809/saleszy/internal/config"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/service"
	"github.com/rl1809/saleszy/internal/logging"
	"github.com/rl1809/saleszy/internal/port"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "saleszy"})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("version", Version).Str("env", cfg.Env).Str("storage", cfg.Storage).Msg("starting saleszy")

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	// cache stays a nil interface when Redis is not configured.
	var cache port.CacheRepository
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cache = storage.NewRedisAdapter(rdb, cfg.EntitlementCache)
		log.Info().Str("addr", cfg.RedisAddr).Msg("entitlement cache enabled")
	}

	core := service.New(st, cache, service.Config{
		Retry:       service.RetryPolicy{Attempts: cfg.RetryAttempts, Initial: cfg.RetryBackoff},
		FreeHistory: time.Duration(cfg.FreeHistoryDays) * 24 * time.Hour,
		Webhook: service.WebhookConfig{
			Secret: cfg.PaystackSecretKey,
			Prices: map[domain.Tier]int64{
				domain.TierWeekly:  cfg.WeeklyPrice,
				domain.TierMonthly: cfg.MonthlyPrice,
			},
		},
	})

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.UnaryLoggingInterceptor()))
	handler.NewGRPCHandler(core).Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(core, st).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		log.Info().Msg("servers stopped")
		return err
	})
	return g.Wait()
}
