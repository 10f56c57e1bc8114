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
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-talk/internal/auth"
	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/internal/handler"
	"github.com/weiawesome/wes-io-talk/internal/metrics"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/internal/service"
	"github.com/weiawesome/wes-io-talk/internal/upload"
	"github.com/weiawesome/wes-io-talk/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
	"github.com/weiawesome/wes-io-talk/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	logger.Info().Str("addr", cfg.Server.Addr()).Msg("starting talk service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Identity
	if cfg.Auth.Mode != "query" && cfg.Auth.Secret == "" {
		logger.Fatal().Msg("auth.secret is required in jwt mode")
	}
	authenticator, err := auth.New(cfg.Auth.Mode, jwt.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize authenticator")
	}
	if cfg.Auth.Mode == "query" {
		logger.Warn().Msg("query authentication enabled, do not use in production")
	}

	// Persistence
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Persistence.Driver).Msg("failed to initialize message repository")
	}
	defer repo.Close()
	logger.Info().Str("driver", cfg.Persistence.Driver).Msg("message repository ready")

	// Attachments
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to initialize storage")
	}
	uploader := upload.NewStorageUploader(store, cfg.Upload)

	// Lifecycle events
	publisher, err := pubsub.New(cfg.Events)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Events.Driver).Msg("failed to initialize event publisher")
	}
	defer publisher.Close()

	m := metrics.New()

	observers := []presence.Observer{m}
	var locator handler.PresenceLocator
	if cfg.Redis.Enabled {
		mirror, err := presence.NewRedisMirror(cfg.Redis, uuid.New().String())
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect presence mirror")
		}
		mirror.Start(ctx)
		defer mirror.Close()
		defer mirror.Stop()
		observers = append(observers, mirror)
		locator = mirror
		logger.Info().Str("address", cfg.Redis.Address).Msg("presence mirror enabled")
	}

	registry := presence.NewRegistry(observers...)

	deliverySvc := service.NewDeliveryService(repo, registry,
		service.WithUploader(uploader),
		service.WithDeliveryPublisher(publisher),
		service.WithDeliveryMetrics(m),
		service.WithHistoryLimit(cfg.Persistence.HistoryLimit),
	)
	callSvc := service.NewCallService(registry,
		service.WithRingTimeout(cfg.Call.RingTimeout),
		service.WithCallPublisher(publisher),
		service.WithCallMetrics(m),
	)
	defer callSvc.Stop()

	// HTTP
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	requireAuth := auth.RequireAuth(authenticator)
	handler.NewWSHandler(registry, deliverySvc, callSvc, authenticator, m, cfg.WebSocket).RegisterRoutes(r)
	httpHandler := handler.NewHTTPHandler(deliverySvc, registry)
	if locator != nil {
		httpHandler.WithLocator(locator)
	}
	httpHandler.RegisterRoutes(r, requireAuth)
	handler.NewICEHandler(cfg.WebRTC).RegisterRoutes(r, requireAuth)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	if local, ok := store.(*storage.LocalStorage); ok {
		r.Static(local.URLPrefix(), local.BasePath())
	}

	server := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	grpcServer, lis, err := newGRPCServer(cfg.GRPC.Addr(), logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.GRPC.Addr()).Msg("failed to listen for grpc")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("shutting down talk service")
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		grpcServer.GracefulStop()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("talk service stopped")
}
