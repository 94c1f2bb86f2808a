package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/Brownie44l1/neucomp/internal/config"
	"github.com/Brownie44l1/neucomp/internal/handlers"
	"github.com/Brownie44l1/neucomp/internal/logging"
	"github.com/Brownie44l1/neucomp/internal/storage"
	"github.com/Brownie44l1/neucomp/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the compression HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				opts.cfg.Server.Port = port
			}
			return serve(cmd.Context(), opts.cfg, opts.log)
		},
	}
	c.Flags().StringVarP(&port, "port", "p", "", "listen address, overrides server.port")
	return c
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	defer logging.Sync(log)
	log.Info("starting neucomp server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	metrics := telemetry.New()
	a, err := newApp(cfg, log, metrics)
	if err != nil {
		return err
	}
	defer a.Close(log)

	h := handlers.NewHandler(a.service, handlers.Options{
		UploadDir:         cfg.Upload.Dir,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxUploadSize:     cfg.Upload.MaxSize,
		DefaultQuality:    cfg.Model.DefaultQuality,
		Build:             handlers.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
	}, log).WithMetrics(metrics)

	if records := storage.NewMongoStore(cfg.Mongo); records.Enabled() {
		if err := records.Ping(); err != nil {
			log.Warn("mongodb is unreachable, records will be retried per request", zap.Error(err))
		} else {
			log.Info("mongodb connected", zap.String("database", cfg.Mongo.Database))
		}
		h.WithRecords(records)
		defer records.Close()
	}

	if cache := storage.NewResultCache(cfg.Redis); cache != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := cache.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = cache.Close()
		} else {
			log.Info("redis connected successfully")
			h.WithCache(cache)
			defer cache.Close()
		}
	}

	router, err := handlers.NewRouter(h, handlers.RouterOptions{
		Mode:           cfg.Server.Mode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		LimiterRate:    cfg.Server.LimiterRate,
		FrontendDir:    cfg.Server.FrontendDir,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tls := len(cfg.Server.Domains) > 0
	if tls {
		certManager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.Domains...),
			Cache:      autocert.DirCache("certs"),
		}
		srv.Addr = ":https"
		srv.TLSConfig = certManager.TLSConfig()
		go func() {
			if err := http.ListenAndServe(":http", certManager.HTTPHandler(nil)); err != nil {
				log.Error("ACME challenge listener stopped", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.Bool("tls", tls))
		if tls {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
