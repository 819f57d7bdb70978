// Package main starts the menu API server: it reads configuration, picks the
// document store, wires services and handlers and serves HTTP until SIGINT
// or SIGTERM.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/cache"
	"github.com/atinyakov/qrmenu/internal/config"
	"github.com/atinyakov/qrmenu/internal/db"
	"github.com/atinyakov/qrmenu/internal/logger"
	"github.com/atinyakov/qrmenu/internal/middleware"
	"github.com/atinyakov/qrmenu/internal/repository"
	"github.com/atinyakov/qrmenu/internal/server/handler/http"
	"github.com/atinyakov/qrmenu/internal/service"
	"github.com/atinyakov/qrmenu/internal/tenant"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const menuCacheBytes = 64 << 20

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Cancel background work on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the document store selected by -store.
	store, closeStore, err := openStore(ctx, options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init document store", zap.Error(err))
	}
	defer closeStore()

	docs := repository.NewDocuments(store, zapLogger)

	// Cache public menus between saves.
	menuCache, err := cache.NewMenus(menuCacheBytes, options.MenuCacheTTL.Duration)
	if err != nil {
		zapLogger.Fatal("cannot init menu cache", zap.Error(err))
	}
	defer menuCache.Close()

	// Initialize business-logic services.
	userService := service.NewUserService(docs, zapLogger)
	menuService := service.NewMenuService(docs, menuCache, zapLogger)

	// Create HTTP handlers for user and menu endpoints.
	usersHandler := &http.UsersHandler{
		Users:       userService,
		AdminSecret: options.AdminSecret,
		SelfTest: http.SelfTest{
			GitHubOwner: options.GitHubOwner != "",
			GitHubRepo:  options.GitHubRepo != "",
			GitHubToken: options.GitHubToken != "",
		},
		Log: zapLogger,
	}
	menuHandler := &http.MenuHandler{Menus: menuService, Log: zapLogger}

	// Build the router with middleware and routes.
	router := http.NewRouter(usersHandler, menuHandler, http.RouterOptions{
		AdminSecret:       options.AdminSecret,
		Resolver:          tenant.NewResolver(options.DefaultTenant),
		MaxBodyBytes:      options.MaxBodyBytes,
		AuthLimiter:       middleware.NewRateLimiter(options.AuthRatePerMinute, options.AuthBurst, zapLogger),
		TrustProxyHeaders: options.TrustProxyHeaders,
	}, zapLogger)

	// Create the HTTP server with explicit timeouts.
	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	if options.AdminSecret == "" {
		zapLogger.Warn("ADMIN_SECRET is empty, admin endpoints will reject every request")
	}

	// Serve until the listener fails or a shutdown signal arrives.
	errc := make(chan error, 1)
	go func() {
		tls := options.TLSCertFile != "" && options.TLSKeyFile != ""
		zapLogger.Info("starting HTTP server",
			zap.String("addr", options.Port),
			zap.String("store", options.StoreBackend),
			zap.Bool("tls", tls))
		if tls {
			errc <- server.ListenAndServeTLS(options.TLSCertFile, options.TLSKeyFile)
			return
		}
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	case <-ctx.Done():
		zapLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

// openStore builds the configured document store. The returned func releases
// its resources.
func openStore(ctx context.Context, options *config.Options, log *zap.Logger) (repository.Store, func(), error) {
	switch options.StoreBackend {
	case config.BackendPostgres:
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		db.StartRevisionPruner(ctx, postgresDB,
			time.Hour,
			options.RevisionRetention.Duration,
			log,
		)
		return repository.NewPostgresStore(postgresDB), func() { _ = postgresDB.Close() }, nil
	case config.BackendMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	default:
		if !options.GitHubConfigured() {
			log.Warn("GitHub credentials incomplete, document operations will fail with missing-github-config")
		}
		store := repository.NewGitHubStore(repository.GitHubConfig{
			Token:   options.GitHubToken,
			Owner:   options.GitHubOwner,
			Repo:    options.GitHubRepo,
			Branch:  options.GitHubBranch,
			APIURL:  options.GitHubAPIURL,
			Timeout: options.StoreTimeout.Duration,
		}, &nethttp.Client{}, log)
		return store, func() {}, nil
	}
}
