package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"time"

	"github.com/SwissDataScienceCenter/renku-apiclient/internal/apiproxy"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/credentials"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/dispatcher"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/refresh"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/retry"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/telemetry"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/throttle"
	"github.com/SwissDataScienceCenter/renku-apiclient/internal/transport"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Logging setup
	slog.SetDefault(jsonLogger)
	// Load configuration
	ch := config.NewConfigHandler()
	apiConfig, err := ch.Config()
	if err != nil {
		slog.Error("loading the configuration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("loaded config", "config", apiConfig)
	if apiConfig.DebugMode {
		logLevel.Set(slog.LevelDebug)
	}
	// Setup
	e := echo.New()
	e.Pre(middleware.RequestID(), middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.HideBanner = true
	e.HidePort = true
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	// Version endpoint
	buildInfo, ok := debug.ReadBuildInfo()
	version := ""
	if ok && buildInfo != nil {
		version = buildInfo.Main.Version
	}
	e.GET("/version", func(c echo.Context) error {
		return c.String(http.StatusOK, version)
	})
	// Telemetry
	sinks := telemetry.Multi{telemetry.LogSink{}}
	var sessionObserver telemetry.SessionObserver
	if apiConfig.Monitoring.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              string(apiConfig.Monitoring.Sentry.Dsn),
			TracesSampleRate: apiConfig.Monitoring.Sentry.SampleRate,
			Environment:      apiConfig.Monitoring.Sentry.Environment,
		})
		if err != nil {
			slog.Error("sentry initialization failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			sentrySink, err := telemetry.NewSentrySink()
			if err != nil {
				slog.Error("sentry sink initialization failed", "error", err)
				os.Exit(1)
			}
			sinks = append(sinks, sentrySink)
			sessionObserver = sentrySink
		}
		e.Use(sentryecho.New(sentryecho.Options{}))
	}
	// Prometheus
	var pipelineMetrics *metrics.Metrics
	if apiConfig.Monitoring.Prometheus.Enabled {
		pipelineMetrics, err = metrics.NewMetrics()
		if err != nil {
			slog.Error("metrics initialization failed", "error", err)
			os.Exit(1)
		}
		e.Use(echoprometheus.NewMiddleware("apiproxy"))
		go func() {
			metricsServer := echo.New()
			metricsServer.HideBanner = true
			metricsServer.HidePort = true
			metricsServer.GET("/metrics", echoprometheus.NewHandler())
			err := metricsServer.Start(fmt.Sprintf(":%d", apiConfig.Monitoring.Prometheus.Port))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("prometheus server failed to start", "error", err)
				os.Exit(1)
			}
		}()
	}
	// Request pipeline
	store, err := credentials.NewStore(apiConfig.CredentialStore)
	if err != nil {
		slog.Error("credential store initialization failed", "error", err)
		os.Exit(1)
	}
	rawTransport, err := transport.NewHTTPTransport(transport.WithConfig(apiConfig.Client))
	if err != nil {
		slog.Error("transport initialization failed", "error", err)
		os.Exit(1)
	}
	refresher, err := refresh.NewRefresherFromConfig(apiConfig.Refresh, rawTransport)
	if err != nil {
		slog.Error("refresher initialization failed", "error", err)
		os.Exit(1)
	}
	coordinator, err := refresh.NewCoordinator(
		refresh.WithStore(store),
		refresh.WithRefresher(refresher),
		refresh.WithTimeout(apiConfig.Refresh.Timeout),
		refresh.WithMetrics(pipelineMetrics),
		refresh.WithSessionListener(func(ctx context.Context, err error) {
			slog.Warn("the session was invalidated, a new login is required", "error", err)
		}),
	)
	if err != nil {
		slog.Error("refresh coordinator initialization failed", "error", err)
		os.Exit(1)
	}
	guard, err := throttle.NewGuard(throttle.WithWindow(apiConfig.Throttle.Window))
	if err != nil {
		slog.Error("throttle guard initialization failed", "error", err)
		os.Exit(1)
	}
	if apiConfig.Throttle.SweepInterval > 0 {
		err = guard.StartSweeper(apiConfig.Throttle.SweepInterval)
		if err != nil {
			slog.Error("starting the throttle sweeper failed", "error", err)
			os.Exit(1)
		}
		defer guard.Stop()
	}
	policy, err := retry.NewPolicy(retry.WithConfig(apiConfig.Retry))
	if err != nil {
		slog.Error("retry policy initialization failed", "error", err)
		os.Exit(1)
	}
	dispatcherOptions := []dispatcher.DispatcherOption{
		dispatcher.WithTransport(rawTransport),
		dispatcher.WithCredentialStore(store),
		dispatcher.WithThrottleGuard(guard),
		dispatcher.WithRetryPolicy(policy),
		dispatcher.WithRefreshCoordinator(coordinator),
		dispatcher.WithTelemetry(sinks),
		dispatcher.WithMetrics(pipelineMetrics),
		dispatcher.WithTenantID(apiConfig.Client.TenantID),
		dispatcher.WithExpiryMargin(apiConfig.Refresh.ExpiryMargin),
		dispatcher.WithAuthPaths(apiConfig.Refresh.LoginPath, apiConfig.Refresh.LogoutPath),
	}
	if sessionObserver != nil {
		dispatcherOptions = append(dispatcherOptions, dispatcher.WithSessionObserver(sessionObserver))
	}
	apiClient, err := dispatcher.NewDispatcher(dispatcherOptions...)
	if err != nil {
		slog.Error("dispatcher initialization failed", "error", err)
		os.Exit(1)
	}
	proxy, err := apiproxy.NewServer(apiproxy.WithClient(apiClient))
	if err != nil {
		slog.Error("api proxy initialization failed", "error", err)
		os.Exit(1)
	}
	proxy.RegisterHandlers(e, commonMiddlewares...)
	// CORS
	if len(apiConfig.Server.AllowOrigin) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: apiConfig.Server.AllowOrigin, AllowCredentials: true}))
	}
	// Apply the settings that can change without a restart
	ch.Watch()
	ch.HandleChanges(func(c config.Config, err error) {
		if err != nil {
			slog.Error("the changed configuration is invalid and was not applied", "error", err)
			return
		}
		if c.DebugMode {
			logLevel.Set(slog.LevelDebug)
		} else {
			logLevel.Set(slog.LevelInfo)
		}
		apiClient.SetTenantID(c.Client.TenantID)
		slog.Info("applied the changed configuration", "debugMode", c.DebugMode, "tenantID", c.Client.TenantID)
	})
	// Start server
	address := fmt.Sprintf("%s:%d", apiConfig.Server.Host, apiConfig.Server.Port)
	slog.Info("starting the server on address " + address)
	go func() {
		err := e.Start(address)
		if err != nil && err != http.ErrServerClosed {
			slog.Error("starting the server failed", "error", err)
			os.Exit(1)
		}
	}()
	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 10 seconds.
	// Use a buffered channel to avoid missing signals as recommended for signal.Notify
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	slog.Info("received signal to shut down the server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		slog.Error("shutting down the server gracefully failed", "error", err)
		os.Exit(1)
	}
}
