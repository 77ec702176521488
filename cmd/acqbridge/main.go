package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	"acqbridge/internal/core/services"
	httphandlers "acqbridge/internal/handlers/http"
	"acqbridge/internal/infrastructure/acquisition"
	"acqbridge/internal/infrastructure/acquisition/sim"
	"acqbridge/internal/infrastructure/liveview"
	"acqbridge/internal/infrastructure/middleware"
	"acqbridge/internal/infrastructure/monitoring"
	"acqbridge/internal/infrastructure/persistence"
	repositories "acqbridge/internal/infrastructure/repositories"
	"acqbridge/internal/infrastructure/sink"
	"acqbridge/internal/infrastructure/transport"
	"acqbridge/pkg/config"
	"acqbridge/pkg/distributed"
	"acqbridge/pkg/logger"
	"acqbridge/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to the YAML config file")
	tokenSubject := flag.String("token", "", "print an access token for this subject and exit")
	tokenScopes := flag.String("scopes", "", "comma-separated scopes for -token (read,control); empty grants both")
	flag.Parse()

	cfg := loadConfig(*configPath)

	zapLogger := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	if *tokenSubject != "" {
		var scopes []string
		if *tokenScopes != "" {
			scopes = strings.Split(*tokenScopes, ",")
		}
		token, err := authService.GenerateToken(*tokenSubject, scopes...)
		if err != nil {
			log.Fatalw("failed to generate token", "error", err)
		}
		fmt.Println(token)
		return
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "acqbridge",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}

	ctx := context.Background()

	// Initialize repository factory
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	runRepo := repoFactory.CreateRunRepository()

	// With a shared Redis, only one bridge may drive a camera pair.
	var lease *distributed.Lease
	if client := repoFactory.RedisClient(); client != nil {
		key := fmt.Sprintf("acqbridge:lease:%s+%s", cfg.Camera.Camera1, cfg.Camera.Camera2)
		lease = distributed.NewLease(client, key, cfg.Redis.LeaseTTL, log.Named("lease"))
		if err := lease.Acquire(ctx); err != nil {
			holder, _ := distributed.Holder(ctx, client, key)
			log.Fatalw("failed to claim cameras", "key", key, "holder", holder, "error", err)
		}
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	queue := sink.NewCircularBuffer(cfg.Sink.Capacity)
	reporter := acquisition.NewLogReporter(log)

	policy, err := domain.ParseMismatchPolicy(cfg.Camera.MismatchPolicy)
	if err != nil {
		log.Fatalw("invalid mismatch policy", "error", err)
	}

	camera := services.NewCameraService(services.CameraSettings{
		Camera1:        cfg.Camera.Camera1,
		Camera2:        cfg.Camera.Camera2,
		StreamFormat:   cfg.Camera.StreamFormat,
		SaveRoot:       cfg.Camera.SaveRoot,
		SavePrefix:     cfg.Camera.SavePrefix,
		Metadata:       cfg.Camera.Metadata,
		MismatchPolicy: policy,
	}, services.CameraServiceDeps{
		RuntimeInit: sim.Init(
			sim.WithRingFrames(cfg.Camera.RingFrames),
			sim.WithFramePeriod(cfg.Camera.FramePeriod),
		),
		Reporter: reporter,
		Transport: func(rt ports.Runtime) ports.FrameTransport {
			return transport.NewAdapter(rt, transport.Options{
				PollInterval: cfg.Camera.PollInterval,
				MaxRetries:   cfg.Camera.MaxPollRetries,
			}, log.Named("transport"))
		},
		Sink:      queue,
		Runs:      runRepo,
		Allocator: persistence.NewDirAllocator(),
		Metrics:   collector,
		Logger:    log,
	})

	if err := camera.Initialize(ctx); err != nil {
		// the session can still be initialized later through the API
		log.Errorw("camera initialization failed", "camera_1", cfg.Camera.Camera1, "camera_2", cfg.Camera.Camera2, "error", err)
	}

	health := monitoring.NewHealthChecker()
	health.AddCheck("camera", func(ctx context.Context) (bool, error) {
		props, err := camera.Properties(ctx)
		if err != nil {
			return false, err
		}
		return props.Initialized, nil
	}, 2*time.Second, true)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Auth.Enabled {
		router.Use(middleware.MutationAuthMiddleware(authService))
		log.Info("Mutating routes require a bearer token")
	}

	httphandlers.NewCameraHandler(camera, queue, log).SetupRoutes(router)

	if cfg.LiveView.Enabled {
		hub := liveview.NewHub(queue, collector, liveview.Options{
			MaxFPS:         cfg.LiveView.MaxFPS,
			WriteTimeout:   cfg.LiveView.WriteTimeout,
			PingInterval:   cfg.LiveView.PingInterval,
			MaxClients:     cfg.LiveView.MaxClients,
			AllowedOrigins: cfg.Auth.AllowedOrigins,
		}, log)
		router.GET("/ws/live", hub.HandleWebSocket)
	}

	router.GET("/health", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status == monitoring.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":         status.Status,
			"checks":         status.Checks,
			"timestamp":      status.Timestamp,
			"uptime":         time.Since(startTime).String(),
			"session":        camera.State().String(),
			"runtime_errors": reporter.Errors(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if !health.IsReady(ctx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	go logSinkStats(statsCtx, queue, camera, cfg.Monitoring.MetricsInterval, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting acqbridge on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var leaseLost <-chan struct{}
	if lease != nil {
		leaseLost = lease.Lost()
	}

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	case <-leaseLost:
		log.Error("Camera lease lost, shutting down")
	}

	log.Info("Shutting down acqbridge...")
	stopStats()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := camera.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down camera session", "error", err)
	}
	if lease != nil {
		if err := lease.Release(shutdownCtx); err != nil {
			log.Errorw("Error releasing camera lease", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing traces", "error", err)
	}

	log.Info("acqbridge stopped")
}

// loadConfig reads path, or the first config found in the usual locations.
// Missing files yield defaults.
func loadConfig(path string) *config.Config {
	if path == "" {
		path = "configs/config.yaml"
		for _, p := range []string{"configs/config.yaml", "/etc/acqbridge/config.yaml", "config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config %s: %v\n", path, err)
		os.Exit(1)
	}
	return cfg
}

func logSinkStats(ctx context.Context, queue *sink.CircularBuffer, camera ports.CameraService, interval time.Duration, log *zap.SugaredLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if camera.State() != domain.SessionStreaming {
			continue
		}
		s := queue.Stats()
		stats := camera.Stats()
		log.Infow("acquisition progress",
			"run_id", stats.RunID,
			"frames", stats.Frames,
			"drops", stats.Drops,
			"overflows", stats.Overflows,
			"sink_queued", s.Queued,
			"sink_inserted", s.Inserted,
		)
	}
}
