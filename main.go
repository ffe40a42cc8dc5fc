package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proximity-guard/internal/audit"
	"proximity-guard/internal/auth"
	cmdapp "proximity-guard/internal/commands/application"
	commands "proximity-guard/internal/commands/domain"
	monitorapp "proximity-guard/internal/monitor/application"
	monitor "proximity-guard/internal/monitor/domain"
	monitorrepo "proximity-guard/internal/monitor/infrastructure/postgres"
	monitorhttp "proximity-guard/internal/monitor/interfaces/http"
	monitornotify "proximity-guard/internal/monitor/notify"
	"proximity-guard/internal/observability/metrics"
	"proximity-guard/internal/telemetry/source"
)

func main() {
	_ = godotenv.Load()

	watch := flag.Bool("watch", false, "run headless against one vehicle pair instead of serving HTTP")
	conn1 := flag.String("conn1", "", "first vehicle connection descriptor")
	conn2 := flag.String("conn2", "", "second vehicle connection descriptor")
	hthresh := flag.Float64("hthresh", 15, "horizontal distance threshold in meters")
	vthresh := flag.Float64("vthresh", 5, "vertical distance threshold in meters")
	interval := flag.Duration("interval", time.Second, "polling interval")
	flag.Parse()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	metrics.Init()

	holdModes := commands.DefaultHoldModeMap()
	if cfg.HoldModeMapPath != "" {
		loaded, err := commands.LoadHoldModeMap(cfg.HoldModeMapPath)
		if err != nil {
			logger.Fatalf("hold mode map: %v", err)
		}
		holdModes = loaded
	}

	dispatcher, err := cmdapp.NewDispatcher(holdModes, logger,
		cmdapp.WithMaxAttempts(cfg.DispatchMaxAttempts),
		cmdapp.WithBackoff(cfg.DispatchBackoff),
		cmdapp.WithAttemptTimeout(cfg.DispatchTimeout),
	)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}

	broker := monitorhttp.NewSSEBroker()
	notifiers := []monitorapp.Notifier{broker}
	if cfg.EpisodeWebhookURL != "" {
		notifiers = append(notifiers, monitornotify.NewWebhookNotifier(cfg.EpisodeWebhookURL, logger))
	}
	if cfg.RedisAddr != "" {
		publisher, err := monitornotify.NewRedisPublisher(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Fatalf("redis error: %v", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	var recorder monitorapp.EpisodeRecorder
	var handlerOpts []monitorhttp.Option
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		repo := monitorrepo.NewEpisodeRepository(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("db schema error: %v", err)
		}
		recorder = repo

		audits := audit.NewRepository(db)
		if err := audits.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("audit schema error: %v", err)
		}
		handlerOpts = append(handlerOpts, monitorhttp.WithAuditLog(audits))
	}

	sourceCfg := source.Config{
		Staleness:   cfg.TelemetryStaleness,
		ReadTimeout: cfg.TelemetryReadTimeout,
	}
	manager, err := monitorapp.NewManager(
		monitorapp.DefaultSourceFactory(sourceCfg, logger),
		dispatcher,
		monitornotify.NewMultiNotifier(notifiers...),
		recorder,
		logger,
	)
	if err != nil {
		logger.Fatalf("manager error: %v", err)
	}

	if *watch {
		runWatch(manager, logger, monitorapp.SessionRequest{
			Conn1: *conn1,
			Conn2: *conn2,
			Thresholds: monitor.Thresholds{
				HorizontalM: *hthresh,
				VerticalM:   *vthresh,
			},
			Dialect1: cfg.Dialect1,
			Dialect2: cfg.Dialect2,
			Interval: *interval,
		})
		return
	}

	handler, err := monitorhttp.NewHandler(manager, broker, logger, handlerOpts...)
	if err != nil {
		logger.Fatalf("handler error: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/monitor", handler)
	mux.Handle("/api/v1/sessions", handler)
	mux.Handle("/api/v1/sessions/", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var root http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		root = auth.NewMiddleware([]byte(cfg.JWTSecret), policy).Wrap(mux)
	} else {
		logger.Printf("AUTH_JWT_SECRET not set; API auth disabled")
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(root, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// runWatch monitors a single pair from the command line and blocks
// until interrupted.
func runWatch(manager *monitorapp.Manager, logger *log.Logger, req monitorapp.SessionRequest) {
	if req.Conn1 == "" || req.Conn2 == "" {
		logger.Fatal("-conn1 and -conn2 are required with -watch")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := manager.StartSession(req); err != nil {
		logger.Fatalf("watch error: %v", err)
	}
	<-ctx.Done()
	manager.StopAll()
}

type config struct {
	HTTPAddr             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	EpisodeWebhookURL    string
	HoldModeMapPath      string
	JWTSecret            string
	Dialect1             string
	Dialect2             string
	TelemetryStaleness   time.Duration
	TelemetryReadTimeout time.Duration
	DispatchMaxAttempts  int
	DispatchBackoff      time.Duration
	DispatchTimeout      time.Duration
}

func loadConfig() config {
	return config{
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		RedisAddr:            getenvDefault("REDIS_ADDR", ""),
		RedisPassword:        getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:              getenvIntDefault("REDIS_DB", 0),
		EpisodeWebhookURL:    getenvDefault("EPISODE_WEBHOOK_URL", ""),
		HoldModeMapPath:      getenvDefault("HOLD_MODE_MAP", ""),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		Dialect1:             getenvDefault("VEHICLE1_DIALECT", ""),
		Dialect2:             getenvDefault("VEHICLE2_DIALECT", ""),
		TelemetryStaleness:   getenvDuration("TELEMETRY_STALENESS", 3*time.Second),
		TelemetryReadTimeout: getenvDuration("TELEMETRY_READ_TIMEOUT", 2*time.Second),
		DispatchMaxAttempts:  getenvIntDefault("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBackoff:      getenvDuration("DISPATCH_BACKOFF", 500*time.Millisecond),
		DispatchTimeout:      getenvDuration("DISPATCH_TIMEOUT", 2*time.Second),
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}
