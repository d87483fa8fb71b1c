package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"report-export/acquire"
	"report-export/assemble"
	"report-export/export"
	"report-export/raster"
)

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	// Environment Variables
	listenAddr       = os.Getenv("LISTEN_ADDR")
	logLevel         = strings.ToLower(os.Getenv("LOG_LEVEL"))
	captureBackend   = strings.ToLower(os.Getenv("CAPTURE_BACKEND"))
	relayEndpointEnv = os.Getenv("RELAY_ENDPOINTS")
	photoBearerToken = os.Getenv("PHOTO_BEARER_TOKEN")
	photoBearerHosts = os.Getenv("PHOTO_BEARER_HOSTS")
	surfaceOrigin    = os.Getenv("SURFACE_ORIGIN")
	chromePath       = os.Getenv("CHROME_PATH")
	dbPath           = os.Getenv("EXPORT_DB_PATH")
	exportWorkersEnv = os.Getenv("EXPORT_WORKERS")
	jobTTLEnv        = os.Getenv("JOB_TTL")
	historyLimitEnv  = os.Getenv("HISTORY_LIMIT")
	transportRetries = os.Getenv("TRANSPORT_RETRIES")

	exportWorkers = 2
	jobTTL        = time.Hour
	historyLimit  = 500
)

// App struct to hold dependencies
type App struct {
	Database *gorm.DB
	Host     raster.Host

	mu       sync.RWMutex
	exporter *export.Exporter
}

func main() {
	// Validate Environment Variables
	validateEnvVars()

	// Initialize logrus logger
	initLogger()

	// Load persisted export defaults
	loadSettings()

	// Initialize Database
	database := InitializeDB(dbPath)

	host, closeHost, err := createHost(captureBackend)
	if err != nil {
		log.Fatalf("Failed to create capture host: %v", err)
	}
	defer func() {
		if err := closeHost(); err != nil {
			log.Errorf("Failed to close capture host: %v", err)
		}
	}()

	// Initialize App with dependencies
	app := &App{
		Database: database,
		Host:     host,
	}
	if err := app.rebuildExporter(currentSettings()); err != nil {
		log.Fatalf("Failed to create exporter: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Drop finished jobs and trim export history
	StartBackgroundTasks(ctx, app, time.Minute)

	// Start export worker pool
	startWorkerPool(app, exportWorkers)

	server := &http.Server{
		Addr:    listenAddr,
		Handler: app.setupRouter(),
	}
	go func() {
		log.Infof("Server started on %s", listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infoln("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shut down server: %v", err)
	}
}

func (app *App) setupRouter() *gin.Engine {
	// Create a Gin router with default middleware (logger and recovery)
	router := gin.Default()

	// API routes
	api := router.Group("/api")
	{
		api.POST("/exports", app.submitExportJobHandler)
		api.POST("/exports/preview", app.previewExportHandler)
		api.GET("/exports", app.getAllJobsHandler)
		api.GET("/exports/:job_id", app.getJobStatusHandler)
		api.GET("/exports/:job_id/document", app.getJobDocumentHandler)
		api.GET("/exports/:job_id/preview/:page", app.getJobPagePreviewHandler)

		// Local db actions
		api.GET("/history", app.getExportHistoryHandler)

		api.GET("/settings", getSettingsHandler)
		api.POST("/settings", app.updateSettingsHandler)

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": backendName(captureBackend)})
		})
	}

	// Minimal preview page
	router.NoRoute(func(c *gin.Context) {
		serveEmbeddedFile(c, "", c.Request.URL.Path)
	})

	return router
}

// Exporter returns the exporter built from the current settings.
func (app *App) Exporter() *export.Exporter {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.exporter
}

// rebuildExporter swaps in an exporter for new settings. Running exports keep
// the exporter they started with.
func (app *App) rebuildExporter(s Settings) error {
	fetcher, err := acquire.NewFetcher(fetcherConfig(s))
	if err != nil {
		return fmt.Errorf("error creating fetcher: %w", err)
	}
	app.mu.Lock()
	defer app.mu.Unlock()
	app.exporter = export.New(fetcher, app.Host)
	return nil
}

func fetcherConfig(s Settings) acquire.Config {
	retries, _ := strconv.Atoi(transportRetries)
	relays := s.RelayEndpoints
	if relays == nil {
		relays = []string{}
	}
	return acquire.Config{
		RelayEndpoints:   relays,
		TransportRetries: retries,
		BearerToken:      photoBearerToken,
		BearerHosts:      bearerHosts(photoBearerHosts, surfaceOrigin),
		Origin:           surfaceOrigin,
	}
}

// bearerHosts parses PHOTO_BEARER_HOSTS. Unset, the token is only sent to the
// host of SURFACE_ORIGIN.
func bearerHosts(list, origin string) []string {
	var hosts []string
	for _, h := range strings.Split(list, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 && origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}

// createHost returns the capture backend and a function releasing it.
func createHost(backend string) (raster.Host, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "", "native":
		return &raster.NativeHost{}, noop, nil
	case "rod":
		host := raster.NewRodHost(0)
		return host, host.Close, nil
	case "chromedp":
		host := &raster.ChromedpHost{
			ExecPath:  chromePath,
			NoSandbox: os.Getenv("CI") == "true" || chromePath != "",
		}
		return host, host.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported capture backend: %s", backend)
	}
}

func backendName(backend string) string {
	if backend == "" {
		return "native"
	}
	return backend
}

func initLogger() {
	level := logrus.InfoLevel
	switch logLevel {
	case "debug":
		level = logrus.DebugLevel
	case "info":
		level = logrus.InfoLevel
	case "warn":
		level = logrus.WarnLevel
	case "error":
		level = logrus.ErrorLevel
	default:
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	acquire.SetLogLevel(level)
	raster.SetLogLevel(level)
	assemble.SetLogLevel(level)
	export.SetLogLevel(level)
}

// validateEnvVars checks and parses the optional environment variables
func validateEnvVars() {
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	switch captureBackend {
	case "", "native", "rod", "chromedp":
	default:
		log.Fatal("Please set the CAPTURE_BACKEND environment variable to 'native', 'rod' or 'chromedp'.")
	}

	if exportWorkersEnv != "" {
		n, err := strconv.Atoi(exportWorkersEnv)
		if err != nil || n <= 0 {
			log.Fatalf("Invalid EXPORT_WORKERS value: %q", exportWorkersEnv)
		}
		exportWorkers = n
	}

	if jobTTLEnv != "" {
		d, err := time.ParseDuration(jobTTLEnv)
		if err != nil || d <= 0 {
			log.Fatalf("Invalid JOB_TTL value: %q", jobTTLEnv)
		}
		jobTTL = d
	}

	if historyLimitEnv != "" {
		n, err := strconv.Atoi(historyLimitEnv)
		if err != nil || n < 0 {
			log.Fatalf("Invalid HISTORY_LIMIT value: %q", historyLimitEnv)
		}
		historyLimit = n
	}

	if transportRetries != "" {
		if n, err := strconv.Atoi(transportRetries); err != nil || n < 0 {
			log.Fatalf("Invalid TRANSPORT_RETRIES value: %q", transportRetries)
		}
	}
}

// relayEndpointsFromEnv parses RELAY_ENDPOINTS. "none" disables relays; unset
// keeps the built-in list.
func relayEndpointsFromEnv() []string {
	switch strings.TrimSpace(relayEndpointEnv) {
	case "":
		return acquire.DefaultRelayEndpoints
	case "none":
		return []string{}
	}
	var out []string
	for _, e := range strings.Split(relayEndpointEnv, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
