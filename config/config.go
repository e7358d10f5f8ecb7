package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	RenderConfig
	SourcePath        string // absolute path where original PDFs are kept
	KeepSourcePDF     bool
	// PDFs converted at the same time; further uploads queue behind them
	MaxConcurrentIngestions int
	SessionTTL        time.Duration
	JobRetention      time.Duration
	MaintenanceMinute int // interval between maintenance runs
}

// RenderConfig holds the rasterization settings used by the ingestion pipeline
type RenderConfig struct {
	Renderer       string  // pdfium or fitz
	RenderScale    float64 // linear upscaling factor applied to the page viewport
	JPEGQuality    int     // 1-100
	RenderWorkers  int
	MaxUploadBytes int64
	MaxPages       int
	ThumbnailWidth int
}

// DefaultRenderConfig returns the rendering defaults (2x scale, JPEG quality 85)
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Renderer:       "pdfium",
		RenderScale:    2,
		JPEGQuality:    85,
		RenderWorkers:  1,
		MaxUploadBytes: 50 << 20,
		MaxPages:       500,
		ThumbnailWidth: 320,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "flipbook")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "databases/flipbook.sqlite")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	serverConfigLive.RenderConfig = loadRenderConfig()
	logger.Info("Render configuration loaded",
		"renderer", serverConfigLive.Renderer,
		"scale", serverConfigLive.RenderScale,
		"jpegQuality", serverConfigLive.JPEGQuality,
		"workers", serverConfigLive.RenderWorkers)

	serverConfigLive.MaxConcurrentIngestions = getEnvInt("MAX_CONCURRENT_INGESTIONS", 2)
	if serverConfigLive.MaxConcurrentIngestions < 1 {
		serverConfigLive.MaxConcurrentIngestions = 1
	}

	// Original PDF storage
	serverConfigLive.KeepSourcePDF = getEnvBool("KEEP_SOURCE_PDF", false)
	sourcePathAbs, err := filepath.Abs(filepath.ToSlash(getEnv("SOURCE_PATH", "sources")))
	if err != nil {
		logger.Error("Failed creating absolute path for source directory", "error", err)
	}
	serverConfigLive.SourcePath = sourcePathAbs

	// Maintenance
	serverConfigLive.SessionTTL = time.Duration(getEnvInt("STUDIO_SESSION_TTL_MINUTES", 120)) * time.Minute
	serverConfigLive.JobRetention = time.Duration(getEnvInt("JOB_RETENTION_HOURS", 168)) * time.Hour
	serverConfigLive.MaintenanceMinute = getEnvInt("MAINTENANCE_INTERVAL_MINUTES", 10)

	fmt.Println("\n========================================")
	fmt.Println("   flipbook - PDF to Flipbook Studio")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "flipbook.log"))

	return serverConfigLive, logger
}

// SetupConverter loads only what the offline converter needs
func SetupConverter() (RenderConfig, *slog.Logger) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger
	return loadRenderConfig(), logger
}

func loadRenderConfig() RenderConfig {
	defaults := DefaultRenderConfig()
	renderConfig := RenderConfig{
		Renderer:       getEnv("PDF_RENDERER", defaults.Renderer),
		RenderScale:    getEnvFloat("RENDER_SCALE", defaults.RenderScale),
		JPEGQuality:    getEnvInt("JPEG_QUALITY", defaults.JPEGQuality),
		RenderWorkers:  getEnvInt("RENDER_WORKERS", defaults.RenderWorkers),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,
		MaxPages:       getEnvInt("MAX_PAGES", defaults.MaxPages),
		ThumbnailWidth: getEnvInt("THUMBNAIL_WIDTH", defaults.ThumbnailWidth),
	}
	if renderConfig.RenderScale <= 0 {
		renderConfig.RenderScale = defaults.RenderScale
	}
	if renderConfig.JPEGQuality < 1 || renderConfig.JPEGQuality > 100 {
		renderConfig.JPEGQuality = defaults.JPEGQuality
	}
	if renderConfig.RenderWorkers < 1 {
		renderConfig.RenderWorkers = 1
	}
	return renderConfig
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "flipbook.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
