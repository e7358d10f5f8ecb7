package config

import (
	"testing"
	"time"
)

func TestLoadRenderConfig_Defaults(t *testing.T) {
	for _, key := range []string{"PDF_RENDERER", "RENDER_SCALE", "JPEG_QUALITY", "RENDER_WORKERS", "MAX_UPLOAD_MB", "MAX_PAGES", "THUMBNAIL_WIDTH"} {
		t.Setenv(key, "")
	}

	renderConfig := loadRenderConfig()
	if renderConfig != DefaultRenderConfig() {
		t.Errorf("Expected defaults %+v, got %+v", DefaultRenderConfig(), renderConfig)
	}
	if renderConfig.MaxUploadBytes != 50*1024*1024 {
		t.Errorf("Expected 50MB upload bound, got %d", renderConfig.MaxUploadBytes)
	}
}

func TestLoadRenderConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RENDER_SCALE", "-1")
	t.Setenv("JPEG_QUALITY", "250")
	t.Setenv("RENDER_WORKERS", "0")

	renderConfig := loadRenderConfig()
	if renderConfig.RenderScale != 2 {
		t.Errorf("Expected scale 2, got %v", renderConfig.RenderScale)
	}
	if renderConfig.JPEGQuality != 85 {
		t.Errorf("Expected quality 85, got %d", renderConfig.JPEGQuality)
	}
	if renderConfig.RenderWorkers != 1 {
		t.Errorf("Expected 1 worker, got %d", renderConfig.RenderWorkers)
	}
}

func TestSetupServer_FromEnvironment(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("PDF_RENDERER", "fitz")
	t.Setenv("RENDER_WORKERS", "4")
	t.Setenv("STUDIO_SESSION_TTL_MINUTES", "30")
	t.Setenv("KEEP_SOURCE_PDF", "true")
	t.Setenv("MAX_CONCURRENT_INGESTIONS", "3")

	serverConfig, logger := SetupServer()
	if logger == nil || Logger == nil {
		t.Fatal("Expected logger to be configured")
	}
	if serverConfig.ListenAddrPort != "9100" {
		t.Errorf("Expected port 9100, got %s", serverConfig.ListenAddrPort)
	}
	if serverConfig.DatabaseType != "postgres" {
		t.Errorf("Expected postgres, got %s", serverConfig.DatabaseType)
	}
	if serverConfig.Renderer != "fitz" || serverConfig.RenderWorkers != 4 {
		t.Errorf("Unexpected render config %+v", serverConfig.RenderConfig)
	}
	if serverConfig.MaxConcurrentIngestions != 3 {
		t.Errorf("Expected 3 concurrent ingestions, got %d", serverConfig.MaxConcurrentIngestions)
	}
	if serverConfig.SessionTTL != 30*time.Minute {
		t.Errorf("Expected 30m session TTL, got %v", serverConfig.SessionTTL)
	}
	if !serverConfig.KeepSourcePDF {
		t.Error("Expected KeepSourcePDF to be true")
	}
	if serverConfig.SourcePath == "" {
		t.Error("Expected absolute source path")
	}
}

func TestSetupServer_ConcurrentIngestionsFloor(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("MAX_CONCURRENT_INGESTIONS", "0")

	serverConfig, _ := SetupServer()
	if serverConfig.MaxConcurrentIngestions != 1 {
		t.Errorf("Expected at least one concurrent ingestion, got %d", serverConfig.MaxConcurrentIngestions)
	}
}
