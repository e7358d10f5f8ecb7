package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/drummonds/flipbook/config"
)

// pinger is implemented by repositories that can check their connection
type pinger interface {
	Ping(ctx context.Context) error
}

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	if err := databaseChecks(serverHandler); err != nil {
		return err
	}
	return sourceDirectoryChecks(serverHandler.ServerConfig)
}

// databaseChecks pings the repository when it supports it
func databaseChecks(serverHandler *ServerHandler) error {
	p, ok := serverHandler.DB.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		Logger.Error("Database is not reachable", "type", serverHandler.ServerConfig.DatabaseType, "error", err)
		return err
	}
	Logger.Info("Database reachable", "type", serverHandler.ServerConfig.DatabaseType)
	return nil
}

// sourceDirectoryChecks ensures the source PDF directory exists when sources are kept
func sourceDirectoryChecks(serverConfig config.ServerConfig) error {
	if !serverConfig.KeepSourcePDF {
		Logger.Info("Source PDFs are not kept, skipping source directory check")
		return nil
	}
	if serverConfig.SourcePath == "" {
		Logger.Warn("Source path not configured")
		return nil
	}

	// Check if directory exists
	sourceInfo, err := os.Stat(serverConfig.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create the directory
			Logger.Info("Creating source directory", "path", serverConfig.SourcePath)
			err = os.MkdirAll(serverConfig.SourcePath, 0755)
			if err != nil {
				Logger.Error("Failed to create source directory", "path", serverConfig.SourcePath, "error", err)
				return err
			}
			Logger.Info("Source directory created successfully", "path", serverConfig.SourcePath)
			return nil
		}
		Logger.Error("Error checking source directory", "path", serverConfig.SourcePath, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !sourceInfo.IsDir() {
		Logger.Error("Source path exists but is not a directory", "path", serverConfig.SourcePath)
		return fmt.Errorf("source path is not a directory: %s", serverConfig.SourcePath)
	}

	Logger.Info("Source directory exists", "path", serverConfig.SourcePath)
	return nil
}
