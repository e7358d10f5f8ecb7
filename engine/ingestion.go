package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/engine/ingest"
	"github.com/oklog/ulid/v2"
)

// uploadOptions are the form fields sent along with an uploaded PDF
type uploadOptions struct {
	Title       string
	Description string
	IsPublic    bool
}

func (opts uploadOptions) apply(fb *database.Flipbook) {
	if opts.Title != "" {
		fb.Title = opts.Title
	}
	if opts.Description != "" {
		fb.Description = opts.Description
	}
	fb.IsPublic = opts.IsPublic
}

// stepFor names the pipeline stage a progress value belongs to
func stepFor(progress float64) string {
	switch {
	case progress < ingest.ProgressRead:
		return "Uploading"
	case progress < ingest.ProgressMeasured:
		return "Reading PDF"
	case progress < ingest.ProgressRendered:
		return "Rendering pages"
	case progress < ingest.ProgressDone:
		return "Assembling flipbook"
	}
	return "Done"
}

// runIngestion converts one uploaded PDF and stores the flipbook, publishing
// progress on the job. Nothing is written to the flipbooks table on failure.
func (serverHandler *ServerHandler) runIngestion(jobID ulid.ULID, data []byte, name string, opts uploadOptions) {
	defer serverHandler.ingestions.Done()
	// job bookkeeping must survive shutdown so a cancelled run is still recorded
	dbCtx := context.WithoutCancel(serverHandler.ctx)

	// Add panic recovery and update job status on panic
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in ingestion job", "panic", r, "jobID", jobID)
			serverHandler.DB.UpdateJobError(dbCtx, jobID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	// wait for a free slot; the job stays pending meanwhile
	select {
	case serverHandler.slots <- struct{}{}:
		defer func() { <-serverHandler.slots }()
	case <-serverHandler.ctx.Done():
		serverHandler.failIngestion(dbCtx, jobID, fmt.Errorf("ingestion cancelled while queued: %w", serverHandler.ctx.Err()))
		return
	}

	if err := serverHandler.DB.UpdateJobStatus(dbCtx, jobID, database.JobStatusRunning, "Converting "+name); err != nil {
		Logger.Error("Failed to update job status", "jobID", jobID, "error", err)
	}

	lastPercent := -1
	progress := func(value float64) {
		percent := int(value)
		if percent == lastPercent {
			return
		}
		lastPercent = percent
		if err := serverHandler.DB.UpdateJobProgress(dbCtx, jobID, percent, stepFor(value)); err != nil {
			Logger.Warn("Failed to update job progress", "jobID", jobID, "progress", percent, "error", err)
		}
	}

	result, err := serverHandler.Pipeline.Run(serverHandler.ctx, ingest.NewTracker(), bytes.NewReader(data), name, progress)
	if err != nil {
		serverHandler.failIngestion(dbCtx, jobID, err)
		return
	}

	fb := result.Flipbook()
	opts.apply(fb)
	fb.ID, err = database.CalculateUUID(time.Now())
	if err != nil {
		serverHandler.failIngestion(dbCtx, jobID, err)
		return
	}

	if serverHandler.ServerConfig.KeepSourcePDF {
		fb.SourcePath, err = serverHandler.storeSource(fb.ID, result.Source, result.SourceHash)
		if err != nil {
			serverHandler.failIngestion(dbCtx, jobID, err)
			return
		}
	}

	created, err := serverHandler.DB.CreateFlipbook(dbCtx, fb)
	if err != nil {
		if fb.SourcePath != "" {
			os.Remove(fb.SourcePath)
		}
		serverHandler.failIngestion(dbCtx, jobID, fmt.Errorf("storing flipbook: %w", err))
		return
	}

	resultJSON, _ := json.Marshal(database.IngestionResult{
		FlipbookID: created.ID.String(),
		PageCount:  created.PageCount,
	})
	if err := serverHandler.DB.CompleteJob(dbCtx, jobID, string(resultJSON)); err != nil {
		Logger.Error("Failed to complete job", "jobID", jobID, "error", err)
	}
	Logger.Info("Flipbook created", "id", created.ID, "title", created.Title, "pages", created.PageCount)
}

func (serverHandler *ServerHandler) failIngestion(ctx context.Context, jobID ulid.ULID, err error) {
	Logger.Error("Ingestion failed", "jobID", jobID, "error", err)
	if updateErr := serverHandler.DB.UpdateJobError(ctx, jobID, err.Error()); updateErr != nil {
		Logger.Error("Failed to mark job as failed", "jobID", jobID, "error", updateErr)
	}
}

// storeSource writes the original PDF next to the other sources and verifies
// the written copy against the upload hash, removing it on mismatch
func (serverHandler *ServerHandler) storeSource(id ulid.ULID, data []byte, hash string) (string, error) {
	dir := serverHandler.ServerConfig.SourcePath
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create source directory: %w", err)
	}
	path := filepath.Join(dir, id.String()+".pdf")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write source PDF: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to reopen source PDF: %w", err)
	}
	writtenHash, err := database.CalculateHash(file)
	file.Close()
	if err != nil || writtenHash != hash {
		os.Remove(path)
		return "", fmt.Errorf("source PDF verification failed for %s: expected %s, got %s (%v)", path, hash, writtenHash, err)
	}
	Logger.Debug("Stored source PDF", "path", path, "hash", hash)
	return path, nil
}
