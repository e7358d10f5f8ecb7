package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/drummonds/flipbook/database"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// maintenanceResult is stored as the result of a maintenance job
type maintenanceResult struct {
	JobsDeleted     int `json:"jobsDeleted"`
	SessionsExpired int `json:"sessionsExpired"`
}

// InitializeSchedules starts the maintenance cron job; stop the returned cron on exit
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ServerConfig.MaintenanceMinute
	if interval < 1 {
		interval = 1
	}

	c := cron.New()
	var maintenanceJob cron.Job
	maintenanceJob = cron.FuncJob(serverHandler.maintenanceJobFunc)
	maintenanceJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(maintenanceJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), maintenanceJob); err != nil {
		Logger.Error("Unable to schedule maintenance job", "error", err)
	}
	Logger.Info("Adding maintenance job scheduler", "interval_minutes", interval)
	c.Start()
	return c
}

// maintenanceJobFunc prunes finished jobs and expires idle studio sessions
func (serverHandler *ServerHandler) maintenanceJobFunc() {
	ctx := context.WithoutCancel(serverHandler.ctx)
	// Add panic recovery to prevent entire application crash
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in maintenance job", "panic", r)
		}
	}()

	job, err := serverHandler.DB.CreateJob(ctx, database.JobTypeMaintenance, "Pruning jobs and idle studio sessions")
	if err != nil {
		Logger.Error("Failed to create maintenance job", "error", err)
		return
	}
	if err := serverHandler.DB.UpdateJobStatus(ctx, job.ID, database.JobStatusRunning, "Pruning"); err != nil {
		Logger.Error("Failed to update job status", "jobID", job.ID, "error", err)
	}

	result := maintenanceResult{
		SessionsExpired: serverHandler.expireSessions(serverHandler.ServerConfig.SessionTTL, time.Now()),
	}
	if serverHandler.ServerConfig.JobRetention > 0 {
		result.JobsDeleted, err = serverHandler.DB.DeleteOldJobs(ctx, serverHandler.ServerConfig.JobRetention)
		if err != nil {
			Logger.Error("Failed to delete old jobs", "error", err)
			serverHandler.DB.UpdateJobError(ctx, job.ID, err.Error())
			return
		}
	}

	resultJSON, _ := json.Marshal(result)
	if err := serverHandler.DB.CompleteJob(ctx, job.ID, string(resultJSON)); err != nil {
		Logger.Error("Failed to complete maintenance job", "jobID", job.ID, "error", err)
	}
	Logger.Info("Maintenance finished", "jobsDeleted", result.JobsDeleted, "sessionsExpired", result.SessionsExpired)
}
