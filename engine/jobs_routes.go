package engine

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/drummonds/flipbook/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// jobResponse is a job plus the flipbook a completed ingestion produced,
// so upload clients can navigate without parsing the result themselves
type jobResponse struct {
	database.Job
	FlipbookID string `json:"flipbookId,omitempty"`
}

func newJobResponse(job database.Job) jobResponse {
	response := jobResponse{Job: job}
	if job.Type == database.JobTypeIngestion && job.Status == database.JobStatusCompleted && job.Result != "" {
		var result database.IngestionResult
		if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
			Logger.Warn("Unreadable ingestion result", "jobID", job.ID, "error", err)
		} else {
			response.FlipbookID = result.FlipbookID
		}
	}
	return response
}

func newJobResponses(jobs []database.Job) []jobResponse {
	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, newJobResponse(job))
	}
	return responses
}

// GetJob retrieves a job by ID; upload clients poll it for progress
// @Summary Get job by ID
// @Description Retrieve status, progress (0-100, never decreasing) and error of a job. A completed ingestion carries the new flipbook ID
// @Tags Jobs
// @Accept json
// @Produce json
// @Param id path string true "Job ID (ULID)"
// @Success 200 {object} jobResponse "Job details"
// @Failure 400 {object} map[string]interface{} "Invalid job ID"
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Router /jobs/{id} [get]
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	jobID, err := ulid.ParseStrict(c.Param("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID format")
	}

	job, err := serverHandler.DB.GetJob(c.Request().Context(), jobID)
	if err != nil {
		return errorResponse(c, err, "Job not found")
	}

	return c.JSON(http.StatusOK, newJobResponse(*job))
}

// GetRecentJobs retrieves recent jobs with pagination
// @Summary Get recent jobs
// @Description Retrieve ingestion and maintenance jobs, newest first
// @Tags Jobs
// @Accept json
// @Produce json
// @Param limit query int false "Number of jobs to return (default: 20, max: 100)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Success 200 {array} jobResponse "List of jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs [get]
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	limit, offset := 20, 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}

	jobs, err := serverHandler.DB.GetRecentJobs(c.Request().Context(), limit, offset)
	if err != nil {
		return errorResponse(c, err, "Failed to retrieve jobs")
	}
	return c.JSON(http.StatusOK, newJobResponses(jobs))
}

// GetActiveJobs retrieves all currently running or pending jobs
// @Summary Get active jobs
// @Description Retrieve all jobs that are currently running or pending
// @Tags Jobs
// @Accept json
// @Produce json
// @Success 200 {array} jobResponse "List of active jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs/active [get]
func (serverHandler *ServerHandler) GetActiveJobs(c echo.Context) error {
	jobs, err := serverHandler.DB.GetActiveJobs(c.Request().Context())
	if err != nil {
		return errorResponse(c, err, "Failed to retrieve active jobs")
	}
	return c.JSON(http.StatusOK, newJobResponses(jobs))
}
