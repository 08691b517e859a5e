package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/thermal-spool/internal/core"
	"github.com/orrn/thermal-spool/internal/db"
	"github.com/orrn/thermal-spool/internal/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type RetargetRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

type RetargetByIDRequest struct {
	Printer string `json:"printer" binding:"required"`
}

type RetargetResponse struct {
	Retargeted int `json:"retargeted"`
}

type QueueResponse struct {
	Length  int               `json:"length"`
	Running bool              `json:"running"`
	Jobs    []core.JobSummary `json:"jobs"`
}

type DispatchListResponse struct {
	Dispatches []*db.Dispatch    `json:"dispatches"`
	Stats      *db.DispatchStats `json:"stats"`
}

type JobHandler struct {
	jobs       *core.JobManager
	queue      *core.Queue
	dispatches *db.DispatchOperations
	shutdown   func()
}

// NewJobHandler wires the queue operations. shutdown may be nil, in which case the
// queue is stopped in place without taking the server down.
func NewJobHandler(jobs *core.JobManager, queue *core.Queue, dispatches *db.DispatchOperations, shutdown func()) *JobHandler {
	return &JobHandler{
		jobs:       jobs,
		queue:      queue,
		dispatches: dispatches,
		shutdown:   shutdown,
	}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req core.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	job, err := h.jobs.Submit(&req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrQueueStopped):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "queue_stopped", Message: err.Error()})
		case errors.Is(err, core.ErrInvalidEndpoint), errors.Is(err, core.ErrUnsupportedItem):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_job", Message: err.Error()})
		default:
			logger.FromGin(c).Error("failed to enqueue job", zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "enqueue_failed", Message: "Failed to enqueue job"})
		}
		return
	}

	c.JSON(http.StatusAccepted, job.Summary())
}

func (h *JobHandler) ListPending(c *gin.Context) {
	pending := h.queue.ListPending()
	if pending == nil {
		pending = []core.JobSummary{}
	}
	c.JSON(http.StatusOK, pending)
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")
	if !h.queue.DeleteByID(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Job is not queued",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) RetargetJob(c *gin.Context) {
	var req RetargetByIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	ep, err := core.ParseEndpoint(req.Printer)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_endpoint", Message: err.Error()})
		return
	}

	if !h.queue.RetargetByID(c.Param("id"), ep) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Job is not queued"})
		return
	}
	c.JSON(http.StatusOK, RetargetResponse{Retargeted: 1})
}

func (h *JobHandler) RetargetAll(c *gin.Context) {
	var req RetargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	from, err := core.ParseEndpoint(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_endpoint", Message: err.Error()})
		return
	}
	to, err := core.ParseEndpoint(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_endpoint", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, RetargetResponse{Retargeted: h.queue.Retarget(from, to)})
}

func (h *JobHandler) GetQueue(c *gin.Context) {
	jobs := h.queue.Snapshot()
	c.JSON(http.StatusOK, QueueResponse{
		Length:  len(jobs),
		Running: h.queue.IsRunning(),
		Jobs:    jobs,
	})
}

func (h *JobHandler) Shutdown(c *gin.Context) {
	if h.shutdown != nil {
		// respond before the server starts draining connections
		go h.shutdown()
		c.JSON(http.StatusAccepted, gin.H{"message": "shutdown initiated"})
		return
	}

	if err := h.queue.Shutdown(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "shutdown_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "queue stopped"})
}

func (h *JobHandler) ListDispatches(c *gin.Context) {
	if h.dispatches == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no_database", Message: "Dispatch log is not enabled"})
		return
	}

	filter := db.DispatchFilter{
		JobID:   c.Query("job_id"),
		Host:    c.Query("host"),
		Outcome: c.Query("outcome"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "limit must be between 1 and 1000"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "offset must be non-negative"})
			return
		}
		filter.Offset = n
	}

	ctx := c.Request.Context()
	rows, err := h.dispatches.ListDispatches(ctx, filter)
	if err != nil {
		logger.FromGin(c).Error("failed to list dispatches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve dispatches"})
		return
	}
	stats, err := h.dispatches.Stats(ctx)
	if err != nil {
		logger.FromGin(c).Error("failed to get dispatch stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve dispatch stats"})
		return
	}
	if rows == nil {
		rows = []*db.Dispatch{}
	}

	c.JSON(http.StatusOK, DispatchListResponse{Dispatches: rows, Stats: stats})
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/pending", h.ListPending)
	r.POST("/jobs/retarget", h.RetargetAll)
	r.DELETE("/jobs/:id", h.DeleteJob)
	r.POST("/jobs/:id/retarget", h.RetargetJob)
	r.GET("/queue", h.GetQueue)
	r.GET("/dispatches", h.ListDispatches)
	r.POST("/shutdown", h.Shutdown)
}
