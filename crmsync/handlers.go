package crmsync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/leads_backend/config"
	"bitbucket.org/mmdatafocus/leads_backend/models"
	"bitbucket.org/mmdatafocus/leads_backend/utils"
)

type createJobRequest struct {
	Kind        string          `json:"kind" binding:"required,oneof=resync reprocess"`
	Filter      json.RawMessage `json:"filter"`
	BatchSize   int             `json:"batch_size" binding:"omitempty,min=1,max=500"`
	TriggeredBy string          `json:"triggered_by"`
}

func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(verrs)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func jobIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return uint(id), true
}

// CreateJobHandler creates a resync or reprocess job and optionally publishes
// its first process trigger.
func CreateJobHandler(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	engine := NewEngine(config.GetDB(), config.GetLogger())
	job, err := engine.CreateJob(c.Request.Context(), req.Kind, req.Filter, req.BatchSize, req.TriggeredBy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := PublishJobTrigger(c.Request.Context(), job.ID); err != nil {
		// The job row exists; the operator can still trigger it over HTTP.
		config.LogError(config.GetLogger(), "crmsync", "CreateJobHandler", "publish trigger", job.ID, err)
	}
	c.JSON(http.StatusCreated, job)
}

// ProcessJobHandler runs one batch synchronously; the operator-facing analog
// of the Pub/Sub trigger.
func ProcessJobHandler(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	engine := NewEngine(config.GetDB(), config.GetLogger())
	progress, err := engine.ProcessJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, progress)
}

func PauseJobHandler(c *gin.Context) {
	transitionHandler(c, func(e *Engine, id uint) (*models.SyncJob, error) {
		return e.PauseJob(c.Request.Context(), id)
	})
}

func ResumeJobHandler(c *gin.Context) {
	transitionHandler(c, func(e *Engine, id uint) (*models.SyncJob, error) {
		return e.ResumeJob(c.Request.Context(), id)
	})
}

func CancelJobHandler(c *gin.Context) {
	transitionHandler(c, func(e *Engine, id uint) (*models.SyncJob, error) {
		return e.CancelJob(c.Request.Context(), id)
	})
}

func transitionHandler(c *gin.Context, fn func(*Engine, uint) (*models.SyncJob, error)) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	engine := NewEngine(config.GetDB(), config.GetLogger())
	job, err := fn(engine, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func JobStatusHandler(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}

	engine := NewEngine(config.GetDB(), config.GetLogger())
	status, err := engine.JobStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListJobsHandler returns recent jobs, newest first.
func ListJobsHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var jobs []models.SyncJob
	q := config.GetDB().WithContext(c.Request.Context()).Order("id DESC").Limit(limit)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&jobs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// ImportHandler pulls one page run of leads from the CRM into the local table.
func ImportHandler(c *gin.Context) {
	res, err := RunImport(c.Request.Context(), config.GetDB())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
