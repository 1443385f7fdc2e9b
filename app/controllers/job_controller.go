package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"github.com/VictorKazakov/NeuroCanvas/app/repository"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/scheduler"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/usercontext"
)

// artifactURL resolves a presigned (or local) download link for an artifact.
// Wired from main so the controllers never depend on the storage backend.
var artifactURL func(ctx context.Context, artifact *models.Artifact, ttl time.Duration) (string, error)

// SetArtifactURLResolver installs the artifact link resolver.
func SetArtifactURLResolver(fn func(ctx context.Context, artifact *models.Artifact, ttl time.Duration) (string, error)) {
	artifactURL = fn
}

const artifactLinkTTL = 15 * time.Minute

type submitJobRequest struct {
	Prompt    string `json:"prompt" validate:"required,min=1,max=2000"`
	Style     string `json:"style" validate:"omitempty,max=50"`
	Tier      string `json:"tier" validate:"omitempty,oneof=fast standard high ultra"`
	ImageSize string `json:"image_size" validate:"omitempty,max=20"`
}

// HandleJobSubmit admits a generation job for the authenticated user.
// Credits are debited atomically with the job insert; a rejected request
// never touches the balance.
func HandleJobSubmit(c *fiber.Ctx) error {
	var req submitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed JSON body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	sched := scheduler.GetManager().GetScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := sched.Submit(ctx, scheduler.SubmitRequest{
		UserID:    usercontext.UserID(c),
		Prompt:    req.Prompt,
		Style:     req.Style,
		Tier:      req.Tier,
		ImageSize: req.ImageSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrInsufficientCredits):
			return jsonError(c, fiber.StatusPaymentRequired, "insufficient_credits", "Credit balance does not cover this job")
		case errors.Is(err, scheduler.ErrBackpressure):
			return jsonError(c, fiber.StatusTooManyRequests, "backpressure", "Job backlog is full, retry later")
		default:
			log.Errorf("[Jobs] submit failed for user %d: %v", usercontext.UserID(c), err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Job submission failed")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"job_uuid":       job.JobUUID,
		"state":          job.State,
		"quality_tier":   job.QualityTier,
		"image_size":     job.ImageSize,
		"credit_cost":    job.CreditCost,
		"priority_class": job.PriorityClass,
	})
}

// HandleJobStatus returns one job of the authenticated user, including a
// short-lived artifact link once the job succeeded.
func HandleJobStatus(c *fiber.Ctx) error {
	job, err := repository.GetGlobalFactory().GetJobRepository().GetByUUID(c.Params("id"))
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "unknown_job", "Job not found")
	}
	if job.UserID != usercontext.UserID(c) && !usercontext.IsAdmin(c) {
		return jsonError(c, fiber.StatusNotFound, "unknown_job", "Job not found")
	}

	resp := fiber.Map{
		"job_uuid":       job.JobUUID,
		"state":          job.State,
		"quality_tier":   job.QualityTier,
		"image_size":     job.ImageSize,
		"credit_cost":    job.CreditCost,
		"priority_class": job.PriorityClass,
		"attempts":       job.Attempts,
		"created_at":     job.CreatedAt,
	}
	if job.FailureReason != "" {
		resp["failure_reason"] = job.FailureReason
	}
	if job.FinishedAt != nil {
		resp["finished_at"] = job.FinishedAt
	}
	if job.State == models.JobStateSucceeded && job.ArtifactID != nil && artifactURL != nil {
		artifact, aerr := repository.GetGlobalFactory().GetArtifactRepository().GetByID(*job.ArtifactID)
		if aerr == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if url, uerr := artifactURL(ctx, artifact, artifactLinkTTL); uerr == nil {
				resp["artifact_url"] = url
			} else {
				log.Errorf("[Jobs] artifact link for job %s failed: %v", job.JobUUID, uerr)
			}
		}
	}
	return c.JSON(resp)
}

// HandleJobCancel cancels a queued or retrying job and refunds its cost.
func HandleJobCancel(c *fiber.Ctx) error {
	jobUUID := c.Params("id")
	job, err := repository.GetGlobalFactory().GetJobRepository().GetByUUID(jobUUID)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "unknown_job", "Job not found")
	}
	if job.UserID != usercontext.UserID(c) && !usercontext.IsAdmin(c) {
		return jsonError(c, fiber.StatusNotFound, "unknown_job", "Job not found")
	}

	sched := scheduler.GetManager().GetScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelled, err := sched.Cancel(ctx, jobUUID)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownJob):
			return jsonError(c, fiber.StatusNotFound, "unknown_job", "Job not found")
		case errors.Is(err, scheduler.ErrNotCancellable):
			return jsonError(c, fiber.StatusConflict, "not_cancellable", "Job already started or finished")
		default:
			log.Errorf("[Jobs] cancel failed for job %s: %v", jobUUID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Cancel failed")
		}
	}

	return c.JSON(fiber.Map{"job_uuid": cancelled.JobUUID, "state": cancelled.State})
}

// HandleJobList returns the authenticated user's recent jobs.
func HandleJobList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	jobs, err := repository.GetGlobalFactory().GetJobRepository().ListByUserID(usercontext.UserID(c), offset, limit)
	if err != nil {
		log.Errorf("[Jobs] list failed for user %d: %v", usercontext.UserID(c), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load jobs")
	}
	return c.JSON(fiber.Map{"jobs": jobs})
}

// HandleUserBalance returns the credit balance of a user. Users may read
// their own balance; admins may read any.
func HandleUserBalance(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Invalid user id")
	}
	userID := uint(id)
	if userID != usercontext.UserID(c) && !usercontext.IsAdmin(c) {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Cannot read another user's balance")
	}

	balance, err := scheduler.GetManager().GetScheduler().Balance(userID)
	if err != nil {
		log.Errorf("[Jobs] balance lookup failed for user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Balance lookup failed")
	}
	return c.JSON(fiber.Map{"user_id": userID, "balance": balance})
}

// HandleSchedulerStats exposes pool health and queue depths for operators.
func HandleSchedulerStats(c *fiber.Ctx) error {
	sched := scheduler.GetManager().GetScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queueStats, err := sched.QueueStats(ctx)
	if err != nil {
		log.Errorf("[Jobs] queue stats failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Stats unavailable")
	}

	pool := sched.PoolStats()
	return c.JSON(fiber.Map{
		"pool": fiber.Map{
			"total":   pool.Total,
			"busy":    pool.Busy,
			"failed":  pool.Failed,
			"idle":    pool.Idle,
			"healthy": pool.Healthy,
		},
		"queue": queueStats,
	})
}
