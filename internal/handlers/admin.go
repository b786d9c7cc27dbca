package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"app_kernel/internal/controller"
	"app_kernel/internal/jobs"
)

// JobOverview serves GET /admin/jobs: the queue counters.
func (h *Handler) JobOverview(ctx *controller.Context) (any, error) {
	stats, err := h.Queue.Stats(ctx.Ctx)
	if err != nil {
		return nil, fmt.Errorf("handlers: reading queue stats: %w", err)
	}
	return ctx.JSON(stats)
}

// ShowJob serves GET /admin/jobs/{id}: one job's full state, including
// attempts, errors, and results.
func (h *Handler) ShowJob(ctx *controller.Context) (any, error) {
	id := ctx.Params.Value("id")
	if id == "" {
		ctx.Status(http.StatusBadRequest)
		return ctx.JSON(map[string]string{"error": "job id is required"})
	}

	job, err := h.Queue.Get(ctx.Ctx, id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		ctx.Status(http.StatusNotFound)
		return ctx.JSON(map[string]string{"error": "job not found"})
	}
	if err != nil {
		return nil, fmt.Errorf("handlers: loading job %s: %w", id, err)
	}
	return ctx.JSON(job)
}
