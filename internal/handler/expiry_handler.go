package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vietlearn/class-access-api/internal/expiry"
	"github.com/vietlearn/class-access-api/internal/models"
	appErrors "github.com/vietlearn/class-access-api/pkg/errors"
	"github.com/vietlearn/class-access-api/pkg/response"
)

type passRunner interface {
	Run(ctx context.Context, studentID string) ([]expiry.Outcome, error)
}

type subjectScheduler interface {
	Start(subjectID string)
	Stop(subjectID string)
	Active(subjectID string) bool
}

// ExpiryHandler exposes operational control over the expiry reconciler
// for staff: activate or deactivate a subject's loop and trigger an
// immediate pass.
type ExpiryHandler struct {
	scheduler subjectScheduler
	runner    passRunner
}

// NewExpiryHandler constructs ExpiryHandler.
func NewExpiryHandler(scheduler subjectScheduler, runner passRunner) *ExpiryHandler {
	return &ExpiryHandler{scheduler: scheduler, runner: runner}
}

func (h *ExpiryHandler) requireStaff(c *gin.Context) bool {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return false
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleStaff {
		response.Error(c, appErrors.ErrForbidden)
		return false
	}
	return true
}

// Start godoc
// @Summary Start a subject's expiry loop
// @Tags Expiry
// @Produce json
// @Param id path string true "Student ID"
// @Success 204 {object} nil
// @Router /expiry/subjects/{id}/start [post]
func (h *ExpiryHandler) Start(c *gin.Context) {
	if !h.requireStaff(c) {
		return
	}
	h.scheduler.Start(c.Param("id"))
	response.NoContent(c)
}

// Stop godoc
// @Summary Stop a subject's expiry loop
// @Tags Expiry
// @Produce json
// @Param id path string true "Student ID"
// @Success 204 {object} nil
// @Router /expiry/subjects/{id}/stop [post]
func (h *ExpiryHandler) Stop(c *gin.Context) {
	if !h.requireStaff(c) {
		return
	}
	h.scheduler.Stop(c.Param("id"))
	response.NoContent(c)
}

// RunNow godoc
// @Summary Run one reconciliation pass immediately
// @Tags Expiry
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /expiry/subjects/{id}/run [post]
func (h *ExpiryHandler) RunNow(c *gin.Context) {
	if !h.requireStaff(c) {
		return
	}
	outcomes, err := h.runner.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		var partial *expiry.PartialPassError
		if !errors.As(err, &partial) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "expiry pass failed"))
			return
		}
		// Partial failure still carries usable outcomes.
	}
	meta := map[string]interface{}{
		"active_loop": h.scheduler.Active(c.Param("id")),
	}
	response.JSON(c, http.StatusOK, outcomes, nil, meta)
}
