package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vietlearn/class-access-api/internal/models"
	"github.com/vietlearn/class-access-api/internal/service"
	appErrors "github.com/vietlearn/class-access-api/pkg/errors"
	"github.com/vietlearn/class-access-api/pkg/response"
)

// SubjectActivator begins periodic expiry reconciliation for a subject.
// Wired to the expiry scheduler so a student session activates its own
// loop.
type SubjectActivator interface {
	Start(subjectID string)
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth      *service.AuthService
	activator SubjectActivator
}

// NewAuthHandler constructs AuthHandler. activator may be nil when the
// expiry loop is disabled.
func NewAuthHandler(auth *service.AuthService, activator SubjectActivator) *AuthHandler {
	return &AuthHandler{auth: auth, activator: activator}
}

// Login godoc
// @Summary Authenticate a user
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	// A student session owns an expiry loop for its own enrollments.
	if h.activator != nil && result.User.Role == models.RoleStudent {
		h.activator.Start(result.User.ID)
	}

	response.JSON(c, http.StatusOK, result, nil)
}
