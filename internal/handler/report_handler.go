package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/vietlearn/class-access-api/internal/models"
	"github.com/vietlearn/class-access-api/internal/service"
	appErrors "github.com/vietlearn/class-access-api/pkg/errors"
	"github.com/vietlearn/class-access-api/pkg/response"
)

// ReportHandler exposes the expiring-soon export for staff.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Expiring godoc
// @Summary Export enrollments expiring within 3 days
// @Tags Reports
// @Produce text/csv
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /reports/expiring [get]
func (h *ReportHandler) Expiring(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleStaff {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.reports.ExpiringReport(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Download(c, "expiring-enrollments."+format, contentType, payload)
}
