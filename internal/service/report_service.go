package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vietlearn/class-access-api/internal/expiry"
	"github.com/vietlearn/class-access-api/internal/models"
	appErrors "github.com/vietlearn/class-access-api/pkg/errors"
	"github.com/vietlearn/class-access-api/pkg/export"
)

type expiringLister interface {
	ListExpiringBefore(ctx context.Context, now, until time.Time) ([]models.EnrollmentDetail, error)
}

// ReportService renders the expiring-soon enrollment table for staff.
type ReportService struct {
	repo   expiringLister
	clock  expiry.Clock
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewReportService constructs ReportService.
func NewReportService(repo expiringLister, clock expiry.Clock, logger *zap.Logger) *ReportService {
	if clock == nil {
		clock = expiry.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{repo: repo, clock: clock, csv: export.NewCSVExporter(), pdf: export.NewPDFExporter(), logger: logger}
}

// ExpiringReport renders enrollments expiring within the 3-day warning
// window in the requested format ("csv" or "pdf").
func (s *ReportService) ExpiringReport(ctx context.Context, format string) ([]byte, string, error) {
	now := s.clock.Now()
	enrollments, err := s.repo.ListExpiringBefore(ctx, now, now.Add(expiry.Window3Days))
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load expiring enrollments")
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Class", "Type", "Expires At", "Hours Left"},
		Rows:    make([]map[string]string, 0, len(enrollments)),
	}
	for _, e := range enrollments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":    e.StudentName,
			"Class":      e.ClassName,
			"Type":       string(e.Type),
			"Expires At": e.ExpiresAt.UTC().Format(time.RFC3339),
			"Hours Left": formatHours(expiry.HoursLeft(now, *e.ExpiresAt)),
		})
	}

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, "Expiring enrollments")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return payload, "application/pdf", nil
	default:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return payload, "text/csv", nil
	}
}

func formatHours(h int) string {
	return strconv.Itoa(h)
}
