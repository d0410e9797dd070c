// Package media defines the document and image renderers for meal plans.
//
// Rendering is not available yet; the stubs report ErrNotImplemented so
// callers can fall back to text replies.
package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// ErrNotImplemented is returned by renderers that have no backend yet.
var ErrNotImplemented = errors.New("media: not implemented")

// PDFGenerator renders a month of meal plans as a PDF and returns its path.
type PDFGenerator interface {
	GenerateMonthlyPDF(ctx context.Context, p *models.BabyProfile, month time.Time) (string, error)
}

// ImageGenerator renders a single meal plan as a PNG and returns its path.
type ImageGenerator interface {
	GenerateMealPlanImage(ctx context.Context, plan *models.MealPlan) (string, error)
}

// StubPDFGenerator always returns ErrNotImplemented.
type StubPDFGenerator struct{}

// GenerateMonthlyPDF implements PDFGenerator.
func (StubPDFGenerator) GenerateMonthlyPDF(ctx context.Context, p *models.BabyProfile, month time.Time) (string, error) {
	slog.Info("StubPDFGenerator.GenerateMonthlyPDF: not implemented", "month", month.Format("2006-01"))
	return "", ErrNotImplemented
}

// StubImageGenerator always returns ErrNotImplemented.
type StubImageGenerator struct{}

// GenerateMealPlanImage implements ImageGenerator.
func (StubImageGenerator) GenerateMealPlanImage(ctx context.Context, plan *models.MealPlan) (string, error) {
	slog.Info("StubImageGenerator.GenerateMealPlanImage: not implemented")
	return "", ErrNotImplemented
}
