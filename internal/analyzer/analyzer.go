package analyzer

import (
	"context"
	"errors"

	"unicornio-backend/internal/entrepreneurs"
)

// Client produces an analysis report for an entrepreneur record.
type Client interface {
	Analyze(ctx context.Context, req Request) (entrepreneurs.Report, error)
}

// Request carries the record being analyzed. Emprendedor is a snapshot taken
// when the run started.
type Request struct {
	EmprendedorID string
	Emprendedor   entrepreneurs.Emprendedor
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("el servicio de análisis no está configurado")

// PlaceholderClient fails every analysis. It backs ANALYZER_MODE=disabled.
type PlaceholderClient struct{}

// Analyze returns ErrNotConfigured.
func (PlaceholderClient) Analyze(ctx context.Context, req Request) (entrepreneurs.Report, error) {
	_ = ctx
	_ = req
	return entrepreneurs.Report{}, ErrNotConfigured
}
