package collector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
)

// ErrUnresolved is returned when no source produced an endpoint.
var ErrUnresolved = errors.New("collector endpoint unresolved")

// Resolution is a resolved endpoint and the source that produced it.
type Resolution struct {
	Endpoint Endpoint
	Source   string
}

// Resolver tries sources in order; the first success wins.
type Resolver struct {
	sources []Source
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewResolver creates a resolver over sources.
func NewResolver(logger *zap.Logger, metrics *monitoring.Metrics, sources ...Source) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{sources: sources, logger: logger, metrics: metrics}
}

// Resolve returns the first endpoint a source produces. When every source
// fails the error wraps ErrUnresolved and each source's error.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	errs := []error{ErrUnresolved}

	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		ep, err := src.Resolve(ctx)
		switch {
		case err == nil:
			r.metrics.RecordResolution(src.Name(), "ok")
			r.logger.Info("Collector endpoint resolved",
				zap.String("source", src.Name()),
				zap.String("endpoint", ep.String()),
			)
			return Resolution{Endpoint: ep, Source: src.Name()}, nil
		case errors.Is(err, ErrNotConfigured):
			r.metrics.RecordResolution(src.Name(), "skipped")
			r.logger.Debug("Collector source not configured", zap.String("source", src.Name()))
		default:
			r.metrics.RecordResolution(src.Name(), "error")
			r.logger.Warn("Collector source failed, trying next",
				zap.String("source", src.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}

	return Resolution{}, errors.Join(errs...)
}
