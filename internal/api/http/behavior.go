package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/tracing"
)

// Reply is what a route handler produces.
type Reply struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	TraceID string `json:"traceId,omitempty"`
}

// StatusError is a handler failure with the status code it should surface as.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Handler runs inside a route's span.
type Handler func(ctx context.Context, span *tracing.Active) (Reply, error)

// Text replies 200 with message and the active trace id.
func Text(message string) Handler {
	return func(ctx context.Context, span *tracing.Active) (Reply, error) {
		return Reply{Status: http.StatusOK, Message: message, TraceID: span.TraceID()}, nil
	}
}

// Delay replies like Text after d. The wait ends early when ctx does.
func Delay(message string, d time.Duration) Handler {
	return func(ctx context.Context, span *tracing.Active) (Reply, error) {
		span.AddEvent("delay.start")

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		}

		span.AddEvent("delay.end")
		return Reply{Status: http.StatusOK, Message: message, TraceID: span.TraceID()}, nil
	}
}

// Fail always returns a StatusError carrying code.
func Fail(message string, code int) Handler {
	return func(ctx context.Context, span *tracing.Active) (Reply, error) {
		return Reply{}, &StatusError{Code: code, Err: errors.New(message)}
	}
}

func handlerFor(r Route, slowDelay time.Duration) Handler {
	switch r.Behavior {
	case BehaviorDelay:
		return Delay(r.Message, slowDelay)
	case BehaviorFail:
		return Fail(r.Message, r.Status)
	default:
		return Text(r.Message)
	}
}
