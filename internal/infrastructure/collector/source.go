package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/blobstore"
)

// ErrNotConfigured is returned by a source that has nothing to offer, as
// opposed to one that tried and failed.
var ErrNotConfigured = errors.New("source not configured")

// ErrNoAddressField means the fetched document had none of the expected
// address fields.
var ErrNoAddressField = errors.New("no address field in document")

// Source produces a collector endpoint.
type Source interface {
	Name() string
	Resolve(ctx context.Context) (Endpoint, error)
}

// StaticSource returns a fixed address.
type StaticSource struct {
	Address     string
	DefaultPort int
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Resolve(context.Context) (Endpoint, error) {
	if strings.TrimSpace(s.Address) == "" {
		return Endpoint{}, ErrNotConfigured
	}
	return ParseEndpoint(s.Address, s.DefaultPort)
}

// EnvKeys are the standard OTLP exporter variables, most specific first.
var EnvKeys = []string{
	"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

// EnvSource reads the address from the process environment.
type EnvSource struct {
	Keys        []string
	DefaultPort int
	// Lookup defaults to os.LookupEnv
	Lookup func(string) (string, bool)
}

func (s EnvSource) Name() string { return "environment" }

func (s EnvSource) Resolve(context.Context) (Endpoint, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	keys := s.Keys
	if keys == nil {
		keys = EnvKeys
	}

	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			ep, err := ParseEndpoint(v, s.DefaultPort)
			if err != nil {
				return Endpoint{}, fmt.Errorf("%s: %w", key, err)
			}
			return ep, nil
		}
	}
	return Endpoint{}, ErrNotConfigured
}

// BlobSource reads the address out of a document in the blob store, trying
// Fields in order. Transport failures are retried up to Attempts times.
type BlobSource struct {
	Fetcher     blobstore.Fetcher
	Location    blobstore.Location
	Fields      []string
	DefaultPort int
	Attempts    int
	Backoff     time.Duration
}

func (s BlobSource) Name() string { return "blob" }

func (s BlobSource) Resolve(ctx context.Context) (Endpoint, error) {
	if s.Fetcher == nil || s.Location.IsZero() || len(s.Fields) == 0 {
		return Endpoint{}, ErrNotConfigured
	}

	doc, err := s.fetch(ctx)
	if err != nil {
		return Endpoint{}, err
	}

	for _, field := range s.Fields {
		if v, ok := doc.String(field); ok {
			ep, err := ParseEndpoint(v, s.DefaultPort)
			if err != nil {
				return Endpoint{}, fmt.Errorf("field %s: %w", field, err)
			}
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w (tried %s)", ErrNoAddressField, strings.Join(s.Fields, ", "))
}

func (s BlobSource) fetch(ctx context.Context) (blobstore.Document, error) {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var err error
	for attempt := 1; ; attempt++ {
		var doc blobstore.Document
		doc, err = s.Fetcher.Fetch(ctx, s.Location)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, blobstore.ErrTransport) || attempt >= attempts {
			return nil, err
		}

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
