package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/blobstore"
	"github.com/GriffinCanCode/tracedlambda/internal/infrastructure/monitoring"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, loc blobstore.Location) (blobstore.Document, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(blobstore.Document), args.Error(1)
}

var outputs = blobstore.Location{Bucket: "lambda-function-bucket-poridhi", Key: "pulumi-outputs.json"}

var defaultFields = []string{"ec2_instance_private_ip", "ec2_instance_public_ip", "ec2_instance_ip"}

func noEnv(string) (string, bool) { return "", false }

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func blobSource(f blobstore.Fetcher) BlobSource {
	return BlobSource{
		Fetcher:     f,
		Location:    outputs,
		Fields:      defaultFields,
		DefaultPort: DefaultPort,
		Attempts:    2,
		Backoff:     time.Millisecond,
	}
}

func TestResolvePrivateIPFromBlob(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, outputs).
		Return(blobstore.Document{"ec2_instance_private_ip": "10.0.1.183"}, nil).Once()

	resolver := NewResolver(nil, nil,
		StaticSource{DefaultPort: DefaultPort},
		EnvSource{Lookup: noEnv, DefaultPort: DefaultPort},
		blobSource(fetcher),
	)

	res, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.183:4317", res.Endpoint.String())
	assert.Equal(t, "blob", res.Source)
	fetcher.AssertExpectations(t)
}

func TestResolveOrder(t *testing.T) {
	tests := []struct {
		name       string
		static     string
		env        map[string]string
		doc        blobstore.Document
		wantSource string
		wantAddr   string
	}{
		{
			name:       "static wins",
			static:     "static.collector:4317",
			env:        map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://env.collector:4317"},
			wantSource: "static",
			wantAddr:   "static.collector:4317",
		},
		{
			name:       "environment before blob",
			env:        map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://env.collector:4317"},
			wantSource: "environment",
			wantAddr:   "env.collector:4317",
		},
		{
			name: "traces endpoint preferred",
			env: map[string]string{
				"OTEL_EXPORTER_OTLP_ENDPOINT":        "http://generic:4317",
				"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "http://traces:4317",
			},
			wantSource: "environment",
			wantAddr:   "traces:4317",
		},
		{
			name:       "private ip preferred over public",
			doc:        blobstore.Document{"ec2_instance_public_ip": "54.1.2.3", "ec2_instance_private_ip": "10.0.1.183"},
			wantSource: "blob",
			wantAddr:   "10.0.1.183:4317",
		},
		{
			name:       "public ip when private missing",
			doc:        blobstore.Document{"ec2_instance_public_ip": "54.1.2.3"},
			wantSource: "blob",
			wantAddr:   "54.1.2.3:4317",
		},
		{
			name:       "plain ip last",
			doc:        blobstore.Document{"ec2_instance_ip": "10.0.0.5", "ec2_instance_private_ip": ""},
			wantSource: "blob",
			wantAddr:   "10.0.0.5:4317",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := new(mockFetcher)
			fetcher.On("Fetch", mock.Anything, outputs).Return(tt.doc, nil).Maybe()

			resolver := NewResolver(nil, nil,
				StaticSource{Address: tt.static, DefaultPort: DefaultPort},
				EnvSource{Lookup: envOf(tt.env), DefaultPort: DefaultPort},
				blobSource(fetcher),
			)

			res, err := resolver.Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, res.Source)
			assert.Equal(t, tt.wantAddr, res.Endpoint.String())
		})
	}
}

func TestResolveFallsThroughBrokenSources(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, outputs).
		Return(blobstore.Document{"ec2_instance_private_ip": "10.0.1.183"}, nil)

	resolver := NewResolver(nil, nil,
		StaticSource{Address: "bad host:x", DefaultPort: DefaultPort},
		EnvSource{Lookup: envOf(map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://"}), DefaultPort: DefaultPort},
		blobSource(fetcher),
	)

	res, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "blob", res.Source)
}

func TestResolveAllFail(t *testing.T) {
	fetcher := new(mockFetcher)
	notFound := &blobstore.FetchError{Location: outputs, Err: blobstore.ErrBlobNotFound}
	fetcher.On("Fetch", mock.Anything, outputs).Return(nil, notFound).Once()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	resolver := NewResolver(nil, metrics,
		StaticSource{DefaultPort: DefaultPort},
		EnvSource{Lookup: noEnv, DefaultPort: DefaultPort},
		blobSource(fetcher),
	)

	_, err := resolver.Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.ErrorIs(t, err, blobstore.ErrBlobNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EndpointResolutions.WithLabelValues("static", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EndpointResolutions.WithLabelValues("blob", "error")))
	fetcher.AssertExpectations(t)
}

func TestBlobSourceNoAddressField(t *testing.T) {
	fetcher := new(mockFetcher)
	fetcher.On("Fetch", mock.Anything, outputs).Return(blobstore.Document{"ec2_instance_id": "i-0abc"}, nil)

	_, err := blobSource(fetcher).Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNoAddressField)
}

func TestBlobSourceRetriesTransportOnly(t *testing.T) {
	transport := &blobstore.FetchError{Location: outputs, Err: blobstore.ErrTransport}

	t.Run("transport error retried", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("Fetch", mock.Anything, outputs).Return(nil, transport).Once()
		fetcher.On("Fetch", mock.Anything, outputs).
			Return(blobstore.Document{"ec2_instance_ip": "10.0.0.5"}, nil).Once()

		ep, err := blobSource(fetcher).Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5:4317", ep.String())
		fetcher.AssertNumberOfCalls(t, "Fetch", 2)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		fetcher := new(mockFetcher)
		fetcher.On("Fetch", mock.Anything, outputs).Return(nil, transport)

		_, err := blobSource(fetcher).Resolve(context.Background())
		assert.ErrorIs(t, err, blobstore.ErrTransport)
		fetcher.AssertNumberOfCalls(t, "Fetch", 2)
	})

	t.Run("unreadable not retried", func(t *testing.T) {
		fetcher := new(mockFetcher)
		unreadable := &blobstore.FetchError{Location: outputs, Err: blobstore.ErrBlobUnreadable}
		fetcher.On("Fetch", mock.Anything, outputs).Return(nil, unreadable)

		_, err := blobSource(fetcher).Resolve(context.Background())
		assert.ErrorIs(t, err, blobstore.ErrBlobUnreadable)
		fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	})
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := NewResolver(nil, nil, StaticSource{Address: "10.0.0.1"})
	_, err := resolver.Resolve(ctx)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.True(t, errors.Is(err, context.Canceled))
}
