package blobstore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// MaxDocumentSize bounds how much of an object is read.
const MaxDocumentSize = 1 << 20

// S3API is the subset of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client.
type S3Options struct {
	// Region overrides the region from the environment
	Region string
	// Endpoint points the client at an S3-compatible store
	Endpoint string
}

// NewS3Client builds an S3 client from the default credential chain.
// Loading the config reads the environment and shared files only; no
// network call happens until the first request.
func NewS3Client(ctx context.Context, opts S3Options, logger *zap.Logger) (*s3.Client, error) {
	loadOptions := []func(*config.LoadOptions) error{
		config.WithLogger(newLogAdapter(logger)),
	}
	if opts.Region != "" {
		loadOptions = append(loadOptions, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("could not initialize an aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Fetcher reads JSON documents from S3.
type S3Fetcher struct {
	client S3API
	logger *zap.Logger
}

// NewS3Fetcher creates a fetcher over client.
func NewS3Fetcher(client S3API, logger *zap.Logger) *S3Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Fetcher{client: client, logger: logger}
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, loc Location) (Document, error) {
	if loc.IsZero() {
		return nil, fetchErr(loc, ErrBlobNotFound, errors.New("empty bucket or key"))
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fetchErr(loc, classify(err), err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(out.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, fetchErr(loc, ErrTransport, err)
	}
	if len(raw) > MaxDocumentSize {
		return nil, fetchErr(loc, ErrBlobUnreadable, fmt.Errorf("object larger than %d bytes", MaxDocumentSize))
	}

	if isGzip(aws.ToString(out.ContentEncoding), raw) {
		raw, err = gunzip(raw)
		if err != nil {
			return nil, fetchErr(loc, ErrBlobUnreadable, err)
		}
	}

	doc, err := Parse(raw)
	if err != nil {
		return nil, fetchErr(loc, ErrBlobUnreadable, err)
	}

	f.logger.Debug("Fetched config document",
		zap.String("location", loc.String()),
		zap.Int("bytes", len(raw)),
		zap.Int("fields", len(doc)),
	)
	return doc, nil
}

// Parse decodes raw as a JSON object.
func Parse(raw []byte) (Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("document is not a JSON object")
	}

	var doc Document
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func classify(err error) error {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return ErrBlobNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrBlobNotFound
		}
	}
	return ErrTransport
}

func isGzip(contentEncoding string, raw []byte) bool {
	if strings.EqualFold(contentEncoding, "gzip") {
		return true
	}
	return len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDocumentSize {
		return nil, fmt.Errorf("decompressed object larger than %d bytes", MaxDocumentSize)
	}
	return out, nil
}

// newLogAdapter routes AWS SDK log output into zap.
func newLogAdapter(logger *zap.Logger) logging.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	sdkLogger := logger.Named("aws")
	return logging.LoggerFunc(func(classification logging.Classification, format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		if classification == logging.Warn {
			sdkLogger.Warn(msg)
			return
		}
		sdkLogger.Debug(msg)
	})
}
