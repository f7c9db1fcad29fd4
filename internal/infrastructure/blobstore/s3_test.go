package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	body     []byte
	encoding string
	err      error
	calls    int
	lastIn   *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}
	if f.encoding != "" {
		out.ContentEncoding = aws.String(f.encoding)
	}
	return out, nil
}

var outputs = Location{Bucket: "lambda-function-bucket-poridhi", Key: "pulumi-outputs.json"}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	client := &fakeS3{body: []byte(`{"ec2_instance_private_ip":"10.0.1.183","ec2_instance_id":"i-0abc"}`)}
	fetcher := NewS3Fetcher(client, nil)

	doc, err := fetcher.Fetch(context.Background(), outputs)
	require.NoError(t, err)

	ip, ok := doc.String("ec2_instance_private_ip")
	assert.True(t, ok)
	assert.Equal(t, "10.0.1.183", ip)
	assert.Equal(t, "lambda-function-bucket-poridhi", aws.ToString(client.lastIn.Bucket))
	assert.Equal(t, "pulumi-outputs.json", aws.ToString(client.lastIn.Key))
}

func TestFetchReadsFreshEveryCall(t *testing.T) {
	client := &fakeS3{body: []byte(`{"a":"1"}`)}
	fetcher := NewS3Fetcher(client, nil)

	for i := 0; i < 3; i++ {
		_, err := fetcher.Fetch(context.Background(), outputs)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, client.calls)
}

func TestFetchGzip(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
	}{
		{name: "content encoding header", encoding: "gzip"},
		{name: "magic bytes only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeS3{body: gzipped(t, `{"ec2_instance_public_ip":"54.1.2.3"}`), encoding: tt.encoding}

			doc, err := NewS3Fetcher(client, nil).Fetch(context.Background(), outputs)
			require.NoError(t, err)

			ip, ok := doc.String("ec2_instance_public_ip")
			assert.True(t, ok)
			assert.Equal(t, "54.1.2.3", ip)
		})
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeS3
		loc     Location
		wantErr error
	}{
		{
			name:    "missing key",
			client:  &fakeS3{err: &types.NoSuchKey{Message: aws.String("gone")}},
			loc:     outputs,
			wantErr: ErrBlobNotFound,
		},
		{
			name:    "missing bucket",
			client:  &fakeS3{err: &types.NoSuchBucket{}},
			loc:     outputs,
			wantErr: ErrBlobNotFound,
		},
		{
			name:    "generic not found code",
			client:  &fakeS3{err: &smithy.GenericAPIError{Code: "NotFound"}},
			loc:     outputs,
			wantErr: ErrBlobNotFound,
		},
		{
			name:    "empty location",
			client:  &fakeS3{},
			loc:     Location{Bucket: "b"},
			wantErr: ErrBlobNotFound,
		},
		{
			name:    "access denied",
			client:  &fakeS3{err: &smithy.GenericAPIError{Code: "AccessDenied"}},
			loc:     outputs,
			wantErr: ErrTransport,
		},
		{
			name:    "network failure",
			client:  &fakeS3{err: errors.New("dial tcp: i/o timeout")},
			loc:     outputs,
			wantErr: ErrTransport,
		},
		{
			name:    "not json",
			client:  &fakeS3{body: []byte("ec2_instance_ip=10.0.0.1")},
			loc:     outputs,
			wantErr: ErrBlobUnreadable,
		},
		{
			name:    "json array",
			client:  &fakeS3{body: []byte(`["10.0.0.1"]`)},
			loc:     outputs,
			wantErr: ErrBlobUnreadable,
		},
		{
			name:    "truncated json",
			client:  &fakeS3{body: []byte(`{"ec2_instance_ip":`)},
			loc:     outputs,
			wantErr: ErrBlobUnreadable,
		},
		{
			name:    "corrupt gzip",
			client:  &fakeS3{body: []byte{0x1f, 0x8b, 0x00}, encoding: "gzip"},
			loc:     outputs,
			wantErr: ErrBlobUnreadable,
		},
		{
			name:    "too large",
			client:  &fakeS3{body: []byte(`{"pad":"` + strings.Repeat("x", MaxDocumentSize) + `"}`)},
			loc:     outputs,
			wantErr: ErrBlobUnreadable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Fetcher(tt.client, nil).Fetch(context.Background(), tt.loc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.loc, fetchErr.Location)
		})
	}
}

func TestDocumentString(t *testing.T) {
	doc := Document{"ip": "  10.0.0.7 ", "empty": "", "port": 4317.0}

	v, ok := doc.String("ip")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.7", v)

	_, ok = doc.String("empty")
	assert.False(t, ok)
	_, ok = doc.String("port")
	assert.False(t, ok)
	_, ok = doc.String("missing")
	assert.False(t, ok)
}
