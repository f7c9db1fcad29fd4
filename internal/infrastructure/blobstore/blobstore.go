package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBlobNotFound means the bucket or key does not exist.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrBlobUnreadable means the object exists but is not a JSON object.
	ErrBlobUnreadable = errors.New("blob unreadable")
	// ErrTransport covers every other failure talking to the store.
	ErrTransport = errors.New("blob store transport error")
)

// Location identifies one object in the store.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return l.Bucket + "/" + l.Key
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Bucket == "" || l.Key == ""
}

// Document is a parsed JSON object.
type Document map[string]any

// String returns the trimmed string value of field, if it is a non-empty
// string.
func (d Document) String(field string) (string, bool) {
	v, ok := d[field].(string)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Fetcher reads and parses a configuration document. Every call reads the
// store again.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location) (Document, error)
}

// FetchError wraps a fetch failure with the location it concerns.
type FetchError struct {
	Location Location
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(loc Location, kind error, cause error) error {
	if cause == nil {
		return &FetchError{Location: loc, Err: kind}
	}
	return &FetchError{Location: loc, Err: fmt.Errorf("%w: %w", kind, cause)}
}
