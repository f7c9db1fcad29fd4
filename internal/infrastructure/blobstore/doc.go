// Package blobstore fetches small JSON configuration documents from object
// storage.
//
// The only implementation is S3Fetcher, which reads an object with the AWS
// SDK, transparently gunzips it, and parses it into a Document. Failures are
// classified as ErrBlobNotFound, ErrBlobUnreadable or ErrTransport and
// wrapped in *FetchError. The fetcher neither retries nor caches; callers
// own both policies.
package blobstore
