package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader downloads objects. Missing objects return ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// EvidenceArchive keeps the prompt and raw oracle answer of every attempt.
type EvidenceArchive interface {
	Archive(ctx context.Context, ev AttemptEvidence) (path string, err error)
	Fetch(ctx context.Context, marketID, attemptID string) (AttemptEvidence, error)
}
