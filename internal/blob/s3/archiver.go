package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// EvidenceArchiver stores attempt evidence as JSON documents at
// <prefix>/<market id>/<attempt id>.json.
type EvidenceArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewEvidenceArchiver returns an archiver over the given blob store. An
// empty prefix defaults to "evidence".
func NewEvidenceArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string) *EvidenceArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "evidence"
	}
	return &EvidenceArchiver{writer: writer, reader: reader, prefix: prefix}
}

// EvidencePath returns the object key for an attempt.
func (a *EvidenceArchiver) EvidencePath(marketID, attemptID string) string {
	return path.Join(a.prefix, marketID, attemptID+".json")
}

// Archive uploads the evidence and returns its object key.
func (a *EvidenceArchiver) Archive(ctx context.Context, ev domain.AttemptEvidence) (string, error) {
	if ev.AttemptID == "" || ev.MarketID == "" {
		return "", fmt.Errorf("s3blob: archive: attempt and market id are required")
	}
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive: marshal: %w", err)
	}
	key := a.EvidencePath(ev.MarketID, ev.AttemptID)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive: %w", err)
	}
	return key, nil
}

// Fetch reads evidence back. Unknown attempts return domain.ErrNotFound.
func (a *EvidenceArchiver) Fetch(ctx context.Context, marketID, attemptID string) (domain.AttemptEvidence, error) {
	body, err := a.reader.Get(ctx, a.EvidencePath(marketID, attemptID))
	if err != nil {
		return domain.AttemptEvidence{}, fmt.Errorf("s3blob: fetch evidence: %w", err)
	}
	defer body.Close()

	var ev domain.AttemptEvidence
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		return domain.AttemptEvidence{}, fmt.Errorf("s3blob: fetch evidence: decode: %w", err)
	}
	return ev, nil
}

var _ domain.EvidenceArchive = (*EvidenceArchiver)(nil)
