package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// DecisionArchiveStore is the narrow store surface the archiver needs: read
// the rows past retention, delete them once the upload is verified.
type DecisionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.DistributionDecision, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter uploads one object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobProber verifies an object landed.
type BlobProber interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// multipartThreshold is the payload size above which the archiver switches
// to multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// DecisionArchiver moves distribution decisions past the retention cutoff
// from the hot store to object storage as JSONL. Hot rows are deleted only
// after the uploaded object has been verified, so a failed upload never
// loses audit records.
type DecisionArchiver struct {
	store  DecisionArchiveStore
	writer BlobWriter
	prober BlobProber
	logger *slog.Logger
}

// NewDecisionArchiver creates a DecisionArchiver.
func NewDecisionArchiver(store DecisionArchiveStore, writer BlobWriter, prober BlobProber, logger *slog.Logger) *DecisionArchiver {
	return &DecisionArchiver{
		store:  store,
		writer: writer,
		prober: prober,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedDecision is the JSONL row shape. Field names are part of the
// archive format; renaming them breaks downstream consumers.
type archivedDecision struct {
	AttemptID     string    `json:"attempt_id"`
	OpportunityID string    `json:"opportunity_id"`
	UserID        string    `json:"user_id"`
	Outcome       string    `json:"outcome"`
	SkipReason    string    `json:"skip_reason,omitempty"`
	ChatContext   string    `json:"chat_context,omitempty"`
	AttemptedAt   time.Time `json:"attempted_at"`
}

// Archive uploads all decisions attempted before the cutoff to
// archive/decisions/YYYY-MM-DD.jsonl and removes them from the hot store.
// It returns the number of archived records.
func (a *DecisionArchiver) Archive(ctx context.Context, before time.Time) (int64, error) {
	decisions, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	if len(decisions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(decisions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions marshal: %w", err)
	}

	path := archivePath(before)
	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions upload: %w", err)
	}

	ok, err := a.prober.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive decisions verify: object %s missing after upload", path)
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		// The upload succeeded; the rows will be re-archived (same keyed
		// object) on the next run.
		return int64(len(decisions)), fmt.Errorf("s3blob: archive decisions prune: %w", err)
	}

	a.logger.InfoContext(ctx, "decisions archived",
		slog.String("path", path),
		slog.Int("archived", len(decisions)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(decisions)), nil
}

// archivePath builds the S3 key for a cutoff, partitioned by day:
//
//	archive/decisions/2026-08-31.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/decisions/%s.jsonl", before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises the decisions as newline-delimited JSON.
func marshalJSONL(decisions []domain.DistributionDecision) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, d := range decisions {
		row := archivedDecision{
			AttemptID:     d.AttemptID,
			OpportunityID: d.OpportunityID,
			UserID:        d.UserID,
			Outcome:       string(d.Outcome),
			SkipReason:    string(d.SkipReason),
			ChatContext:   string(d.ChatContext),
			AttemptedAt:   d.AttemptedAt,
		}
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
