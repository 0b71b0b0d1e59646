package s3blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

type fakeArchiveStore struct {
	decisions []domain.DistributionDecision
	listErr   error
	deleted   int
}

func (f *fakeArchiveStore) ListBefore(_ context.Context, before time.Time) ([]domain.DistributionDecision, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.DistributionDecision
	for _, d := range f.decisions {
		if d.AttemptedAt.Before(before) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeArchiveStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.DistributionDecision
	var n int64
	for _, d := range f.decisions {
		if d.AttemptedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	f.decisions = kept
	f.deleted = int(n)
	return n, nil
}

type fakeBlob struct {
	objects   map[string][]byte
	putErr    error
	multipart int
}

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	body, _ := io.ReadAll(data)
	f.objects[path] = body
	return nil
}

func (f *fakeBlob) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	f.multipart++
	body, _ := io.ReadAll(data)
	f.objects[path] = body
	return nil
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

var archiveCutoff = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

func decisionAt(id string, at time.Time) domain.DistributionDecision {
	return domain.DistributionDecision{
		AttemptID:     id,
		OpportunityID: "opp-1",
		UserID:        "u1",
		Outcome:       domain.OutcomeDelivered,
		ChatContext:   domain.ChatContextPrivate,
		AttemptedAt:   at,
	}
}

func TestArchive_UploadsAndPrunes(t *testing.T) {
	store := &fakeArchiveStore{decisions: []domain.DistributionDecision{
		decisionAt("a1", archiveCutoff.Add(-48*time.Hour)),
		decisionAt("a2", archiveCutoff.Add(-24*time.Hour)),
		decisionAt("a3", archiveCutoff.Add(time.Hour)), // inside retention, kept
	}}
	blob := &fakeBlob{objects: make(map[string][]byte)}
	a := NewDecisionArchiver(store, blob, blob, slog.New(slog.DiscardHandler))

	n, err := a.Archive(context.Background(), archiveCutoff)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}

	body, ok := blob.objects["archive/decisions/2026-08-31.jsonl"]
	if !ok {
		t.Fatalf("archive object missing, have %v", blob.objects)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d JSONL lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"attempt_id":"a1"`) {
		t.Fatalf("first line missing attempt id: %s", lines[0])
	}

	if store.deleted != 2 {
		t.Fatalf("pruned %d hot rows, want 2", store.deleted)
	}
	if len(store.decisions) != 1 || store.decisions[0].AttemptID != "a3" {
		t.Fatalf("hot store left with %+v, want only a3", store.decisions)
	}
}

func TestArchive_NothingToArchive(t *testing.T) {
	store := &fakeArchiveStore{}
	blob := &fakeBlob{objects: make(map[string][]byte)}
	a := NewDecisionArchiver(store, blob, blob, slog.New(slog.DiscardHandler))

	n, err := a.Archive(context.Background(), archiveCutoff)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if n != 0 || len(blob.objects) != 0 {
		t.Fatalf("got n=%d objects=%d, want no upload", n, len(blob.objects))
	}
}

func TestArchive_FailedUploadKeepsHotRows(t *testing.T) {
	store := &fakeArchiveStore{decisions: []domain.DistributionDecision{
		decisionAt("a1", archiveCutoff.Add(-time.Hour)),
	}}
	blob := &fakeBlob{objects: make(map[string][]byte), putErr: errors.New("denied")}
	a := NewDecisionArchiver(store, blob, blob, slog.New(slog.DiscardHandler))

	if _, err := a.Archive(context.Background(), archiveCutoff); err == nil {
		t.Fatal("got nil, want upload error")
	}
	if len(store.decisions) != 1 {
		t.Fatalf("hot rows pruned after failed upload: %+v", store.decisions)
	}
}

func TestArchive_StoreErrorPropagates(t *testing.T) {
	store := &fakeArchiveStore{listErr: domain.ErrStoreUnavailable}
	blob := &fakeBlob{objects: make(map[string][]byte)}
	a := NewDecisionArchiver(store, blob, blob, slog.New(slog.DiscardHandler))

	if _, err := a.Archive(context.Background(), archiveCutoff); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
}
