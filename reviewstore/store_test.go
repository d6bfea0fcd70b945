package reviewstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviews.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestMarkAndLookup(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	first := time.Date(2022, 12, 17, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	if err := s.MarkReviewed(ctx, []string{"sd1", " ", "sd2"}); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}
	ok, err := s.IsReviewed(ctx, "sd1")
	if err != nil || !ok {
		t.Fatalf("IsReviewed(sd1) = %v, %v", ok, err)
	}
	ok, err = s.IsReviewed(ctx, "sd3")
	if err != nil || ok {
		t.Fatalf("IsReviewed(sd3) = %v, %v", ok, err)
	}

	s.now = func() time.Time { return first.Add(time.Hour) }
	if err := s.MarkReviewed(ctx, []string{"sd1", "sd3"}); err != nil {
		t.Fatalf("MarkReviewed again: %v", err)
	}
	got, err := s.Reviewed(ctx)
	if err != nil {
		t.Fatalf("Reviewed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 reviews, got %d", len(got))
	}
	if got[0].SignalDetectionID != "sd1" || !got[0].ReviewedAt.Equal(first) {
		t.Fatalf("first mark time not kept: %+v", got[0])
	}
	if got[2].SignalDetectionID != "sd3" {
		t.Fatalf("unexpected order %+v", got)
	}

	lookup := s.Lookup(ctx)
	if !lookup("sd2") || lookup("missing") {
		t.Fatalf("lookup disagrees with the table")
	}
}

func TestMarksSurviveReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	if err := s.MarkReviewed(ctx, []string{"sd1"}); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if ok, err := reopened.IsReviewed(ctx, "sd1"); err != nil || !ok {
		t.Fatalf("mark lost across reopen: %v %v", ok, err)
	}
}

func TestClosedStore(t *testing.T) {
	s, _ := openTestStore(t)
	s.Close()
	if err := s.MarkReviewed(context.Background(), []string{"sd1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.IsReviewed(context.Background(), "sd1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if s.Lookup(context.Background())("sd1") {
		t.Fatalf("closed store reported a review")
	}
}
