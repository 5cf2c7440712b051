package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cryoflow/cryoflow/internal/history"
)

func TestNewEmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestSendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New("sqlite://" + path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventDelete, OccurredAt: time.Now(), Project: "/data/proj", Subject: "MotionCorr/job002/", Detail: "nodes=1"},
		{Type: history.EventTransition, OccurredAt: time.Now(), Project: "/data/proj", Subject: "motioncorr", Detail: "Running->Failed"},
	}
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orchestration_history").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(events) {
		t.Fatalf("rows = %d, want %d", n, len(events))
	}
	var ev, subject, detail string
	err = s.db.QueryRowContext(ctx,
		"SELECT event, subject, detail FROM orchestration_history WHERE event = ?",
		string(history.EventTransition)).Scan(&ev, &subject, &detail)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if subject != "motioncorr" || detail != "Running->Failed" {
		t.Fatalf("row = %q %q %q", ev, subject, detail)
	}
}

func TestBareFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Send(context.Background(), history.Event{Type: history.EventRunStart, OccurredAt: time.Now(), Project: "p", Subject: "prep"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// schema creation is idempotent across reopen
	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	var n int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM orchestration_history").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows after reopen = %d", n)
	}
}
