package factory

import (
	"path/filepath"
	"testing"
)

func TestNewSinkFromDSN(t *testing.T) {
	if _, err := NewSinkFromDSN(""); err == nil {
		t.Fatalf("empty DSN accepted")
	}
	if _, err := NewSinkFromDSN("mysql://host/db"); err == nil {
		t.Fatalf("unsupported scheme accepted")
	}

	path := filepath.Join(t.TempDir(), "h.db")
	s, err := NewSinkFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("sqlite DSN: %v", err)
	}
	_ = s.Close()

	// a bare path defaults to SQLite
	s, err = NewSinkFromDSN(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("bare path DSN: %v", err)
	}
	_ = s.Close()
}
