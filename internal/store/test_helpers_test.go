package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/recipe"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testDay = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

// createTestRun begins a run with minimal required fields.
func createTestRun(t *testing.T, s *Store, id string, mode recipe.Mode) Run {
	t.Helper()
	run, err := s.BeginRun(context.Background(), RunInfo{
		ID:      id,
		Chip:    "C01",
		Device:  "D04",
		Mode:    mode,
		Started: testDay,
	})
	if err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	return run
}

// createTestRecord creates a record for cell wl/bl.
func createTestRecord(mode recipe.Mode, wl, bl string, res float64) Record {
	return Record{
		Chip:   "C01",
		Device: "D04",
		Mode:   mode,
		WL:     wl,
		BL:     bl,
		SL:     "SL" + bl[2:],
		Measurement: cells.Measurement{
			Resistance:  res,
			Conductance: 1 / res,
			Current:     0.2 / res,
			Voltage:     0.2,
		},
	}
}
