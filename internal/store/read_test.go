package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
)

func TestReadRecords_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", recipe.ModeSet)
	createTestRun(t, s, "run-2", recipe.ModeSet)

	write := func(run string, bls ...string) {
		t.Helper()
		var recs []Record
		for _, bl := range bls {
			recs = append(recs, createTestRecord(recipe.ModeSet, "WL_0", bl, 10e3))
		}
		if err := s.WriteRecords(ctx, run, recs); err != nil {
			t.Fatalf("WriteRecords() failed: %v", err)
		}
	}
	write("run-1", "BL_3", "BL_1")
	write("run-2", "BL_2")
	write("run-1", "BL_0")

	all, err := s.ReadRecords(ctx, Filter{})
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	var got []string
	for i, r := range all {
		got = append(got, r.BL)
		if i > 0 && r.Seq <= all[i-1].Seq {
			t.Errorf("seq not ascending at %d", i)
		}
	}
	want := []string{"BL_3", "BL_1", "BL_2", "BL_0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	run1, err := s.ReadRecords(ctx, Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(run1) != 3 {
		t.Errorf("run-1 has %d records, want 3", len(run1))
	}

	limited, err := s.ReadRecords(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Limit 2 returned %d records", len(limited))
	}
}

func TestReadRecords_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", recipe.ModeSet)
	createTestRun(t, s, "run-2", recipe.ModeRead)

	if err := s.WriteRecords(ctx, "run-1", []Record{
		createTestRecord(recipe.ModeSet, "WL_0", "BL_0", 10e3),
		createTestRecord(recipe.ModeSet, "WL_1", "BL_0", 10e3),
	}); err != nil {
		t.Fatalf("WriteRecords() failed: %v", err)
	}
	if err := s.WriteRecords(ctx, "run-2", []Record{
		createTestRecord(recipe.ModeRead, "WL_0", "BL_0", 12e3),
	}); err != nil {
		t.Fatalf("WriteRecords() failed: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"mode read", Filter{Mode: recipe.ModeRead, ModeSet: true}, 1},
		{"mode set", Filter{Mode: recipe.ModeSet, ModeSet: true}, 2},
		{"cell", Filter{WL: "WL_0", BL: "BL_0"}, 2},
		{"chip", Filter{Chip: "C01"}, 3},
		{"other device", Filter{Device: "D99"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReadRecords(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ReadRecords() failed: %v", err)
			}
			if got == nil {
				t.Fatal("ReadRecords() returned nil, want empty slice")
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestReadRecords_RecipeRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", recipe.ModeReset)

	want := recipe.Recipe{
		Mode:            recipe.ModeReset,
		PulseWidth:      200,
		Aggressor:       2.0,
		Gate:            2.5,
		Complement:      0.1,
		GateUnselOffset: 0.2,
	}
	rec := createTestRecord(recipe.ModeReset, "WL_2", "BL_3", 300e3)
	rec.Recipe = &want
	rec.Success = true
	if err := s.WriteRecords(ctx, "run-1", []Record{rec}); err != nil {
		t.Fatalf("WriteRecords() failed: %v", err)
	}

	got, err := s.ReadRecords(ctx, Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("ReadRecords() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	r := got[0]
	if r.Recipe == nil || *r.Recipe != want {
		t.Errorf("Recipe = %+v, want %+v", r.Recipe, want)
	}
	if !r.Success || r.Mode != recipe.ModeReset || r.SL != "SL_3" {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Resistance != 300e3 {
		t.Errorf("Resistance = %v, want 300e3", r.Resistance)
	}
}

func TestReadRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	created := createTestRun(t, s, "run-1", recipe.ModeForm)

	run, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Label() != created.Label() || run.Mode != recipe.ModeForm || run.Chip != "C01" {
		t.Errorf("ReadRun() = %+v, want %+v", run, created)
	}
	if !run.Started.Equal(testDay) {
		t.Errorf("Started = %v, want %v", run.Started, testDay)
	}

	if _, err := s.ReadRun(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadRun(missing) = %v, want sql.ErrNoRows", err)
	}

	createTestRun(t, s, "run-2", recipe.ModeSet)
	runs, err := s.ReadRuns(ctx)
	if err != nil {
		t.Fatalf("ReadRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("ReadRuns() returned %d runs, want 2", len(runs))
	}
}

func TestClassify(t *testing.T) {
	targets := recipe.Targets{recipe.ModeSet: 50e3, recipe.ModeReset: 200e3}

	tests := []struct {
		res  float64
		want string
	}{
		{10e3, StateSet},
		{50e3, StateUnknown},
		{100e3, StateUnknown},
		{200e3, StateUnknown},
		{500e3, StateReset},
	}
	for _, tt := range tests {
		if got := Classify(tt.res, targets); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.res, got, tt.want)
		}
	}

	if got := Classify(1, recipe.Targets{}); got != StateUnknown {
		t.Errorf("Classify without targets = %q, want unknown", got)
	}
}

func TestRecordsFromResult(t *testing.T) {
	r := &recipe.Recipe{Mode: recipe.ModeSet, PulseWidth: 100, Aggressor: 1.2, Gate: 2}
	res := &engine.Result{
		ID:   "op-1",
		Mode: recipe.ModeSet,
		Cells: []engine.CellResult{
			{
				Cell:        cells.CellID{WL: "WL_0", BL: "BL_0"},
				SL:          topology.ChannelID("SL_0"),
				Measurement: cells.Measurement{Resistance: 40e3},
				Recipe:      r,
				Success:     true,
			},
			{
				Cell:        cells.CellID{WL: "WL_0", BL: "BL_1"},
				SL:          topology.ChannelID("SL_1"),
				Measurement: cells.Measurement{Resistance: 90e3},
			},
		},
	}

	recs := RecordsFromResult("C01", "D04", res, recipe.Targets{recipe.ModeSet: 50e3})
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].WL != "WL_0" || recs[0].BL != "BL_0" || recs[0].SL != "SL_0" || !recs[0].Success {
		t.Errorf("unexpected first record %+v", recs[0])
	}
	if recs[0].Recipe == r {
		t.Error("record shares the result's recipe pointer")
	}
	if recs[0].State != "" {
		t.Errorf("program rows carry no read state, got %q", recs[0].State)
	}
	if recs[1].Recipe != nil {
		t.Error("failed cell should have no recipe")
	}

	res.Mode = recipe.ModeRead
	recs = RecordsFromResult("C01", "D04", res, recipe.Targets{recipe.ModeSet: 50e3, recipe.ModeReset: 200e3})
	if recs[0].State != StateSet || recs[1].State != StateUnknown {
		t.Errorf("read states = %q, %q; want set, unknown", recs[0].State, recs[1].State)
	}
}
