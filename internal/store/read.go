package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rram/internal/recipe"
)

// Filter narrows ReadRecords. Zero fields match everything.
type Filter struct {
	RunID  string
	Chip   string
	Device string
	// Mode filters by mode when ModeSet is true.
	Mode    recipe.Mode
	ModeSet bool
	WL      string
	BL      string
	// Limit caps the number of rows; 0 means no cap.
	Limit int
}

// ReadRecords returns matching records ordered by seq.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadRecords(ctx context.Context, f Filter) ([]Record, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.RunID != "" {
		add("run_id = ?", f.RunID)
	}
	if f.Chip != "" {
		add("chip = ?", f.Chip)
	}
	if f.Device != "" {
		add("device = ?", f.Device)
	}
	if f.ModeSet {
		add("mode = ?", f.Mode.String())
	}
	if f.WL != "" {
		add("wl = ?", f.WL)
	}
	if f.BL != "" {
		add("bl = ?", f.BL)
	}

	query := `
		SELECT seq, run_id, chip, device, mode, wl, bl, sl, res, cond, meas_i, meas_v, leakage,
		       vbl, vsl, vwl, pw, vwl_unsel_offset, success, state
		FROM records`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                     Record
		mode                  string
		vbl, vsl, vwl, offset sql.NullFloat64
		pw                    sql.NullInt64
	)
	err := rows.Scan(
		&r.Seq, &r.RunID, &r.Chip, &r.Device, &mode, &r.WL, &r.BL, &r.SL,
		&r.Resistance, &r.Conductance, &r.Current, &r.Voltage, &r.Leakage,
		&vbl, &vsl, &vwl, &pw, &offset, &r.Success, &r.State,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	if r.Mode, err = recipe.ParseMode(mode); err != nil {
		return Record{}, fmt.Errorf("scan record %d: %w", r.Seq, err)
	}
	r.Recipe = recipeFromColumns(r.Mode, vbl, vsl, vwl, offset, pw)
	return r, nil
}

// ReadRun retrieves a run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, day, name, idx, chip, device, mode, settings, state, started_at
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ReadRuns returns every run, oldest first.
func (s *Store) ReadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, day, name, idx, chip, device, mode, settings, state, started_at
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r       Run
		mode    string
		started string
	)
	err := row.Scan(&r.ID, &r.Day, &r.Name, &r.Index, &r.Chip, &r.Device, &mode, &r.Settings, &r.State, &started)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if r.Mode, err = recipe.ParseMode(mode); err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", r.ID, err)
	}
	if r.Started, err = time.Parse(startedLayout, started); err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", r.ID, err)
	}
	return r, nil
}
