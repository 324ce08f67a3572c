package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/rram/internal/recipe"
)

const (
	dayLayout = "2006-01-02"
	// startedLayout is fixed-width so started_at sorts as text.
	startedLayout = "2006-01-02T15:04:05.000000000Z"
)

// BeginRun logs a new operation and assigns it the next index of its
// (day, name) pair, starting at 0. Name defaults to the mode.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (Run, error) {
	if info.ID == "" {
		return Run{}, fmt.Errorf("begin run: empty id")
	}
	if info.Name == "" {
		info.Name = info.Mode.String()
	}
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	run := Run{RunInfo: info, Day: info.Started.Format(dayLayout)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx) + 1, 0) FROM runs WHERE day = ? AND name = ?
	`, run.Day, run.Name).Scan(&run.Index)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: next index: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, day, name, idx, chip, device, mode, settings, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Day,
		run.Name,
		run.Index,
		run.Chip,
		run.Device,
		run.Mode.String(),
		run.Settings,
		run.Started.UTC().Format(startedLayout),
	)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("begin run: commit: %w", err)
	}
	return run, nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, id, state string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// WriteRecords appends recs to run runID in one transaction. The run must
// exist (foreign key constraint).
func (s *Store) WriteRecords(ctx context.Context, runID string, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records
		(run_id, chip, device, mode, wl, bl, sl, res, cond, meas_i, meas_v, leakage,
		 vbl, vsl, vwl, pw, vwl_unsel_offset, success, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		var vbl, vsl, vwl, offset sql.NullFloat64
		var pw sql.NullInt64
		if r.Recipe != nil {
			vbl = sql.NullFloat64{Float64: r.Recipe.VBL(), Valid: true}
			vsl = sql.NullFloat64{Float64: r.Recipe.VSL(), Valid: true}
			vwl = sql.NullFloat64{Float64: r.Recipe.VWL(), Valid: true}
			offset = sql.NullFloat64{Float64: r.Recipe.GateUnselOffset, Valid: true}
			pw = sql.NullInt64{Int64: int64(r.Recipe.PulseWidth), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			runID,
			r.Chip,
			r.Device,
			r.Mode.String(),
			r.WL,
			r.BL,
			r.SL,
			r.Resistance,
			r.Conductance,
			r.Current,
			r.Voltage,
			r.Leakage,
			vbl,
			vsl,
			vwl,
			pw,
			offset,
			r.Success,
			r.State,
		)
		if err != nil {
			return fmt.Errorf("write record %s/%s: %w", r.WL, r.BL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write records: commit: %w", err)
	}
	return nil
}

// recipeFromColumns rebuilds a recipe from its stored line levels.
func recipeFromColumns(mode recipe.Mode, vbl, vsl, vwl, offset sql.NullFloat64, pw sql.NullInt64) *recipe.Recipe {
	if !pw.Valid {
		return nil
	}
	r := &recipe.Recipe{
		Mode:            mode,
		PulseWidth:      int(pw.Int64),
		Gate:            vwl.Float64,
		Aggressor:       vbl.Float64,
		Complement:      vsl.Float64,
		GateUnselOffset: offset.Float64,
	}
	if mode.AggressorIsSourceline() {
		r.Aggressor, r.Complement = vsl.Float64, vbl.Float64
	}
	return r
}
