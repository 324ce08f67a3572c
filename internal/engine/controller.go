package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/mask"
	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

// Request selects the cells of one operation.
type Request struct {
	cells.Selection
	// Averaged reads every cell Settings.AveragedReads times and keeps the
	// arithmetic mean.
	Averaged bool
}

// Controller runs read and program-verify operations against one array.
//
// A Controller is not safe for concurrent use: operations on one array
// must be serialized, since two pulses may never drive one pin group at
// the same time.
type Controller struct {
	settings   Settings
	topo       *topology.Topology
	array      *cells.Array
	synth      *waveform.Synthesizer
	gateGroups map[string]bool

	pulser  Pulser
	meter   Meter
	sleeper Sleeper
	ids     IDGenerator
	clock   *Clock
	logger  *slog.Logger
	observe Observer
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observe = o }
}

// WithSleeper replaces the wall-clock settling delay.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithIDGenerator sets the operation ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Controller) { c.ids = g }
}

// WithClock sets the event clock.
func WithClock(clk *Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// New validates s and creates a Controller. All configuration errors that
// do not depend on the operation are reported here.
func New(s Settings, pulser Pulser, meter Meter, opts ...Option) (*Controller, error) {
	if s.Topology == nil {
		return nil, topology.NewConfigError(topology.ErrCodeMissingKey, "topology", "topology is required")
	}
	if s.AveragedReads <= 0 {
		s.AveragedReads = DefaultAveragedReads
	}
	if s.Envelope == (recipe.Envelope{}) {
		s.Envelope = recipe.DefaultEnvelope
	}
	if s.ShuntRes < 0 {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "read.shunt_res", "must not be negative, got %g", s.ShuntRes)
	}
	if s.ReadSettle < 0 {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "read.settling_time", "must not be negative")
	}
	if err := s.Read.Check(s.Envelope); err != nil {
		return nil, err
	}

	layout, err := waveform.NewLayout(s.Topology.Groups)
	if err != nil {
		return nil, err
	}
	synth, err := waveform.NewSynthesizer(layout, s.MaxLen)
	if err != nil {
		return nil, err
	}

	gate := make(map[string]bool)
	if len(s.GateGroups) == 0 {
		for _, gi := range s.Topology.GroupsWithRole(topology.RoleWordline) {
			gate[s.Topology.Groups[gi].Name] = true
		}
	}
	for _, name := range s.GateGroups {
		if _, ok := s.Topology.GroupIndex(name); !ok {
			return nil, topology.NewConfigError(topology.ErrCodeUnknownChannel, "pulse.gate_groups", "unknown pin group %q", name)
		}
		gate[name] = true
	}

	c := &Controller{
		settings:   s,
		topo:       s.Topology,
		array:      cells.NewArray(s.Topology),
		synth:      synth,
		gateGroups: gate,
		pulser:     pulser,
		meter:      meter,
		sleeper:    wallSleeper{},
		ids:        UUIDv7Generator{},
		clock:      NewClock(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Array exposes the cell arena, mainly for inspection after an operation.
func (c *Controller) Array() *cells.Array { return c.array }

func (c *Controller) emit(ev Event) {
	if c.observe == nil {
		return
	}
	ev.Seq = c.clock.Next()
	c.observe(ev)
}

// Read measures the selected cells once (or averaged) without pulsing.
func (c *Controller) Read(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	members, err := c.array.SelectCells(req.Selection)
	if err != nil {
		return nil, err
	}
	c.array.Reset()

	op := &operation{c: c, id: c.ids.Generate(), mode: recipe.ModeRead, members: members, recipes: map[int]*recipe.Recipe{}}
	c.logger.Info("read started", "id", op.id, "cells", len(members), "averaged", req.Averaged)
	c.emit(Event{Kind: EventStart, OperationID: op.id, Mode: op.mode, WorkingSet: op.names(members)})

	if err := c.measure(ctx, members, req.Averaged); err != nil {
		return nil, op.fault(StageMeasure, nil, err)
	}
	for _, i := range members {
		c.array.Cell(i).Converged = true
	}
	res := op.result(StateDone, 0)
	c.emit(Event{Kind: EventFinish, OperationID: op.id, Mode: op.mode, State: res.State})
	c.logger.Info("read finished", "id", op.id, "cells", len(members))
	return res, nil
}

// Set programs the selected cells toward low resistance.
func (c *Controller) Set(ctx context.Context, req Request) (*Result, error) {
	return c.Program(ctx, recipe.ModeSet, req)
}

// Reset programs the selected cells toward high resistance.
func (c *Controller) Reset(ctx context.Context, req Request) (*Result, error) {
	return c.Program(ctx, recipe.ModeReset, req)
}

// Form performs first-time break-in of the selected cells.
func (c *Controller) Form(ctx context.Context, req Request) (*Result, error) {
	return c.Program(ctx, recipe.ModeForm, req)
}

// Program runs program-verify for mode over the selected cells.
//
// Configuration errors are returned before anything touches hardware. A
// hardware fault aborts immediately with a *HardwareFault. An exhausted
// grid is not an error: the result has State PARTIAL. If ctx is cancelled,
// the operation stops at the next grid point and returns the PARTIAL result
// together with ctx.Err().
func (c *Controller) Program(ctx context.Context, mode recipe.Mode, req Request) (*Result, error) {
	if !mode.Programs() {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "mode", "%s does not program cells", mode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	grid, target, err := c.prepare(mode)
	if err != nil {
		return nil, err
	}
	members, err := c.array.SelectCells(req.Selection)
	if err != nil {
		return nil, err
	}
	c.array.Reset()

	op := &operation{c: c, id: c.ids.Generate(), mode: mode, members: members, recipes: map[int]*recipe.Recipe{}}
	log := c.logger.With("id", op.id, "mode", mode.String())
	log.Info("operation started", "cells", len(members), "target", target, "grid", grid.Size())
	c.emit(Event{Kind: EventStart, OperationID: op.id, Mode: mode, WorkingSet: op.names(members)})

	// INIT
	if err := c.measure(ctx, members, req.Averaged); err != nil {
		log.Error("hardware fault", "stage", StageMeasure, "error", err)
		return nil, op.fault(StageMeasure, nil, err)
	}
	ws := cells.NewWorkingSet(c.array.Len(), nil)
	var initial []int
	for _, i := range members {
		cell := c.array.Cell(i)
		if mode.Converged(cell.Last.Resistance, target) {
			cell.Converged = true
			initial = append(initial, i)
			continue
		}
		ws.Update([]int{i}, nil)
	}
	c.emit(Event{Kind: EventInit, OperationID: op.id, Mode: mode, Converged: op.names(initial), WorkingSet: op.names(ws.Members())})
	if ws.Empty() {
		return op.finish(log, StateDone, target, grid.Size(), 0), nil
	}

	// SWEEP
	active, err := mask.Build(c.channels(ws.Members(), true), c.topo.Groups)
	if err != nil {
		return nil, err
	}
	budget := newIterationBudget(grid.Size())
	for r := range grid.All() {
		if err := ctx.Err(); err != nil {
			log.Warn("operation cancelled between grid points", "iterations", budget.Current())
			return op.finish(log, StatePartial, target, grid.Size(), budget.Current()), err
		}
		if err := budget.Check(op.id); err != nil {
			return nil, err
		}
		log.Debug("grid point", "pw", r.PulseWidth, "aggressor", r.Aggressor, "gate", r.Gate, "working_set", ws.Len())

		for _, row := range c.array.Rows(ws.Members()) {
			if err := c.pulseRow(ctx, op, r, active, row); err != nil {
				if IsHardwareFault(err) {
					log.Error("hardware fault", "stage", StagePulse, "error", err)
				}
				return nil, err
			}
		}
		op.settle()

		remaining := ws.Members()
		if err := c.measure(ctx, remaining, req.Averaged); err != nil {
			log.Error("hardware fault", "stage", StageMeasure, "error", err)
			return nil, op.fault(StageMeasure, &r, err)
		}
		var converged []int
		for _, i := range remaining {
			cell := c.array.Cell(i)
			if mode.Converged(cell.Last.Resistance, target) {
				cell.Converged = true
				rc := r
				op.recipes[i] = &rc
				converged = append(converged, i)
			}
		}
		ws.Update(nil, converged)
		for _, i := range converged {
			log.Debug("cell converged", "cell", c.array.Cell(i).String(), "res", c.array.Cell(i).Last.Resistance)
		}
		rc := r
		c.emit(Event{Kind: EventIteration, OperationID: op.id, Mode: mode, Recipe: &rc,
			Converged: op.names(converged), WorkingSet: op.names(ws.Members())})

		if ws.Empty() {
			return op.finish(log, StateDone, target, grid.Size(), budget.Current()), nil
		}
		if len(converged) > 0 {
			stale := without(c.channels(converged, false), c.channels(ws.Members(), true))
			if active, err = mask.Alter(active, nil, stale); err != nil {
				return nil, err
			}
		}
	}
	return op.finish(log, StatePartial, target, grid.Size(), budget.Current()), nil
}

// Plan summarizes the sweep Program would run for one mode.
type Plan struct {
	Mode     recipe.Mode `json:"mode"`
	Target   float64     `json:"target"`
	GridSize int         `json:"grid_size"`
}

// Plan checks mode's recipe against the settings without touching the
// array: grid shape, target, voltage envelope and pulse length.
func (c *Controller) Plan(mode recipe.Mode) (Plan, error) {
	if !mode.Programs() {
		return Plan{}, topology.NewConfigError(topology.ErrCodeInvalidValue, "mode", "%s does not program cells", mode)
	}
	grid, target, err := c.prepare(mode)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Mode: mode, Target: target, GridSize: grid.Size()}, nil
}

// prepare resolves and validates everything mode needs, including every
// voltage the grid will drive and the longest pulse it will synthesize.
func (c *Controller) prepare(mode recipe.Mode) (recipe.Grid, float64, error) {
	op, err := c.settings.Op(mode)
	if err != nil {
		return recipe.Grid{}, 0, err
	}
	target, err := c.settings.Targets.Target(mode)
	if err != nil {
		return recipe.Grid{}, 0, err
	}
	if op.SettlingTime < 0 {
		return recipe.Grid{}, 0, topology.NewConfigError(topology.ErrCodeInvalidValue, "op."+mode.String()+".settling_time", "must not be negative")
	}
	grid := op.Grid(mode)
	if err := grid.Validate(); err != nil {
		return recipe.Grid{}, 0, err
	}
	maxWidth := 0
	for r := range grid.All() {
		if err := c.settings.Envelope.CheckRecipe(r); err != nil {
			return recipe.Grid{}, 0, err
		}
		maxWidth = max(maxWidth, r.PulseWidth)
	}
	t := c.timing(maxWidth)
	if total := t.Prepulse + t.GateSettle + t.Body + t.ChannelSettle + t.Postpulse; total > c.synth.MaxLen() {
		return recipe.Grid{}, 0, &waveform.OverflowError{Length: total, Max: c.synth.MaxLen()}
	}
	return grid, target, nil
}

func (c *Controller) timing(pw int) waveform.Timing {
	t := c.settings.Timing
	t.Body = pw
	return t
}

// pulseRow issues one pulse on the wordline of row, driving the aggressor
// lines of the row's remaining cells.
func (c *Controller) pulseRow(ctx context.Context, op *operation, r recipe.Recipe, active []mask.Mask, row []int) error {
	keep := topology.NewChannelSet(c.channels(row, true)...)
	var drop []topology.ChannelID
	for _, id := range mask.Selected(active) {
		if !keep.Has(id) {
			drop = append(drop, id)
		}
	}
	body, err := mask.Alter(active, nil, drop)
	if err != nil {
		return err
	}

	drives, err := c.drives(r, body)
	if err != nil {
		return err
	}
	pulse, err := c.synth.Synthesize(waveform.Standard(c.timing(r.PulseWidth), body, c.gateGroups))
	if err != nil {
		return err
	}

	wl := c.array.Cell(row[0]).WL
	c.emit(Event{Kind: EventPulse, OperationID: op.id, Mode: op.mode, Recipe: &r, Wordline: string(wl),
		PulseWidth: pulse.PulseWidth, Active: idStrings(mask.Selected(body))})

	if err := c.pulser.Pulse(context.WithoutCancel(ctx), PulseRequest{Recipe: r, Pulse: pulse, Drives: drives}); err != nil {
		return op.fault(StagePulse, &r, err)
	}
	return nil
}

// drives computes the level pair of every configured channel for one
// pulse. Wordlines outside the pulsed row and aggressor lines of cells not
// being pulsed sit at their unselected bias; the complement line is held
// at its configured level.
func (c *Controller) drives(r recipe.Recipe, body []mask.Mask) ([]DriveLevel, error) {
	on := topology.NewChannelSet(mask.Selected(body)...)
	aggressor := topology.RoleBitline
	complement := topology.RoleSourceline
	if r.Mode.AggressorIsSourceline() {
		aggressor, complement = complement, aggressor
	}

	var out []DriveLevel
	for _, g := range c.topo.Groups {
		for _, id := range g.Channels {
			ch, _ := c.topo.Lookup(id)
			d := DriveLevel{Channel: id}
			switch {
			case ch.Role == topology.RoleWordline && on.Has(id):
				d.High, d.Low = r.VWL(), r.UnselectedGate()
			case ch.Role == topology.RoleWordline:
				d.High, d.Low = r.UnselectedGate(), r.UnselectedGate()
			case ch.Role == aggressor && on.Has(id):
				d.High, d.Low = r.Aggressor, r.Base()
			case ch.Role == aggressor:
				d.High, d.Low = r.UnselectedAggressor(), r.UnselectedAggressor()
			case ch.Role == complement:
				d.High, d.Low = r.Complement, r.Complement
			case ch.Role == topology.RoleControl:
				d.High = r.VWL()
			}
			if err := c.settings.Envelope.Check(string(id), d.High); err != nil {
				return nil, err
			}
			if err := c.settings.Envelope.Check(string(id), d.Low); err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// channels returns the wordlines, bitlines and sourcelines of the given
// cells in first-seen order, plus the control channels if withControl.
func (c *Controller) channels(idx []int, withControl bool) []topology.ChannelID {
	seen := make(topology.ChannelSet)
	var out []topology.ChannelID
	add := func(id topology.ChannelID) {
		if !seen.Has(id) {
			seen.Add(id)
			out = append(out, id)
		}
	}
	for _, i := range idx {
		cell := c.array.Cell(i)
		add(cell.WL)
		add(cell.BL)
		add(cell.SL)
	}
	if withControl {
		for _, id := range c.topo.Control {
			add(id)
		}
	}
	return out
}

func without(ids, keep []topology.ChannelID) []topology.ChannelID {
	k := topology.NewChannelSet(keep...)
	var out []topology.ChannelID
	for _, id := range ids {
		if !k.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

func idStrings(ids []topology.ChannelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// operation is the bookkeeping of one Read or Program call.
type operation struct {
	c       *Controller
	id      string
	mode    recipe.Mode
	members []int
	recipes map[int]*recipe.Recipe
}

func (op *operation) names(idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = op.c.array.Cell(i).String()
	}
	return out
}

func (op *operation) settle() {
	if d := op.c.settings.Ops[op.mode].SettlingTime; d > 0 {
		op.c.sleeper.Sleep(d)
	}
}

func (op *operation) snapshot() []CellResult {
	out := make([]CellResult, len(op.members))
	for k, i := range op.members {
		cell := op.c.array.Cell(i)
		out[k] = CellResult{
			Cell:        cell.CellID,
			SL:          cell.SL,
			Row:         cell.Row,
			Col:         cell.Col,
			Measurement: cell.Last,
			Recipe:      op.recipes[i],
			Success:     cell.Converged,
		}
	}
	return out
}

func (op *operation) fault(stage string, r *recipe.Recipe, err error) error {
	if IsHardwareFault(err) {
		return err
	}
	return newHardwareFault(stage, r, op.snapshot(), fmt.Errorf("%s: %w", op.id, err))
}

func (op *operation) result(state State, iterations int) *Result {
	return &Result{ID: op.id, Mode: op.mode, State: state, Iterations: iterations, Cells: op.snapshot()}
}

func (op *operation) finish(log *slog.Logger, state State, target float64, gridSize, iterations int) *Result {
	res := op.result(state, iterations)
	res.Target = target
	res.GridSize = gridSize
	op.c.emit(Event{Kind: EventFinish, OperationID: op.id, Mode: op.mode, State: state, WorkingSet: idsOf(res.Failed())})
	log.Info("operation finished", "state", state, "iterations", iterations, "failed", len(res.Failed()))
	return res
}

func idsOf(results []CellResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Cell.String()
	}
	return out
}
