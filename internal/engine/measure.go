package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/topology"
)

const (
	// minCurrent keeps an open cell from dividing by zero.
	minCurrent = 1e-15
	// minResistance floors resistance before it is inverted to conductance.
	minResistance = 1e-12
)

// Resolve turns one bitline voltage and sourceline current into a
// measurement: R = |(vbl - vsl)/i - shunt|.
func Resolve(vbl, vsl, i, leakage, shunt float64) cells.Measurement {
	denom := i
	if math.Abs(denom) < minCurrent {
		denom = math.Copysign(minCurrent, denom)
	}
	r := math.Abs((vbl-vsl)/denom - shunt)
	return cells.Measurement{
		Resistance:  r,
		Conductance: 1 / math.Max(r, minResistance),
		Current:     i,
		Voltage:     vbl,
		Leakage:     leakage,
	}
}

// readBatch is a set of cells on one row that can be read with a single
// bias: their sourcelines must be distinct.
type readBatch struct {
	wl    topology.ChannelID
	cells []int
}

func (c *Controller) readBatches(members []int) []readBatch {
	shared := len(c.topo.Sourcelines) == 1
	var out []readBatch
	for _, row := range c.array.Rows(members) {
		wl := c.array.Cell(row[0]).WL
		if shared {
			for _, i := range row {
				out = append(out, readBatch{wl: wl, cells: []int{i}})
			}
			continue
		}
		out = append(out, readBatch{wl: wl, cells: row})
	}
	return out
}

// measure reads members and records the result in the arena. In averaged
// mode every quantity is the arithmetic mean of AveragedReads reads.
func (c *Controller) measure(ctx context.Context, members []int, averaged bool) error {
	if len(members) == 0 {
		return nil
	}
	n := 1
	if averaged {
		n = c.settings.AveragedReads
	}
	sums := make([]cells.Measurement, len(members))
	for k := 0; k < n; k++ {
		ms, err := c.readOnce(ctx, members)
		if err != nil {
			return err
		}
		for j, m := range ms {
			sums[j].Resistance += m.Resistance
			sums[j].Conductance += m.Conductance
			sums[j].Current += m.Current
			sums[j].Voltage += m.Voltage
			sums[j].Leakage += m.Leakage
		}
	}
	for j, i := range members {
		m := sums[j]
		if n > 1 {
			f := float64(n)
			m = cells.Measurement{
				Resistance:  m.Resistance / f,
				Conductance: m.Conductance / f,
				Current:     m.Current / f,
				Voltage:     m.Voltage / f,
				Leakage:     m.Leakage / f,
			}
		}
		c.array.Record(i, m)
	}
	return nil
}

// readOnce reads every member once, returning measurements in member order.
// The array is left unbiased.
func (c *Controller) readOnce(ctx context.Context, members []int) ([]cells.Measurement, error) {
	ctx = context.WithoutCancel(ctx)
	pos := make(map[int]int, len(members))
	for j, i := range members {
		pos[i] = j
	}
	out := make([]cells.Measurement, len(members))
	bias := c.settings.Read

	for _, b := range c.readBatches(members) {
		var bls, sls []topology.ChannelID
		for _, i := range b.cells {
			bls = append(bls, c.array.Cell(i).BL)
			sls = append(sls, c.array.Cell(i).SL)
		}
		selected := topology.NewChannelSet(bls...)

		levels := make([]Level, 0, len(c.topo.Wordlines)+len(c.topo.Bitlines)+len(c.topo.Sourcelines))
		for _, wl := range c.topo.Wordlines {
			v := bias.UnselectedGate()
			if wl == b.wl {
				v = bias.VWL
			}
			levels = append(levels, Level{Channel: wl, Volts: v})
		}
		for _, bl := range c.topo.Bitlines {
			v := bias.VSL
			if selected.Has(bl) {
				v = bias.VBL
			}
			levels = append(levels, Level{Channel: bl, Volts: v})
		}
		for _, sl := range c.topo.Sourcelines {
			levels = append(levels, Level{Channel: sl, Volts: bias.VSL})
		}
		if err := c.meter.Bias(ctx, levels); err != nil {
			return nil, fmt.Errorf("%s: bias row %s: %w", StageBias, b.wl, err)
		}
		if c.settings.ReadSettle > 0 {
			c.sleeper.Sleep(c.settings.ReadSettle)
		}

		currents, err := c.sample(ctx, QuantityCurrent, append(append([]topology.ChannelID{}, sls...), b.wl))
		if err != nil {
			return nil, err
		}
		volts, err := c.sample(ctx, QuantityVoltage, bls)
		if err != nil {
			return nil, err
		}
		leak := currents[len(currents)-1]
		for k, i := range b.cells {
			out[pos[i]] = Resolve(volts[k], bias.VSL, currents[k], leak, c.settings.ShuntRes)
		}
	}

	if err := c.release(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// sample measures q on ids and returns the readings in ids order.
// A channel listed twice is sampled once per listing.
func (c *Controller) sample(ctx context.Context, q Quantity, ids []topology.ChannelID) ([]float64, error) {
	split, err := c.topo.BySession(ids)
	if err != nil {
		return nil, err
	}
	vals, err := c.meter.Measure(ctx, q, split)
	if err != nil {
		return nil, fmt.Errorf("measure %s: %w", q, err)
	}
	if len(vals) != len(split) {
		return nil, fmt.Errorf("measure %s: got %d sessions, want %d", q, len(vals), len(split))
	}
	next := make([]int, len(split))
	out := make([]float64, len(ids))
	for k, id := range ids {
		ch, _ := c.topo.Lookup(id)
		s := ch.Session
		if next[s] >= len(vals[s]) {
			return nil, fmt.Errorf("measure %s: session %d returned %d readings, want %d", q, s, len(vals[s]), len(split[s]))
		}
		out[k] = vals[s][next[s]]
		next[s]++
	}
	return out, nil
}

// release returns every array line to 0 V.
func (c *Controller) release(ctx context.Context) error {
	var levels []Level
	for _, group := range [][]topology.ChannelID{c.topo.Wordlines, c.topo.Bitlines, c.topo.Sourcelines} {
		for _, id := range group {
			levels = append(levels, Level{Channel: id})
		}
	}
	if err := c.meter.Bias(ctx, levels); err != nil {
		return fmt.Errorf("%s: release: %w", StageBias, err)
	}
	return nil
}
