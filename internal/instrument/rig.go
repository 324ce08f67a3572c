package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/topology"
)

// DefaultSyncTimeout bounds the wait for a synchronized burst.
const DefaultSyncTimeout = 10 * time.Second

// Rig fans pulses and measurements out to the sessions of a topology.
// Sessions[i] serves topology session i.
type Rig struct {
	topo        *topology.Topology
	sessions    []Session
	syncTimeout time.Duration
	logger      *slog.Logger
}

// RigOption configures a Rig.
type RigOption func(*Rig)

// WithSyncTimeout bounds the wait for multi-session completion.
func WithSyncTimeout(d time.Duration) RigOption {
	return func(r *Rig) { r.syncTimeout = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RigOption {
	return func(r *Rig) { r.logger = l }
}

// NewRig pairs sessions with the sessions of topo, by position.
func NewRig(topo *topology.Topology, sessions []Session, opts ...RigOption) (*Rig, error) {
	if len(sessions) != len(topo.Sessions) {
		return nil, topology.NewConfigError(topology.ErrCodeLengthMismatch, "topology.sessions",
			"%d driver sessions for %d configured sessions", len(sessions), len(topo.Sessions))
	}
	r := &Rig{topo: topo, sessions: sessions, syncTimeout: DefaultSyncTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.syncTimeout <= 0 {
		return nil, topology.NewConfigError(topology.ErrCodeInvalidValue, "sync_timeout", "must be positive")
	}
	return r, nil
}

// Pulse implements engine.Pulser.
//
// Every session that owns a word of the pulse is loaded and committed.
// One session bursts directly. Several sessions are armed, the first is
// triggered, and the rig waits for all of them under the sync timeout.
func (r *Rig) Pulse(ctx context.Context, req engine.PulseRequest) error {
	words := req.Pulse.Words()
	drives := make([][]engine.DriveLevel, len(r.sessions))
	for _, d := range req.Drives {
		ch, ok := r.topo.Lookup(d.Channel)
		if !ok {
			return topology.NewConfigError(topology.ErrCodeUnknownChannel, "drives", "channel %q is not in any pin group", d.Channel)
		}
		drives[ch.Session] = append(drives[ch.Session], d)
	}

	var participating []int
	for si, s := range r.sessions {
		var used bool
		for _, w := range words {
			if w.Session != si {
				continue
			}
			used = true
			if err := s.WriteWaveform(ctx, w.Word, w.Samples); err != nil {
				return sessionError(s, "write waveform", err)
			}
		}
		if !used {
			continue
		}
		participating = append(participating, si)
		if err := s.SetPulseWidth(ctx, req.Pulse.PulseWidth); err != nil {
			return sessionError(s, "set pulse width", err)
		}
		if len(drives[si]) > 0 {
			if err := s.SetDrive(ctx, drives[si]); err != nil {
				return sessionError(s, "set drive", err)
			}
		}
		if err := s.Commit(ctx); err != nil {
			return sessionError(s, "commit", err)
		}
	}

	switch len(participating) {
	case 0:
		return nil
	case 1:
		s := r.sessions[participating[0]]
		if err := s.Burst(ctx); err != nil {
			return sessionError(s, "burst", err)
		}
		return nil
	}
	return r.synchronizedBurst(ctx, participating)
}

func (r *Rig) synchronizedBurst(ctx context.Context, participating []int) error {
	// Followers arm first so none misses the leader's trigger.
	for k := len(participating) - 1; k >= 0; k-- {
		s := r.sessions[participating[k]]
		if err := s.Arm(ctx); err != nil {
			return sessionError(s, "arm", err)
		}
	}
	leader := r.sessions[participating[0]]
	if err := leader.Trigger(ctx); err != nil {
		return sessionError(leader, "trigger", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.syncTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(waitCtx)
	for _, si := range participating {
		s := r.sessions[si]
		g.Go(func() error {
			if err := s.WaitUntilDone(gctx); err != nil {
				return sessionError(s, "wait", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		r.logger.Error("synchronized burst timed out", "sessions", len(participating), "timeout", r.syncTimeout)
		return fmt.Errorf("%w after %s: %v", engine.ErrSyncTimeout, r.syncTimeout, err)
	}
	return err
}

// Bias implements engine.Meter.
func (r *Rig) Bias(ctx context.Context, levels []engine.Level) error {
	bySession := make([][]engine.Level, len(r.sessions))
	for _, l := range levels {
		ch, ok := r.topo.Lookup(l.Channel)
		if !ok {
			return topology.NewConfigError(topology.ErrCodeUnknownChannel, "levels", "channel %q is not in any pin group", l.Channel)
		}
		bySession[ch.Session] = append(bySession[ch.Session], l)
	}
	for si, ls := range bySession {
		if len(ls) == 0 {
			continue
		}
		if err := r.sessions[si].Force(ctx, ls); err != nil {
			return sessionError(r.sessions[si], "force", err)
		}
	}
	return nil
}

// Release forces every configured channel to 0 V.
func (r *Rig) Release(ctx context.Context) error {
	var levels []engine.Level
	for _, g := range r.topo.Groups {
		for _, id := range g.Channels {
			levels = append(levels, engine.Level{Channel: id})
		}
	}
	return r.Bias(ctx, levels)
}

// Measure implements engine.Meter.
func (r *Rig) Measure(ctx context.Context, q engine.Quantity, channels [][]topology.ChannelID) ([][]float64, error) {
	if len(channels) != len(r.sessions) {
		return nil, fmt.Errorf("measure: %d channel lists for %d sessions", len(channels), len(r.sessions))
	}
	out := make([][]float64, len(channels))
	for si, ids := range channels {
		if len(ids) == 0 {
			out[si] = []float64{}
			continue
		}
		vals, err := r.sessions[si].Measure(ctx, q, ids)
		if err != nil {
			return nil, sessionError(r.sessions[si], "measure "+q.String(), err)
		}
		if len(vals) != len(ids) {
			return nil, fmt.Errorf("session %s: %d readings for %d channels", r.sessions[si].Name(), len(vals), len(ids))
		}
		out[si] = vals
	}
	return out, nil
}

func sessionError(s Session, op string, err error) error {
	return fmt.Errorf("session %s: %s: %w", s.Name(), op, err)
}
