package cli

import (
	"context"
	"log/slog"

	"github.com/tebeka/atexit"

	"github.com/roach88/rram/internal/config"
	"github.com/roach88/rram/internal/engine"
	"github.com/roach88/rram/internal/instrument"
	"github.com/roach88/rram/internal/sim"
)

// bench is a controller wired to the simulated array of a settings
// directory through the instrument rig.
type bench struct {
	settings *config.Settings
	engine   engine.Settings
	array    *sim.Array
	rig      *instrument.Rig
	ctl      *engine.Controller
}

// openBench loads dir and builds the controller. opID becomes the ID of
// the controller's next operation. Every pin is released at process exit.
func openBench(dir, opID string, logger *slog.Logger) (*bench, error) {
	settings, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	es, err := settings.Engine()
	if err != nil {
		return nil, err
	}
	array, err := sim.New(es.Topology, settings.Sim)
	if err != nil {
		return nil, err
	}
	rig, err := instrument.NewRig(es.Topology, array.Sessions(),
		instrument.WithSyncTimeout(settings.SyncTimeout),
		instrument.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	ids := engine.IDGenerator(engine.UUIDv7Generator{})
	if opID != "" {
		ids = engine.NewFixedGenerator(opID)
	}
	ctl, err := engine.New(es, rig, rig,
		engine.WithLogger(logger),
		engine.WithIDGenerator(ids),
	)
	if err != nil {
		return nil, err
	}

	atexit.Register(func() {
		if err := rig.Release(context.Background()); err != nil {
			logger.Error("release pins", "error", err)
		}
	})
	return &bench{settings: settings, engine: es, array: array, rig: rig, ctl: ctl}, nil
}
