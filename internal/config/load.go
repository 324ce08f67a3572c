package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/rram/internal/recipe"
	"github.com/roach88/rram/internal/sim"
	"github.com/roach88/rram/internal/topology"
	"github.com/roach88/rram/internal/waveform"
)

//go:embed schema.cue
var schemaSource string

// Schema returns the embedded CUE schema text.
func Schema() string { return schemaSource }

// Load reads every CUE file in dir, checks it against #Settings and
// decodes the result.
func Load(dir string) (*Settings, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("settings directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing settings directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fromCUE(ErrCodeGeneric, err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Settings")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}

	s, err := decode(unified)
	if err != nil {
		return nil, err
	}
	s.Dir = dir
	s.Files = len(files)
	return s, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

type opFile struct {
	VWL            float64 `json:"vwl"`
	VBL            float64 `json:"vbl"`
	VSL            float64 `json:"vsl"`
	VWLUnselOffset float64 `json:"vwl_unsel_offset"`
	SettlingTime   string  `json:"settling_time"`
	Sweep          struct {
		PW  recipe.IntRange `json:"pw"`
		VWL *recipe.Range   `json:"vwl"`
		VBL *recipe.Range   `json:"vbl"`
		VSL *recipe.Range   `json:"vsl"`
	} `json:"sweep"`
}

type groupFile struct {
	Name     string   `json:"name"`
	Word     int      `json:"word"`
	Channels []string `json:"channels"`
}

type sessionFile struct {
	Name   string      `json:"name"`
	Groups []groupFile `json:"groups"`
}

type topologyFile struct {
	Sessions         []sessionFile `json:"sessions"`
	Wordlines        []string      `json:"wordlines"`
	Bitlines         []string      `json:"bitlines"`
	Sourcelines      []string      `json:"sourcelines"`
	Control          []string      `json:"control"`
	DefaultWordlines []string      `json:"default_wordlines"`
	DefaultBitlines  []string      `json:"default_bitlines"`
}

type pulseFile struct {
	Prepulse      int      `json:"prepulse"`
	GateSettle    int      `json:"gate_settle"`
	ChannelSettle int      `json:"channel_settle"`
	Postpulse     int      `json:"postpulse"`
	MaxLen        int      `json:"max_len"`
	GateGroups    []string `json:"gate_groups"`
}

func decode(v cue.Value) (*Settings, error) {
	s := &Settings{
		Ops:     make(map[recipe.Mode]map[string]recipe.Op),
		Targets: make(recipe.Targets),
		Sim:     sim.DefaultParams(),
	}

	if err := v.LookupPath(cue.ParsePath("device")).Decode(&s.Device); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}

	var topo topologyFile
	if err := v.LookupPath(cue.ParsePath("topology")).Decode(&topo); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	s.Topology = topo.spec()

	if err := decodeOps(v.LookupPath(cue.ParsePath("op")), s); err != nil {
		return nil, err
	}
	if err := decodeRead(v.LookupPath(cue.ParsePath("read")), s); err != nil {
		return nil, err
	}

	var targets map[string]float64
	if err := v.LookupPath(cue.ParsePath("target_res")).Decode(&targets); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	for name, t := range targets {
		m, err := recipe.ParseMode(name)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeSchema, Message: err.Error()}
		}
		s.Targets[m] = t
	}

	var pulse pulseFile
	if err := v.LookupPath(cue.ParsePath("pulse")).Decode(&pulse); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}
	s.Pulse = Pulse{
		Timing: waveform.Timing{
			Prepulse:      pulse.Prepulse,
			GateSettle:    pulse.GateSettle,
			ChannelSettle: pulse.ChannelSettle,
			Postpulse:     pulse.Postpulse,
		},
		MaxLen:     pulse.MaxLen,
		GateGroups: pulse.GateGroups,
	}

	if err := v.LookupPath(cue.ParsePath("envelope")).Decode(&s.Envelope); err != nil {
		return nil, fromCUE(ErrCodeSchema, err)
	}

	timeout, err := duration(v.LookupPath(cue.ParsePath("sync_timeout")))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "sync_timeout must be positive", Pos: v.LookupPath(cue.ParsePath("sync_timeout")).Pos()}
	}
	s.SyncTimeout = timeout

	// Sim overrides are merged onto the defaults field by field.
	if simVal := v.LookupPath(cue.ParsePath("sim")); simVal.Exists() {
		if err := simVal.Decode(&s.Sim); err != nil {
			return nil, fromCUE(ErrCodeSchema, err)
		}
	}
	return s, nil
}

func (t topologyFile) spec() topology.Spec {
	spec := topology.Spec{
		Wordlines:        t.Wordlines,
		Bitlines:         t.Bitlines,
		Sourcelines:      t.Sourcelines,
		Control:          t.Control,
		DefaultWordlines: t.DefaultWordlines,
		DefaultBitlines:  t.DefaultBitlines,
	}
	for _, sess := range t.Sessions {
		ss := topology.SessionSpec{Name: sess.Name}
		for _, g := range sess.Groups {
			ss.Groups = append(ss.Groups, topology.GroupSpec{Name: g.Name, Word: g.Word, Channels: g.Channels})
		}
		spec.Sessions = append(spec.Sessions, ss)
	}
	return spec
}

func decodeOps(v cue.Value, s *Settings) error {
	modes, err := v.Fields()
	if err != nil {
		return fromCUE(ErrCodeSchema, err)
	}
	for modes.Next() {
		mode, err := recipe.ParseMode(modes.Selector().String())
		if err != nil {
			return &LoadError{Code: ErrCodeSchema, Message: err.Error(), Pos: modes.Value().Pos()}
		}
		byPolarity := make(map[string]recipe.Op)
		pols, err := modes.Value().Fields()
		if err != nil {
			return fromCUE(ErrCodeSchema, err)
		}
		for pols.Next() {
			op, err := decodeOp(mode, pols.Value())
			if err != nil {
				return err
			}
			byPolarity[pols.Selector().String()] = op
		}
		s.Ops[mode] = byPolarity
	}
	return nil
}

func decodeOp(mode recipe.Mode, v cue.Value) (recipe.Op, error) {
	var f opFile
	if err := v.Decode(&f); err != nil {
		return recipe.Op{}, fromCUE(ErrCodeSchema, err)
	}
	settle, err := duration(v.LookupPath(cue.ParsePath("settling_time")))
	if err != nil {
		return recipe.Op{}, err
	}

	aggressor := f.Sweep.VBL
	if mode.AggressorIsSourceline() {
		aggressor = f.Sweep.VSL
	}
	if aggressor == nil {
		return recipe.Op{}, &LoadError{
			Code:    topology.ErrCodeMissingKey,
			Message: fmt.Sprintf("%s sweep needs a %s range", mode, mode.AggressorKey()),
			Pos:     v.LookupPath(cue.ParsePath("sweep")).Pos(),
		}
	}

	op := recipe.Op{
		VWL:            f.VWL,
		VBL:            f.VBL,
		VSL:            f.VSL,
		VWLUnselOffset: f.VWLUnselOffset,
		SettlingTime:   settle,
		Sweep: recipe.Sweep{
			PW:        f.Sweep.PW,
			Aggressor: *aggressor,
		},
	}
	if f.Sweep.VWL != nil {
		op.Sweep.Gate = f.Sweep.VWL
	}
	return op, nil
}

func decodeRead(v cue.Value, s *Settings) error {
	s.Read.Bias = make(map[string]recipe.ReadBias)
	fields, err := v.Fields()
	if err != nil {
		return fromCUE(ErrCodeSchema, err)
	}
	for fields.Next() {
		name := fields.Selector().String()
		fv := fields.Value()
		switch name {
		case "settling_time":
			d, err := duration(fv)
			if err != nil {
				return err
			}
			s.Read.SettlingTime = d
		case "shunt_res":
			if err := fv.Decode(&s.Read.ShuntRes); err != nil {
				return fromCUE(ErrCodeSchema, err)
			}
		case "averaged_reads":
			if err := fv.Decode(&s.Read.AveragedReads); err != nil {
				return fromCUE(ErrCodeSchema, err)
			}
		default:
			var b recipe.ReadBias
			if err := fv.Decode(&b); err != nil {
				return fromCUE(ErrCodeSchema, err)
			}
			s.Read.Bias[name] = b
		}
	}
	return nil
}

func duration(v cue.Value) (time.Duration, error) {
	text, err := v.String()
	if err != nil {
		return 0, fromCUE(ErrCodeSchema, err)
	}
	d, err := time.ParseDuration(text)
	if err != nil {
		return 0, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("invalid duration %q", text), Pos: v.Pos()}
	}
	if d < 0 {
		return 0, &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("negative duration %q", text), Pos: v.Pos()}
	}
	return d, nil
}
