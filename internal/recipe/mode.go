// Package recipe defines programming modes and the voltage/width grid the
// controller escalates through.
package recipe

import (
	"fmt"
	"strings"
)

// Mode is an array operation.
type Mode int

const (
	ModeRead Mode = iota
	ModeSet
	ModeReset
	ModeForm
)

// Modes lists the programming modes.
var Modes = []Mode{ModeSet, ModeReset, ModeForm}

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "READ"
	case ModeSet:
		return "SET"
	case ModeReset:
		return "RESET"
	case ModeForm:
		return "FORM"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ":
		return ModeRead, nil
	case "SET":
		return ModeSet, nil
	case "RESET":
		return ModeReset, nil
	case "FORM":
		return ModeForm, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Programs reports whether m applies pulses.
func (m Mode) Programs() bool { return m == ModeSet || m == ModeReset || m == ModeForm }

// AggressorIsSourceline reports whether the swept line is the sourceline.
// RESET reverses the cell current, so it drives the sourceline; SET and
// FORM drive the bitline.
func (m Mode) AggressorIsSourceline() bool { return m == ModeReset }

// AggressorKey is the settings key of the swept line.
func (m Mode) AggressorKey() string {
	if m.AggressorIsSourceline() {
		return "vsl"
	}
	return "vbl"
}

// Converged reports whether resistance r meets target for this mode:
// RESET aims high, SET and FORM aim low.
func (m Mode) Converged(r, target float64) bool {
	if m == ModeReset {
		return r >= target
	}
	return r <= target
}
