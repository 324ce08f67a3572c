package waveform

import (
	"errors"
	"fmt"
)

// OverflowError is returned when the phases of a pulse need more samples
// than the instrument buffer holds.
type OverflowError struct {
	Length int
	Max    int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("waveform needs %d samples, buffer holds %d", e.Length, e.Max)
}

// IsOverflowError reports whether err is or wraps an *OverflowError.
func IsOverflowError(err error) bool {
	var oe *OverflowError
	return errors.As(err, &oe)
}
