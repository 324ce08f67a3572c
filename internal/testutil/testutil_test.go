package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rram/internal/engine"
)

var (
	_ engine.IDGenerator = (*FixedIDGenerator)(nil)
	_ engine.Sleeper     = (*RecordingSleeper)(nil)
)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("op-123")

	assert.Equal(t, "op-123", gen.Generate())
	assert.Equal(t, "op-123", gen.Generate())
}

func TestFixedIDGenerator_EmptyIDDefault(t *testing.T) {
	assert.Equal(t, "test-op-default", NewFixedIDGenerator("").Generate())
}

func TestRecordingSleeper(t *testing.T) {
	s := NewRecordingSleeper()
	s.Sleep(time.Millisecond)
	s.Sleep(2 * time.Millisecond)

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, s.Calls())
	assert.Equal(t, 3*time.Millisecond, s.Total())

	calls := s.Calls()
	calls[0] = time.Hour
	assert.Equal(t, time.Millisecond, s.Calls()[0], "Calls returns a copy")

	s.Reset()
	assert.Empty(t, s.Calls())
	assert.Zero(t, s.Total())
}

func TestRecordingSleeper_ThreadSafe(t *testing.T) {
	s := NewRecordingSleeper()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Sleep(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Calls(), 1000)
	assert.Equal(t, time.Millisecond, s.Total())
}
