package testutil

// FixedIDGenerator generates the same operation ID every time.
//
// This enables deterministic test execution and golden trace comparison:
// the same scenario with the same FixedIDGenerator produces byte-identical
// event traces.
//
// Unlike engine.FixedGenerator which returns IDs in sequence and panics
// when they run out, this generator never runs out.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a new fixed operation ID generator.
//
// If id is empty, Generate() returns "test-op-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-op-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
//
// Implements engine.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
