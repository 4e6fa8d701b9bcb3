package loader

import "github.com/born-ml/micro/internal/serialization"

// LoadOptions configures graph loading.
type LoadOptions struct {
	// StrictMode checks that every operator has a builder before anything is materialized
	// (default: false = fail when the unsupported operator is reached).
	StrictMode bool

	// CustomBuilders adds or replaces kernel builders for the given opcodes.
	CustomBuilders map[serialization.Opcode]BuilderFunc
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		StrictMode:     false,
		CustomBuilders: nil,
	}
}
