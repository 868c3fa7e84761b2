package embedded

import (
	_ "embed"
)

// SeedPatternsYAML lists the example melodies written into an empty
// MIDI source directory
//
//go:embed data/seed_patterns.yaml
var SeedPatternsYAML []byte
