package types

import "time"

// Palette is the fixed ten-color hex palette agents are assigned from,
// generalized from a name-substring color scheme to a pool of hex values.
var Palette = []string{
	"#22C55E", // emerald
	"#A855F7", // violet
	"#EF4444", // rose
	"#06B6D4", // cyan
	"#EAB308", // gold
	"#0EA5E9", // sky
	"#F97316", // orange
	"#EC4899", // pink
	"#84CC16", // lime
	"#6366F1", // indigo
}

// ColorPool maps agentId -> assigned hex color.
type ColorPool struct {
	Assignments map[string]string `json:"assignments"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

func (c *ColorPool) Validate() error {
	return nil
}
