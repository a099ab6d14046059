package tracking

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Color is the display colour of a tracking source.
type Color int

const (
	Red Color = iota
	Green
	Blue
	Magenta
	Cyan
	Orange
	Pink
	Grey
	Violet
	Yellow

	numColors
)

// RGB is an 8-bit display colour.
type RGB struct {
	R, G, B uint8
}

// Hex returns the colour as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

var colorTable = [numColors]struct {
	name string
	rgb  RGB
}{
	Red:     {"red", RGB{255, 0, 0}},
	Green:   {"green", RGB{0, 255, 0}},
	Blue:    {"blue", RGB{0, 0, 255}},
	Magenta: {"magenta", RGB{255, 0, 255}},
	Cyan:    {"cyan", RGB{0, 255, 255}},
	Orange:  {"orange", RGB{255, 165, 0}},
	Pink:    {"pink", RGB{255, 192, 203}},
	Grey:    {"grey", RGB{128, 128, 128}},
	Violet:  {"violet", RGB{238, 130, 238}},
	Yellow:  {"yellow", RGB{255, 255, 0}},
}

// Colors returns every palette colour in display order.
func Colors() []Color {
	out := make([]Color, numColors)
	for i := range out {
		out[i] = Color(i)
	}
	return out
}

// Valid reports whether c is a palette colour.
func (c Color) Valid() bool {
	return c >= 0 && c < numColors
}

func (c Color) String() string {
	if !c.Valid() {
		return colorTable[Red].name
	}
	return colorTable[c].name
}

// RGB returns the display value of c. Invalid colours render as red.
func (c Color) RGB() RGB {
	if !c.Valid() {
		return colorTable[Red].rgb
	}
	return colorTable[c].rgb
}

// ParseColor looks up a palette colour by name, case-insensitively.
// Unknown names return Red and ok=false.
func ParseColor(name string) (c Color, ok bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "gray" {
		name = "grey"
	}
	for i, entry := range colorTable {
		if entry.name == name {
			return Color(i), true
		}
	}
	return Red, false
}

// NextUnusedColor returns the first palette colour not present in used,
// wrapping around to Red when every colour is taken.
func NextUnusedColor(used []Color) Color {
	taken := make(map[Color]bool, len(used))
	for _, c := range used {
		taken[c] = true
	}
	for _, c := range Colors() {
		if !taken[c] {
			return c
		}
	}
	return Color(len(used) % int(numColors))
}

func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseColor(name)
	if !ok {
		return fmt.Errorf("unknown colour %q", name)
	}
	*c = parsed
	return nil
}
