package world

import (
	"fmt"
	"math"
	"strings"
)

// Color is a runtime RGB color. It serializes as a 6-hex uppercase string.
type Color struct {
	R, G, B uint8
}

// Hex returns the wire form, e.g. "FFA03C".
func (c Color) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

// Distance is the straight-line RGB distance to another color.
func (c Color) Distance(o Color) float64 {
	dr := float64(c.R) - float64(o.R)
	dg := float64(c.G) - float64(o.G)
	db := float64(c.B) - float64(o.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// MaxColorDistance is the RGB-space diagonal, used to normalize Distance.
var MaxColorDistance = math.Sqrt(3 * 255 * 255)

// ParseColor accepts either the hex wire form or a structured
// {r,g,b} map (older snapshots stored colors structurally).
func ParseColor(v any) (Color, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(val), "#")
		if len(s) != 6 {
			return Color{}, false
		}
		var r, g, b uint8
		if _, err := fmt.Sscanf(strings.ToUpper(s), "%02X%02X%02X", &r, &g, &b); err != nil {
			return Color{}, false
		}
		return Color{R: r, G: g, B: b}, true
	case map[string]any:
		num := func(key string) (uint8, bool) {
			f, ok := val[key].(float64)
			if !ok {
				if i, iok := val[key].(int); iok {
					f, ok = float64(i), true
				}
			}
			if !ok || f < 0 || f > 255 {
				return 0, false
			}
			return uint8(f), true
		}
		r, rok := num("r")
		g, gok := num("g")
		b, bok := num("b")
		if rok && gok && bok {
			return Color{R: r, G: g, B: b}, true
		}
	}
	return Color{}, false
}
