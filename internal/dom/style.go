package dom

import (
	"math"
	"strconv"
	"strings"
)

// Alpha returns the opacity of a CSS color value in [0, 1]. Unknown values
// count as transparent.
func Alpha(color string) float64 {
	c := strings.TrimSpace(strings.ToLower(color))
	switch {
	case c == "", c == "transparent", c == "none":
		return 0
	case strings.HasPrefix(c, "#"):
		return hexAlpha(c[1:])
	case strings.HasPrefix(c, "rgba("), strings.HasPrefix(c, "rgb("),
		strings.HasPrefix(c, "hsla("), strings.HasPrefix(c, "hsl("):
		open := strings.IndexByte(c, '(')
		end := strings.LastIndexByte(c, ')')
		if end < open {
			return 0
		}
		args := c[open+1 : end]
		// Modern syntax: "0 0 0 / 50%".
		if slash := strings.IndexByte(args, '/'); slash >= 0 {
			return parseAlphaComponent(args[slash+1:])
		}
		parts := strings.Split(args, ",")
		if len(parts) == 4 {
			return parseAlphaComponent(parts[3])
		}
		return 1
	}
	// Named colors are opaque.
	return 1
}

func hexAlpha(hex string) float64 {
	switch len(hex) {
	case 4:
		v, err := strconv.ParseUint(strings.Repeat(hex[3:], 2), 16, 8)
		if err != nil {
			return 0
		}
		return float64(v) / 255
	case 8:
		v, err := strconv.ParseUint(hex[6:], 16, 8)
		if err != nil {
			return 0
		}
		return float64(v) / 255
	case 3, 6:
		return 1
	}
	return 0
}

func parseAlphaComponent(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0
		}
		return clamp01(v / 100)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Length parses a CSS length in px or percent of base. Elliptical values
// ("12px 8px") use the horizontal radius.
func Length(value string, base float64) float64 {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0
	}
	v := fields[0]
	switch {
	case strings.HasSuffix(v, "%"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil {
			return 0
		}
		return f / 100 * base
	case strings.HasSuffix(v, "px"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
		if err != nil {
			return 0
		}
		return f
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// InsetRadii extracts the corner radii from a "clip-path: inset(... round
// ...)" value. ok is false when the value has no rounded inset.
func InsetRadii(clipPath string, width float64) (radii [4]float64, ok bool) {
	c := strings.TrimSpace(strings.ToLower(clipPath))
	if !strings.HasPrefix(c, "inset(") {
		return radii, false
	}
	end := strings.LastIndexByte(c, ')')
	if end < 0 {
		return radii, false
	}
	body := c[len("inset("):end]
	idx := strings.Index(body, " round ")
	if idx < 0 {
		return radii, false
	}
	round := body[idx+len(" round "):]
	if slash := strings.IndexByte(round, '/'); slash >= 0 {
		round = round[:slash]
	}
	fields := strings.Fields(round)
	vals := make([]float64, len(fields))
	for i, f := range fields {
		vals[i] = Length(f, width)
	}
	switch len(vals) {
	case 1:
		radii = [4]float64{vals[0], vals[0], vals[0], vals[0]}
	case 2:
		radii = [4]float64{vals[0], vals[1], vals[0], vals[1]}
	case 3:
		radii = [4]float64{vals[0], vals[1], vals[2], vals[1]}
	case 4:
		radii = [4]float64{vals[0], vals[1], vals[2], vals[3]}
	default:
		return radii, false
	}
	return radii, true
}

// CornerRadii returns the effective per-corner radius of a box of the given
// width: border-radius first, clip-path inset rounding when no border radius
// is set.
func CornerRadii(s Style, width float64) [4]float64 {
	var radii [4]float64
	set := false
	for i, v := range s.BorderRadius {
		radii[i] = Length(v, width)
		if radii[i] > 0 {
			set = true
		}
	}
	if set {
		return radii
	}
	if inset, ok := InsetRadii(s.ClipPath, width); ok {
		return inset
	}
	return radii
}

// HasVisibleBorder reports whether any side draws a border.
func HasVisibleBorder(s Style) bool {
	for i := range s.BorderWidth {
		if s.BorderWidth[i] <= 0 {
			continue
		}
		style := strings.ToLower(strings.TrimSpace(s.BorderStyle[i]))
		if style == "none" || style == "hidden" {
			continue
		}
		if s.BorderColor[i] != "" && Alpha(s.BorderColor[i]) == 0 {
			continue
		}
		return true
	}
	return false
}

// HasShadow reports a box-shadow or a drop-shadow filter.
func HasShadow(s Style) bool {
	shadow := strings.TrimSpace(strings.ToLower(s.BoxShadow))
	if shadow != "" && shadow != "none" {
		return true
	}
	return strings.Contains(strings.ToLower(s.Filter), "drop-shadow(")
}

// Rendered reports whether the element takes part in layout and paints.
func Rendered(s Style) bool {
	return s.Display != "none" && s.Visibility != "hidden" && s.Visibility != "collapse"
}
