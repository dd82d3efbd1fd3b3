package attrmap

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatDuration renders seconds in the router's compact form, e.g. "8h" or "1d2h30m".
// Zero renders as the empty string.
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return ""
	}
	units := []struct {
		suffix string
		size   int64
	}{
		{"w", 7 * 86400},
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}
	var b strings.Builder
	rest := seconds
	for _, u := range units {
		if rest >= u.size {
			b.WriteString(strconv.FormatInt(rest/u.size, 10))
			b.WriteString(u.suffix)
			rest %= u.size
		}
	}
	return b.String()
}

// ParseDuration reads a router duration into seconds. It accepts bare seconds
// ("3600"), compact unit strings ("1d2h30m", "90s") and clock notation with an
// optional unit prefix ("08:00:00", "1d08:00:00").
func ParseDuration(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var total int64
	num := ""
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num += string(c)
		case c == ':':
			clock, err := parseClock(num + s[i:])
			if err != nil {
				return 0, err
			}
			return total + clock, nil
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			n, _ := strconv.ParseInt(num, 10, 64)
			var size int64
			switch c {
			case 'w':
				size = 7 * 86400
			case 'd':
				size = 86400
			case 'h':
				size = 3600
			case 'm':
				size = 60
			case 's':
				size = 1
			default:
				return 0, fmt.Errorf("invalid duration unit %q in %q", c, s)
			}
			total += n * size
			num = ""
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing number without unit", s)
	}
	return total, nil
}

func parseClock(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock duration %q", s)
	}
	var total int64
	for i, size := range []int64{3600, 60, 1} {
		n, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid clock duration %q", s)
		}
		total += n * size
	}
	return total, nil
}
