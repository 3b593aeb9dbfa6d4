package forward

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWindow parses a time offset such as "30m", "6h", "1d" or "1d12h".
// "none" and "off" return 0 with ok=false.
func ParseWindow(raw string) (d time.Duration, ok bool, err error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "none", "off", "disabled":
		return 0, false, nil
	case "":
		return 0, false, fmt.Errorf("empty time offset")
	}
	if i := strings.IndexByte(s, 'd'); i > 0 {
		days, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, false, fmt.Errorf("invalid time offset %q", raw)
		}
		d = time.Duration(days) * 24 * time.Hour
		s = s[i+1:]
	}
	if s != "" {
		rest, err := time.ParseDuration(s)
		if err != nil {
			return 0, false, fmt.Errorf("invalid time offset %q", raw)
		}
		d += rest
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("time offset %q must be positive", raw)
	}
	return d, true, nil
}
