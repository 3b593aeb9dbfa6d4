package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/slot"
)

// ParseSchedule normalizes a schedule string to a cron spec.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */10 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// A "cron:" or "every:" prefix forces the interpretation.
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return validCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return "", err
		}
		return "@every " + d.String(), nil
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return validCron(s)
	}
	d, err := parseInterval(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	return "@every " + d.String(), nil
}

func validCron(spec string) (string, error) {
	if spec == "" {
		return "", fmt.Errorf("cron schedule required")
	}
	if _, err := slot.Parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return spec, nil
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

func parseInterval(v string) (time.Duration, error) {
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
