package maintenance

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5- and 6-field (leading seconds) specs plus descriptors
// such as "@hourly" and "@every 5m".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NormalizeSpec turns a schedule string into a cron spec.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 3 * * *", "@daily", "@every 10m"
//   - Go duration: "15m", "1h30m" (becomes "@every ...")
func NormalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		if _, err := parser.Parse(s); err != nil {
			return "", fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *' or a duration like '15m')", raw)
	}
	if d < time.Second {
		return "", fmt.Errorf("interval %q must be at least 1s", raw)
	}
	return "@every " + d.String(), nil
}

// ValidateSpec reports whether raw would be accepted by Add.
func ValidateSpec(raw string) error {
	_, err := NormalizeSpec(raw)
	return err
}

// LoadLocation resolves a timezone name; empty means local time.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
