package scaling

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleEntry is a static traffic-shape hint: expected load factor
// for a recurring UTC day/time window. Day "*" matches every day.
type ScheduleEntry struct {
	Day        string  `yaml:"day"`
	Start      string  `yaml:"start"` // HH:MM, UTC
	End        string  `yaml:"end"`   // HH:MM, UTC
	LoadFactor float64 `yaml:"load_factor"`
	Label      string  `yaml:"label,omitempty"`
}

type scheduleFile struct {
	Entries []ScheduleEntry `yaml:"schedule"`
}

// LoadScheduleFile reads a YAML traffic schedule.
func LoadScheduleFile(path string) ([]ScheduleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}

	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}

	for i, e := range f.Entries {
		if _, err := parseClock(e.Start); err != nil {
			return nil, fmt.Errorf("schedule entry %d: bad start %q", i, e.Start)
		}
		if _, err := parseClock(e.End); err != nil {
			return nil, fmt.Errorf("schedule entry %d: bad end %q", i, e.End)
		}
		if e.LoadFactor <= 0 {
			return nil, fmt.Errorf("schedule entry %d: load factor must be positive", i)
		}
	}
	return f.Entries, nil
}

// predictLoad matches the current UTC time against the schedule,
// returning the largest matching load factor and a confidence derived
// from proximity to the window. An entry matches from PredictionWindow
// before its start until its end.
func (s *AutoScaler) predictLoad(now time.Time) (factor, confidence float64, matched bool) {
	s.mu.Lock()
	entries := s.schedule
	s.mu.Unlock()
	if len(entries) == 0 {
		return 0, 0, false
	}

	utc := now.UTC()
	day := strings.ToLower(utc.Weekday().String())
	minutes := utc.Hour()*60 + utc.Minute()
	window := s.config.PredictionWindow.Minutes()

	for _, e := range entries {
		if e.Day != "*" && strings.ToLower(e.Day) != day {
			continue
		}
		start, _ := parseClock(e.Start)
		end, _ := parseClock(e.End)
		cur := minutes
		if end < start {
			// overnight window
			end += 24 * 60
			if cur < start {
				cur += 24 * 60
			}
		}

		var c float64
		switch {
		case cur >= start && cur <= end:
			c = 1
		case cur >= start-int(window) && cur < start:
			c = 1 - float64(start-cur)/window
		default:
			continue
		}

		if !matched || e.LoadFactor > factor {
			factor = e.LoadFactor
			confidence = c
			matched = true
		}
	}
	return factor, confidence, matched
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock out of range: %q", v)
	}
	return h*60 + m, nil
}
