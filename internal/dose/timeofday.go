package dose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is minutes since midnight
type TimeOfDay int

var (
	clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(am|pm)?$`)
	hourPattern  = regexp.MustCompile(`^(\d{1,2})\s*(am|pm)$`)
)

var keywordTimes = map[string]TimeOfDay{
	"morning": 8 * 60,
	"noon":    12 * 60,
	"evening": 18 * 60,
	"bedtime": 22 * 60,
}

// ParseTimeOfDay accepts "21:00", "9:30 pm", "8am" and the keywords
// morning, noon, evening and bedtime
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	if t, ok := keywordTimes[text]; ok {
		return t, nil
	}

	var hour, minute int
	var ampm string
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		ampm = m[3]
	} else if m := hourPattern.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		ampm = m[2]
	} else {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	if ampm != "" {
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		if ampm == "pm" && hour != 12 {
			hour += 12
		}
		if ampm == "am" && hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// MustTime panics on invalid input; intended for constants and tests
func MustTime(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String formats as HH:MM
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places the time of day on a calendar day in loc
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// Normalize parses s and returns it in HH:MM form. Empty input stays empty
// and denotes an untimed slot.
func Normalize(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t, err := ParseTimeOfDay(s)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}
