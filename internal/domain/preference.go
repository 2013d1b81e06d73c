package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClockTime parses "HH:MM" in 24-hour form.
func ParseClockTime(s string) (ClockTime, error) {
	trimmed := strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(trimmed, ":")
	if !ok {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrValidation, s)
	}

	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrValidation, s)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrValidation, s)
	}

	return ClockTime(hours*60 + minutes), nil
}

func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// QuietHours is a daily window during which non-critical delivery is deferred.
// Start > End wraps midnight and blocks outside [End, Start).
type QuietHours struct {
	Start ClockTime
	End   ClockTime
}

func (q QuietHours) Wraps() bool {
	return q.Start > q.End
}

// Contains reports whether the wall-clock time c falls inside the quiet window.
func (q QuietHours) Contains(c ClockTime) bool {
	if q.Start == q.End {
		return false
	}
	if q.Wraps() {
		return c >= q.Start || c < q.End
	}
	return c >= q.Start && c < q.End
}

// EndAfter returns the first instant at or after t, in t's location, when the window ends.
func (q QuietHours) EndAfter(t time.Time) time.Time {
	end := time.Date(t.Year(), t.Month(), t.Day(), int(q.End)/60, int(q.End)%60, 0, 0, t.Location())
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// NotificationPreference holds one user's settings for a (type, channel) pair.
type NotificationPreference struct {
	UserID     string
	Type       Type
	Channel    Channel
	Enabled    bool
	QuietHours *QuietHours
	MaxPerHour int
	MaxPerDay  int
	UpdatedAt  time.Time
}

func (p *NotificationPreference) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !p.Type.IsValid() {
		return fmt.Errorf("%w: invalid type %q", ErrValidation, p.Type)
	}
	if !p.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, p.Channel)
	}
	if p.MaxPerHour < 0 || p.MaxPerDay < 0 {
		return fmt.Errorf("%w: rate caps must be >= 0", ErrValidation)
	}
	if p.QuietHours != nil {
		if p.QuietHours.Start < 0 || p.QuietHours.Start >= minutesPerDay ||
			p.QuietHours.End < 0 || p.QuietHours.End >= minutesPerDay {
			return fmt.Errorf("%w: quiet hours out of range", ErrValidation)
		}
	}
	return nil
}
