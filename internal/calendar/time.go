// Package calendar models per-employee working hours and calendar exceptions
// and resolves them into the bookable windows of a single civil date.
//
// All times of day are minute-of-day integers paired with an explicit civil
// Date. Conversion to an instant only happens at the tenant timezone boundary.
package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the exclusive upper bound of a minute-of-day value.
const MinutesPerDay Minute = 24 * 60

var (
	// ErrInvalidMinute is returned when a time of day is malformed or out of range.
	ErrInvalidMinute = errors.New("calendar: invalid time of day")
	// ErrInvalidDate is returned when a date string cannot be parsed.
	ErrInvalidDate = errors.New("calendar: invalid date")
)

// Minute is a minute-of-day offset. 0 is midnight, 1440 is the end of the day.
type Minute int

// ParseMinute parses "HH:MM" (24-hour clock). "24:00" is accepted as end of day.
func ParseMinute(raw string) (Minute, error) {
	raw = strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMinute, raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || len(hh) == 0 || len(hh) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMinute, raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMinute, raw)
	}
	v := Minute(h*60 + m)
	if !v.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMinute, raw)
	}
	return v, nil
}

// MustMinute is ParseMinute for literals known to be valid.
func MustMinute(raw string) Minute {
	m, err := ParseMinute(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// MinuteOf returns the minute-of-day of t in t's own location.
func MinuteOf(t time.Time) Minute {
	return Minute(t.Hour()*60 + t.Minute())
}

// Valid reports whether m lies in [0, 1440].
func (m Minute) Valid() bool {
	return m >= 0 && m <= MinutesPerDay
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m Minute) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Minute) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMinute, string(data))
	}
	parsed, err := ParseMinute(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Interval is a half-open [Start, End) range of minutes on one date.
type Interval struct {
	Start Minute `json:"start"`
	End   Minute `json:"end"`
}

// Overlaps applies the half-open rule: an interval ending exactly when the
// other begins does not overlap it. Every overlap test in the engine uses this.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Empty reports whether the interval covers no time.
func (i Interval) Empty() bool {
	return i.End <= i.Start
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// Subtract removes cut from every interval in windows, splitting where needed.
func Subtract(windows []Interval, cut Interval) []Interval {
	if cut.Empty() {
		return windows
	}
	out := make([]Interval, 0, len(windows)+1)
	for _, w := range windows {
		if !w.Overlaps(cut) {
			out = append(out, w)
			continue
		}
		if w.Start < cut.Start {
			out = append(out, Interval{Start: w.Start, End: cut.Start})
		}
		if cut.End < w.End {
			out = append(out, Interval{Start: cut.End, End: w.End})
		}
	}
	return out
}

// Date is a civil calendar date with no time-of-day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// NewDate normalizes the components (e.g. Jan 32 becomes Feb 1).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the civil date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return DateOf(t), nil
}

func (d Date) utc() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Weekday returns the day of week, 0 = Sunday.
func (d Date) Weekday() time.Weekday {
	return d.utc().Weekday()
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.utc().AddDate(0, 0, n))
}

// DaysUntil returns the number of calendar days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.utc().Sub(d.utc()).Hours() / 24)
}

func (d Date) Before(other Date) bool {
	return d.utc().Before(other.utc())
}

func (d Date) After(other Date) bool {
	return d.utc().After(other.utc())
}

// At returns the instant of minute m on d in loc. Across a DST gap Go's
// time.Date normalization applies.
func (d Date) At(m Minute, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, int(m), 0, 0, loc)
}

func (d Date) String() string {
	return d.utc().Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(data))
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
