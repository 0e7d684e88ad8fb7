package calendar

import (
	"fmt"
	"sort"
	"time"
)

// ClosedReason explains why a day has no working windows.
type ClosedReason string

const (
	ClosedNone       ClosedReason = ""
	ClosedHoliday    ClosedReason = "holiday"
	ClosedNotWorking ClosedReason = "outside-hours"
)

// Day is the resolved working schedule of one employee on one date.
// Closures holds the parts of the rule window removed by partial exceptions.
type Day struct {
	Date     Date
	Closed   bool
	Reason   ClosedReason
	Windows  []Interval
	Breaks   []Interval
	Closures []Interval
}

// ClosedAt reports whether m falls in a range closed by an exception.
func (d Day) ClosedAt(m Minute) bool {
	for _, c := range d.Closures {
		if m >= c.Start && m < c.End {
			return true
		}
	}
	return false
}

// ClosureOverlaps reports whether iv overlaps a range closed by an exception.
func (d Day) ClosureOverlaps(iv Interval) bool {
	for _, c := range d.Closures {
		if c.Overlaps(iv) {
			return true
		}
	}
	return false
}

type ruleKey struct {
	employeeID string
	weekday    time.Weekday
}

// Calendar is an immutable lookup over a tenant's rules and exceptions.
type Calendar struct {
	rules      map[ruleKey]WorkingHoursRule
	exceptions []CalendarException
}

// New validates every rule and exception and indexes them for lookup.
func New(rules []WorkingHoursRule, exceptions []CalendarException) (*Calendar, error) {
	c := &Calendar{
		rules:      make(map[ruleKey]WorkingHoursRule, len(rules)),
		exceptions: make([]CalendarException, 0, len(exceptions)),
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		key := ruleKey{employeeID: r.EmployeeID, weekday: r.Weekday}
		if _, dup := c.rules[key]; dup {
			return nil, fmt.Errorf("%w: employee %s weekday %s", ErrDuplicateRule, r.EmployeeID, r.Weekday)
		}
		c.rules[key] = r
	}
	for _, e := range exceptions {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		c.exceptions = append(c.exceptions, e)
	}
	return c, nil
}

// Rule returns the rule for an employee and weekday.
func (c *Calendar) Rule(employeeID string, weekday time.Weekday) (WorkingHoursRule, bool) {
	r, ok := c.rules[ruleKey{employeeID: employeeID, weekday: weekday}]
	return r, ok
}

// exceptionsFor returns the exceptions matching the date, employee-specific first.
func (c *Calendar) exceptionsFor(employeeID string, date Date) []CalendarException {
	var own, business []CalendarException
	for _, e := range c.exceptions {
		if !e.Matches(date) {
			continue
		}
		switch {
		case e.BusinessWide():
			business = append(business, e)
		case e.EmployeeID == employeeID:
			own = append(own, e)
		}
	}
	return append(own, business...)
}

// WorkingWindowFor resolves the working windows of an employee on a date.
// Exceptions are checked before the weekly rule and may split the window.
func (c *Calendar) WorkingWindowFor(employeeID string, date Date) Day {
	day := Day{Date: date}
	exceptions := c.exceptionsFor(employeeID, date)
	for _, e := range exceptions {
		if e.FullDay {
			day.Closed, day.Reason = true, ClosedHoliday
			return day
		}
	}

	rule, ok := c.Rule(employeeID, date.Weekday())
	if !ok || !rule.IsWorking {
		day.Closed, day.Reason = true, ClosedNotWorking
		return day
	}

	window := rule.Window()
	windows := []Interval{window}
	for _, e := range exceptions {
		cut := e.Closed()
		windows = Subtract(windows, cut)
		if cut.Overlaps(window) {
			day.Closures = append(day.Closures, Interval{Start: max(cut.Start, window.Start), End: min(cut.End, window.End)})
		}
	}
	if len(windows) == 0 {
		day.Closed, day.Reason = true, ClosedHoliday
		return day
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	day.Windows = windows
	if br, ok := rule.Break(); ok {
		day.Breaks = []Interval{br}
	}
	return day
}
