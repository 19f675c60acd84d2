package schedule

import (
	"fmt"
	"time"

	"github.com/InfinitoSolutions/ibl-pay-api/internal/types"
)

const timeOfDayLayout = "15:04:05"

// Windows are the cadence availability windows: how long after its scheduled
// time a cycle remains actionable before the abandonment sweep may cancel it.
// The same values bound the runner's lookback when selecting due bills.
type Windows struct {
	Daily   time.Duration
	Weekly  time.Duration
	Monthly time.Duration
}

func (w Windows) For(c types.Cadence) time.Duration {
	switch c {
	case types.CadenceDaily:
		return w.Daily
	case types.CadenceWeekly:
		return w.Weekly
	case types.CadenceMonthly:
		return w.Monthly
	default:
		return 0
	}
}

// Calculator computes next-run times and availability for one recurring spec.
// It is pure: all clock access goes through the now argument.
type Calculator struct {
	spec    *types.RecurringSpec
	windows Windows

	hour, minute, second int
}

// NewCalculator validates the spec fields that are checked synchronously at
// creation time: a parseable time-of-day, a known cadence, day_of_week within
// 1..7 for weekly and day_of_month within 1..31 for monthly.
func NewCalculator(spec *types.RecurringSpec, windows Windows) (*Calculator, error) {
	tod, err := time.Parse(timeOfDayLayout, spec.ScheduleTime)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule time %q: %w", spec.ScheduleTime, err)
	}
	switch spec.Cadence {
	case types.CadenceDaily:
	case types.CadenceWeekly:
		if spec.DayOfWeek < 1 || spec.DayOfWeek > 7 {
			return nil, fmt.Errorf("day of week must be 1-7, got %d", spec.DayOfWeek)
		}
	case types.CadenceMonthly:
		if spec.DayOfMonth < 1 || spec.DayOfMonth > 31 {
			return nil, fmt.Errorf("day of month must be 1-31, got %d", spec.DayOfMonth)
		}
	default:
		return nil, fmt.Errorf("invalid cadence %q", spec.Cadence)
	}
	return &Calculator{
		spec:    spec,
		windows: windows,
		hour:    tod.Hour(),
		minute:  tod.Minute(),
		second:  tod.Second(),
	}, nil
}

// Reschedule advances spec.NextRunAt to the next occurrence after the current
// one has been consumed. Once the series end has passed, NextRunAt stays nil
// permanently.
func (c *Calculator) Reschedule(now time.Time) {
	if c.Ended(now) {
		c.spec.NextRunAt = nil
		return
	}

	d := c.atTimeOfDay(now)
	isNext := c.isNextSchedule(d, now)
	switch c.spec.Cadence {
	case types.CadenceDaily:
		if isNext {
			d = d.AddDate(0, 0, 1)
		}
	case types.CadenceWeekly:
		if isNext {
			d = snapToISOWeekday(d.AddDate(0, 0, 7), c.spec.DayOfWeek)
		}
	case types.CadenceMonthly:
		year, month := d.Year(), d.Month()
		if isNext {
			month++
		}
		d = c.dayOfMonth(year, month)
	}

	if d.After(c.endTime()) {
		c.spec.NextRunAt = nil
		return
	}
	if st := c.startTime(); d.Before(st) {
		// Before the series start: first run happens at the start time.
		d = st
	}
	c.spec.NextRunAt = &d
}

// IsAvailable reports whether the cycle's scheduled time has arrived and the
// cadence window has not yet elapsed. Outside the window the cycle counts as
// abandoned.
func (c *Calculator) IsAvailable(now time.Time) bool {
	if c.spec.RunAt == nil {
		return false
	}
	scheduled := c.atTimeOfDay(*c.spec.RunAt)
	if scheduled.After(now) {
		return false
	}
	return !scheduled.Add(c.windows.For(c.spec.Cadence)).Before(now)
}

// isNextSchedule reports whether the candidate anchor has already been
// consumed: either it falls on or before the recorded next_run_at, or, for a
// first run, the series has started.
func (c *Calculator) isNextSchedule(d, now time.Time) bool {
	if c.spec.NextRunAt != nil {
		return !d.After(*c.spec.NextRunAt)
	}
	st := c.startTime()
	return !d.Before(st) && st.Before(now)
}

// Ended reports whether the series end has passed. Once true, NextRunAt is
// permanently nil.
func (c *Calculator) Ended(now time.Time) bool {
	return c.endTime().Before(now)
}

func (c *Calculator) startTime() time.Time {
	return c.atTimeOfDay(c.spec.StartDate)
}

func (c *Calculator) endTime() time.Time {
	return c.atTimeOfDay(c.spec.EndDate)
}

func (c *Calculator) atTimeOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, c.second, 0, time.UTC)
}

// dayOfMonth places the spec's day of month in the intended month (month may
// exceed December; time.Date normalizes). When the month is shorter than the
// requested day, the date snaps to the month's last day while keeping the
// time of day.
func (c *Calculator) dayOfMonth(year int, month time.Month) time.Time {
	intended := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	d := time.Date(year, month, c.spec.DayOfMonth, c.hour, c.minute, c.second, 0, time.UTC)
	if d.Month() != intended.Month() {
		d = time.Date(intended.Year(), intended.Month()+1, 0, c.hour, c.minute, c.second, 0, time.UTC)
	}
	return d
}

// snapToISOWeekday moves d within its week to the ISO weekday (1=Mon..7=Sun).
func snapToISOWeekday(d time.Time, dayOfWeek int) time.Time {
	iso := int(d.Weekday())
	if iso == 0 {
		iso = 7
	}
	return d.AddDate(0, 0, dayOfWeek-iso)
}
