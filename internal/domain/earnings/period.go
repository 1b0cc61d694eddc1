package earnings

import "time"

// Period is an aggregation window anchored at the current wall-clock time.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Periods lists every supported window.
var Periods = []Period{PeriodToday, PeriodWeek, PeriodMonth, PeriodAll}

// ParsePeriod validates s. An empty string selects PeriodAll.
func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return PeriodAll, nil
	}
	p := Period(s)
	switch p {
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodAll:
		return p, nil
	}
	return "", ErrUnknownPeriod
}

// Start returns the inclusive lower bound of p at now in loc: local midnight
// for today, the most recent Sunday midnight for week, the 1st of the month
// for month, and the zero time for all.
func (p Period) Start(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch p {
	case PeriodToday:
		return midnight
	case PeriodWeek:
		return midnight.AddDate(0, 0, -int(local.Weekday()))
	case PeriodMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Time{}
	}
}
