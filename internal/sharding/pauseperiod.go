package sharding

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateRange is one "M/d-M/d" window of pausePeriodDate, inclusive of both
// endpoints, compared ignoring year.
type dateRange struct {
	startMonth, startDay int
	endMonth, endDay     int
}

// timeRange is one "H:m-H:m" window of pausePeriodTime, inclusive of both
// endpoints, compared within a single day.
type timeRange struct {
	startHour, startMin int
	endHour, endMin     int
}

// PausePeriod is the parsed form of a job's pausePeriodDate/pausePeriodTime
// config pair, evaluated in the job's configured time zone. See spec.md §6.
type PausePeriod struct {
	dates []dateRange
	times []timeRange
	loc   *time.Location
}

// ParsePausePeriod parses dateSpec/timeSpec in the named zone (default UTC
// when zoneName is empty or unrecognized). Either spec may be empty,
// meaning "no restriction" for that dimension.
func ParsePausePeriod(dateSpec, timeSpec, zoneName string) (PausePeriod, error) {
	loc := time.UTC
	if zoneName != "" {
		if l, err := time.LoadLocation(zoneName); err == nil {
			loc = l
		}
	}

	dates, err := parseDateRanges(dateSpec)
	if err != nil {
		return PausePeriod{}, err
	}
	times, err := parseTimeRanges(timeSpec)
	if err != nil {
		return PausePeriod{}, err
	}
	return PausePeriod{dates: dates, times: times, loc: loc}, nil
}

func parseDateRanges(spec string) ([]dateRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []dateRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("pause period date %q: expected M/d-M/d", part)
		}
		sm, sd, err := parseMonthDay(bounds[0])
		if err != nil {
			return nil, err
		}
		em, ed, err := parseMonthDay(bounds[1])
		if err != nil {
			return nil, err
		}
		out = append(out, dateRange{startMonth: sm, startDay: sd, endMonth: em, endDay: ed})
	}
	return out, nil
}

func parseMonthDay(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("pause period date %q: expected M/d", s)
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("pause period date %q: bad month: %w", s, err)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("pause period date %q: bad day: %w", s, err)
	}
	return m, d, nil
}

func parseTimeRanges(spec string) ([]timeRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []timeRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("pause period time %q: expected H:m-H:m", part)
		}
		sh, sm, err := parseHourMin(bounds[0])
		if err != nil {
			return nil, err
		}
		eh, em, err := parseHourMin(bounds[1])
		if err != nil {
			return nil, err
		}
		out = append(out, timeRange{startHour: sh, startMin: sm, endHour: eh, endMin: em})
	}
	return out, nil
}

func parseHourMin(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("pause period time %q: expected H:m", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("pause period time %q: bad hour: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("pause period time %q: bad minute: %w", s, err)
	}
	return h, m, nil
}

// Paused reports whether t falls within the configured pause window,
// evaluated in the period's time zone. Per spec.md §6: (dateRange empty OR
// matches) AND (timeRange empty OR matches); both empty means never paused.
func (p PausePeriod) Paused(t time.Time) bool {
	if len(p.dates) == 0 && len(p.times) == 0 {
		return false
	}
	local := t.In(p.loc)

	dateOK := len(p.dates) == 0
	for _, r := range p.dates {
		if monthDayInRange(local, r) {
			dateOK = true
			break
		}
	}

	timeOK := len(p.times) == 0
	for _, r := range p.times {
		if hourMinInRange(local, r) {
			timeOK = true
			break
		}
	}

	return dateOK && timeOK
}

func monthDayInRange(t time.Time, r dateRange) bool {
	cur := int(t.Month())*100 + t.Day()
	start := r.startMonth*100 + r.startDay
	end := r.endMonth*100 + r.endDay
	if start <= end {
		return cur >= start && cur <= end
	}
	// Wraps the year boundary, e.g. 12/1-1/31.
	return cur >= start || cur <= end
}

// Paused reports whether job's configured pause window covers now. Malformed
// pause period config is treated as "never paused" rather than an error,
// since Eligible has no error return to surface it through.
func (j JobView) Paused(now time.Time) bool {
	pp, err := ParsePausePeriod(j.PausePeriodDate, j.PausePeriodTime, j.TimeZone)
	if err != nil {
		return false
	}
	return pp.Paused(now)
}

func hourMinInRange(t time.Time, r timeRange) bool {
	cur := t.Hour()*60 + t.Minute()
	start := r.startHour*60 + r.startMin
	end := r.endHour*60 + r.endMin
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}
