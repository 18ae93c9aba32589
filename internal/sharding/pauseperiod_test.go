package sharding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPausePeriod(t *testing.T, dateSpec, timeSpec, zone string) PausePeriod {
	t.Helper()
	p, err := ParsePausePeriod(dateSpec, timeSpec, zone)
	require.NoError(t, err)
	return p
}

func TestPausePeriod_BothEmptyNeverPauses(t *testing.T) {
	p := mustPausePeriod(t, "", "", "")
	assert.False(t, p.Paused(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPausePeriod_DateOnly(t *testing.T) {
	p := mustPausePeriod(t, "12/24-12/26", "", "")
	assert.True(t, p.Paused(time.Date(2026, 12, 25, 10, 0, 0, 0, time.UTC)))
	assert.False(t, p.Paused(time.Date(2026, 12, 27, 10, 0, 0, 0, time.UTC)))
}

func TestPausePeriod_TimeOnly(t *testing.T) {
	p := mustPausePeriod(t, "", "22:00-6:00", "")
	assert.True(t, p.Paused(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)))
	assert.True(t, p.Paused(time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)))
	assert.False(t, p.Paused(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestPausePeriod_DateAndTimeBothMustMatch(t *testing.T) {
	p := mustPausePeriod(t, "12/24-12/26", "22:00-6:00", "")
	assert.True(t, p.Paused(time.Date(2026, 12, 25, 23, 0, 0, 0, time.UTC)))
	assert.False(t, p.Paused(time.Date(2026, 12, 25, 12, 0, 0, 0, time.UTC)), "date matches but time doesn't")
	assert.False(t, p.Paused(time.Date(2026, 12, 27, 23, 0, 0, 0, time.UTC)), "time matches but date doesn't")
}

func TestPausePeriod_YearWraparound(t *testing.T) {
	p := mustPausePeriod(t, "12/1-1/31", "", "")
	assert.True(t, p.Paused(time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Paused(time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Paused(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)))
}

func TestPausePeriod_MultipleRanges(t *testing.T) {
	p := mustPausePeriod(t, "1/1-1/5,6/1-6/5", "", "")
	assert.True(t, p.Paused(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Paused(time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Paused(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
}

func TestPausePeriod_DefaultsToUTCOnBadZone(t *testing.T) {
	p := mustPausePeriod(t, "12/24-12/26", "", "Not/AZone")
	assert.True(t, p.Paused(time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)))
}

func TestPausePeriod_EvaluatesInConfiguredZone(t *testing.T) {
	tz, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	p := mustPausePeriod(t, "", "22:00-23:00", "America/New_York")
	utcTime := time.Date(2026, 6, 1, 2, 30, 0, 0, time.UTC) // 22:30 in New York (EDT, UTC-4)
	assert.True(t, p.Paused(utcTime))
	_ = tz
}

func TestParsePausePeriod_MalformedDate(t *testing.T) {
	_, err := ParsePausePeriod("not-a-range", "", "")
	require.Error(t, err)
}

func TestParsePausePeriod_MalformedTime(t *testing.T) {
	_, err := ParsePausePeriod("", "not-a-range", "")
	require.Error(t, err)
}
