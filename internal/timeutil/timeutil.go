// Package timeutil holds the pure calendar functions the reminder and
// automation code shares: ISO week boundaries, quiet-hours windows and
// wall-clock schedule matching. Everything operates in the caller's
// location; the business runs in a single timezone.
package timeutil

import "time"

const DateLayout = "2006-01-02"

// MinuteLayout buckets timestamps to one wall-clock minute, used to
// dedupe double invocations of the external cron poller.
const MinuteLayout = "2006-01-02 15:04"

// WeekStart returns Monday 00:00:00 of t's ISO week, in t's location.
func WeekStart(t time.Time) time.Time {
	days := int(t.Weekday()) - int(time.Monday)
	if days < 0 {
		days += 7 // Sunday
	}
	y, m, d := t.AddDate(0, 0, -days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ISOWeek returns the ISO-8601 year and week number for t.
func ISOWeek(t time.Time) (year, week int) {
	return t.ISOWeek()
}

// WeeksSince counts whole weeks elapsed from then to now. Negative
// spans report zero.
func WeeksSince(now, then time.Time) int {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return int(d / (7 * 24 * time.Hour))
}

// InQuietHours reports whether t falls inside the [startHour, endHour)
// window. A window with start > end wraps midnight (21–8 covers
// 21:00..07:59). start == end means no quiet window.
func InQuietHours(t time.Time, startHour, endHour int) bool {
	h := t.Hour()
	switch {
	case startHour == endHour:
		return false
	case startHour < endHour:
		return h >= startHour && h < endHour
	default:
		return h >= startHour || h < endHour
	}
}

// QuietEnd returns the next moment the quiet window ends at or after t.
// Callers must only use it when InQuietHours(t) is true.
func QuietEnd(t time.Time, startHour, endHour int) time.Time {
	y, m, d := t.Date()
	end := time.Date(y, m, d, endHour, 0, 0, 0, t.Location())
	if !end.After(t) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// MatchesDaily reports whether t's wall clock is exactly hour:minute.
func MatchesDaily(t time.Time, hour, minute int) bool {
	return t.Hour() == hour && t.Minute() == minute
}

// MatchesWeekly additionally requires the weekday to match.
func MatchesWeekly(t time.Time, weekday time.Weekday, hour, minute int) bool {
	return t.Weekday() == weekday && MatchesDaily(t, hour, minute)
}

func DateString(t time.Time) string { return t.Format(DateLayout) }

func MinuteBucket(t time.Time) string { return t.Format(MinuteLayout) }

// ParseDate parses a DateLayout string in loc, returning the zero time
// on malformed input.
func ParseDate(s string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}
