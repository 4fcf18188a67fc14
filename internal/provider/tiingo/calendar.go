package tiingo

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

const dateLayout = "2006-01-02"

// tradingCalendar answers "which day did the exchange last trade". When the
// calendar for the MIC cannot be loaded it assumes Monday to Friday in New York.
type tradingCalendar struct {
	cal *calendar.Calendar
	loc *time.Location
}

func newTradingCalendar(mic string) *tradingCalendar {
	mic = strings.ToLower(mic)
	if mic == "" {
		mic = "xnys"
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal != nil {
		return &tradingCalendar{cal: cal, loc: cal.Loc}
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &tradingCalendar{loc: loc}
}

func (tc *tradingCalendar) isTradingDay(t time.Time) bool {
	t = t.In(tc.loc)
	if tc.cal != nil {
		return tc.cal.IsBusinessDay(t)
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// today returns the exchange-local calendar date of t.
func (tc *tradingCalendar) today(t time.Time) time.Time {
	t = t.In(tc.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, tc.loc)
}

// previousTradingDay returns the last trading day strictly before t's date.
func (tc *tradingCalendar) previousTradingDay(t time.Time) time.Time {
	day := tc.today(t)
	for i := 0; i < 10; i++ {
		day = day.AddDate(0, 0, -1)
		if tc.isTradingDay(day) {
			return day
		}
	}
	return day
}
