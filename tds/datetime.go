package tds

import (
	"time"

	"github.com/golang-sql/civil"
)

// sqlEpoch is the base date DATETIME/SMALLDATETIME day counts are
// relative to: 1900-01-01.
var sqlEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// civilDateTimeFromSQLBase builds a civil.DateTime from a day offset off
// sqlEpoch plus a seconds-and-nanoseconds time-of-day component.
func civilDateTimeFromSQLBase(days, seconds, nanos int) civil.DateTime {
	t := sqlEpoch.AddDate(0, 0, days).Add(
		time.Duration(seconds)*time.Second + time.Duration(nanos)*time.Nanosecond)
	return civil.DateTimeOf(t)
}

// dateEpoch is the base date for DATEN's 3-byte day count (0001-01-01 in
// the proleptic Gregorian calendar).
var dateEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// civilDateFromDays converts a DATEN 3-byte day count (days since
// 0001-01-01) into a civil.Date.
func civilDateFromDays(days int) civil.Date {
	return civil.DateOf(dateEpoch.AddDate(0, 0, days))
}

// civilTimeFromTicks converts a TIME(n) tick count (scale-dependent
// fractional-second units since midnight) into a civil.Time.
func civilTimeFromTicks(ticks uint64, scale byte) civil.Time {
	// TIME(n) ticks are in units of 10^-scale seconds (10^(9-scale) ns);
	// normalize to ns.
	totalNanos := ticks * (1000000000 / pow10(scale))

	totalSeconds := totalNanos / 1000000000
	nanos := totalNanos % 1000000000

	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60

	return civil.Time{
		Hour:       int(h),
		Minute:     int(m),
		Second:     int(s),
		Nanosecond: int(nanos),
	}
}

func pow10(n byte) uint64 {
	v := uint64(1)
	for i := byte(0); i < n; i++ {
		v *= 10
	}
	return v
}
