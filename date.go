package kfat

import (
	"time"
)

// Packed directory entry stamps. Each field is given as its lowest bit and
// its width.
const (
	dayShift, dayWidth     = 0, 5
	monthShift, monthWidth = 5, 4
	yearShift, yearWidth   = 9, 7

	halfSecShift, halfSecWidth = 0, 5
	minuteShift, minuteWidth   = 5, 6
	hourShift, hourWidth       = 11, 5

	epochYear = 1980
)

// lastSecond is what an unrepresentable time stamp decodes to.
var lastSecond = time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)

// field extracts width bits of stamp starting at bit shift.
func field(stamp uint16, shift, width uint) int {
	return int(stamp>>shift) & (1<<width - 1)
}

// ParseDate decodes a directory entry date stamp:
//  Bits 0-4:  day of month, 1-31
//  Bits 5-8:  month of year, 1-12
//  Bits 9-15: years since 1980, 0-127
// The result is at 00:00:00 UTC. A day or month of 0 is invalid and gives
// time.Time{}, so IsZero can be used to detect it. A month above 12 rolls
// over into the next year.
func ParseDate(stamp uint16) time.Time {
	day := field(stamp, dayShift, dayWidth)
	month := field(stamp, monthShift, monthWidth)
	if day == 0 || month == 0 {
		return time.Time{}
	}
	year := epochYear + field(stamp, yearShift, yearWidth)
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// ParseTime decodes a directory entry time stamp with a granularity of two
// seconds:
//  Bits 0-4:   seconds / 2, 0-29
//  Bits 5-10:  minutes, 0-59
//  Bits 11-15: hours, 0-23
// The result is on January 1, year 1, so midnight is time.Time{}. A stamp with
// any field out of range gives 23:59:59.
func ParseTime(stamp uint16) time.Time {
	sec := 2 * field(stamp, halfSecShift, halfSecWidth)
	min := field(stamp, minuteShift, minuteWidth)
	hour := field(stamp, hourShift, hourWidth)
	if hour > 23 || min > 59 || sec > 59 {
		return lastSecond
	}
	return time.Date(1, 1, 1, hour, min, sec, 0, time.UTC)
}

// DateTime combines a date and a time stamp. An invalid date gives
// time.Time{} whatever the time says.
func DateTime(date, clock uint16) time.Time {
	day := ParseDate(date)
	if day.IsZero() {
		return time.Time{}
	}
	t := ParseTime(clock)
	return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second)
}
