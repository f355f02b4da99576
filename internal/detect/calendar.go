package detect

import "time"

type monthDay struct {
	month time.Month
	day   int
}

// Fixed-calendar holidays. Moving holidays are not modelled.
var holidays = map[monthDay]bool{
	{time.January, 1}:   true,
	{time.July, 4}:      true,
	{time.November, 11}: true,
	{time.December, 24}: true,
	{time.December, 25}: true,
	{time.December, 31}: true,
}

func isHoliday(t time.Time) bool {
	return holidays[monthDay{t.Month(), t.Day()}]
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// outsideBusinessHours reports times outside 06:00-22:00.
func outsideBusinessHours(t time.Time) bool {
	return t.Hour() < 6 || t.Hour() >= 22
}
