package schedule

import "time"

// NextDownload returns the next instant, at or after now, whose local wall
// clock reads minutesPastMidnight minutes after midnight in now's location.
func NextDownload(now time.Time, minutesPastMidnight int) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, 0, minutesPastMidnight, 0, 0, now.Location())
	if next.Before(now) {
		next = time.Date(y, m, d+1, 0, minutesPastMidnight, 0, 0, now.Location())
	}
	return next
}

// DelayBeforeNextDownload returns how long until NextDownload.
func DelayBeforeNextDownload(now time.Time, minutesPastMidnight int) time.Duration {
	return NextDownload(now, minutesPastMidnight).Sub(now)
}
