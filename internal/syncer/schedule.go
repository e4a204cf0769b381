package syncer

import "time"

// NextSyncTime returns the earliest auto-sync boundary strictly after
// ref. Boundaries are multiples of interval measured from the Unix epoch,
// not from the last sync, so the cadence stays fixed no matter when a
// manual sync lands. A reference already on a boundary schedules the one
// after it.
func NextSyncTime(ref time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return time.Time{}
	}

	step := interval.Nanoseconds()
	elapsed := ref.UnixNano() % step
	if elapsed < 0 {
		elapsed += step
	}

	return time.Unix(0, ref.UnixNano()-elapsed+step).UTC()
}
