package domain

// SnapshotSchemaVersion is bumped whenever the persisted snapshot state changes shape.
const SnapshotSchemaVersion = 1

// AccountSnapshot is a cached copy of the aggregate at Version. It is never
// authoritative and is dropped when it cannot be decoded.
type AccountSnapshot struct {
	AccountID    AccountID
	Currency     Currency
	Balance      Money
	Status       AccountStatus
	Reservations map[ReservationID]Money
	Version      int64
}

// ShouldSnapshot reports whether moving from fromVersion to toVersion crossed a
// multiple of threshold.
func ShouldSnapshot(fromVersion, toVersion, threshold int64) bool {
	if threshold <= 0 {
		return false
	}
	return toVersion/threshold > fromVersion/threshold
}
