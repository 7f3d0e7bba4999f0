package model

// SyncTimeFrame is the synchronization window configured on the device,
// expressed as the server's filter-type value.
type SyncTimeFrame int

const (
	TimeFrameAll     SyncTimeFrame = 0
	TimeFrame1Day    SyncTimeFrame = 1
	TimeFrame3Days   SyncTimeFrame = 2
	TimeFrame1Week   SyncTimeFrame = 3
	TimeFrame2Weeks  SyncTimeFrame = 4
	TimeFrame1Month  SyncTimeFrame = 5
	TimeFrame3Months SyncTimeFrame = 6
	TimeFrame6Months SyncTimeFrame = 7
)

// ShorterThan reports whether t covers a shorter window than other.
// TimeFrameAll is the longest possible window.
func (t SyncTimeFrame) ShorterThan(other SyncTimeFrame) bool {
	if t == other {
		return false
	}
	if t == TimeFrameAll {
		return false
	}
	if other == TimeFrameAll {
		return true
	}
	return t < other
}

// String returns a display label for the time frame.
func (t SyncTimeFrame) String() string {
	switch t {
	case TimeFrameAll:
		return "everything"
	case TimeFrame1Day:
		return "1 day"
	case TimeFrame3Days:
		return "3 days"
	case TimeFrame1Week:
		return "1 week"
	case TimeFrame2Weeks:
		return "2 weeks"
	case TimeFrame1Month:
		return "1 month"
	case TimeFrame3Months:
		return "3 months"
	case TimeFrame6Months:
		return "6 months"
	default:
		return "unknown"
	}
}
