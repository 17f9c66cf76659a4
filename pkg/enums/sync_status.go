package enums

import "fmt"

// SyncStatus is the delivery bookkeeping state of a sale.
type SyncStatus string

const (
	SyncLocalOnly SyncStatus = "LOCAL_ONLY"
	SyncPending   SyncStatus = "PENDING"
	SyncSent      SyncStatus = "SENT"
	SyncFailed    SyncStatus = "FAILED"
)

var validSyncStatuses = []SyncStatus{
	SyncLocalOnly,
	SyncPending,
	SyncSent,
	SyncFailed,
}

// IsValid reports whether the value is a known sync status.
func (s SyncStatus) IsValid() bool {
	for _, candidate := range validSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSyncStatus converts raw input into SyncStatus.
func ParseSyncStatus(value string) (SyncStatus, error) {
	for _, candidate := range validSyncStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync status %q", value)
}
