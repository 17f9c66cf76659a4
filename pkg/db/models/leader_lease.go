package models

import "time"

// LeaderLease backs the shared-storage tier of leader election. A lease is
// valid only while expires_at is in the future; an expired lease is
// reclaimable by any contender.
type LeaderLease struct {
	Name      string    `gorm:"column:name;primaryKey"`
	OwnerID   string    `gorm:"column:owner_id;not null"`
	Token     string    `gorm:"column:token;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	Version   int64     `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (LeaderLease) TableName() string { return "leader_leases" }

// Expired reports whether the lease has lapsed at the given instant.
func (l LeaderLease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
