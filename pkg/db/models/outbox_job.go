package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/opentillhq/tillsync/pkg/enums"
)

// OutboxJob is the durable delivery unit for one completed sale. Exactly one
// row exists per dedupe_key; all cross-context coordination goes through the
// attempts counter and lease fields, never ambient locks.
type OutboxJob struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SaleID         uuid.UUID             `gorm:"column:sale_id;type:uuid;not null;index"`
	CompanyID      int64                 `gorm:"column:company_id;not null"`
	OutletID       int64                 `gorm:"column:outlet_id;not null"`
	DedupeKey      string                `gorm:"column:dedupe_key;not null;uniqueIndex:ux_outbox_jobs_dedupe_key"`
	Payload        json.RawMessage       `gorm:"column:payload;not null"`
	Status         enums.OutboxJobStatus `gorm:"column:status;not null;index"`
	Attempts       int                   `gorm:"column:attempts;not null;default:0"`
	LeaseOwnerID   *string               `gorm:"column:lease_owner_id"`
	LeaseToken     *string               `gorm:"column:lease_token"`
	LeaseExpiresAt *time.Time            `gorm:"column:lease_expires_at"`
	NextAttemptAt  *time.Time            `gorm:"column:next_attempt_at;index"`
	LastError      *string               `gorm:"column:last_error"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (OutboxJob) TableName() string { return "outbox_jobs" }

// LeaseActive reports whether the job carries an unexpired lease.
func (j OutboxJob) LeaseActive(now time.Time) bool {
	return j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}
