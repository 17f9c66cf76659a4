// Package outbox implements the durable delivery queue between the terminal
// and the server ledger. One job exists per completed sale; every mutation of
// a job goes through the attempts counter and lease token, so concurrent
// execution contexts coordinate purely by compare-and-swap.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
)

type Repository struct {
	client *dbpkg.Client
}

func NewRepository(client *dbpkg.Client) *Repository {
	return &Repository{client: client}
}

// EnqueueTx records the delivery intent for a completed sale inside the
// caller's transaction. A dedupe-key collision means another enqueue won the
// race; the existing row is returned instead of an error.
func (r *Repository) EnqueueTx(tx *gorm.DB, sale models.Sale) (*models.OutboxJob, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if sale.ClientTxID == nil || *sale.ClientTxID == "" {
		return nil, errors.New("sale has no client tx id")
	}

	var existing models.OutboxJob
	err := tx.Where("dedupe_key = ?", *sale.ClientTxID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	payload, err := NewJobPayload(sale)
	if err != nil {
		return nil, err
	}
	job := models.OutboxJob{
		ID:        uuid.New(),
		SaleID:    sale.ID,
		CompanyID: sale.CompanyID,
		OutletID:  sale.OutletID,
		DedupeKey: *sale.ClientTxID,
		Payload:   payload,
		Status:    enums.JobPending,
	}
	if err := tx.Create(&job).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_outbox_jobs_dedupe_key") {
			var winner models.OutboxJob
			if readErr := tx.Where("dedupe_key = ?", *sale.ClientTxID).First(&winner).Error; readErr == nil {
				return &winner, nil
			}
		}
		return nil, err
	}
	return &job, nil
}

// ReserveResult reports the outcome of an attempt reservation.
type ReserveResult struct {
	Claimed    bool
	Reason     pkgerrors.Code
	Attempt    int
	LeaseToken string
	Job        *models.OutboxJob
}

// ReserveAttempt claims an exclusive attempt lease on the job. A job that is
// already SENT or carries an unexpired lease is not claimed. The increment is
// guarded by the attempts value observed in the same transaction, so two
// racing reservers can never both claim the same attempt number.
func (r *Repository) ReserveAttempt(ctx context.Context, jobID uuid.UUID, ownerID string, lease time.Duration) (ReserveResult, error) {
	var result ReserveResult
	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		var job models.OutboxJob
		if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "outbox job not found")
			}
			return err
		}

		now := time.Now()
		if job.Status == enums.JobSent {
			result = ReserveResult{Claimed: false, Reason: pkgerrors.CodeAlreadySent}
			return nil
		}
		if job.LeaseActive(now) {
			result = ReserveResult{Claimed: false, Reason: pkgerrors.CodeStaleLease}
			return nil
		}

		token := uuid.NewString()
		expires := now.Add(lease)
		res := tx.Model(&models.OutboxJob{}).
			Where("id = ? AND attempts = ?", job.ID, job.Attempts).
			Updates(map[string]any{
				"attempts":         job.Attempts + 1,
				"lease_owner_id":   ownerID,
				"lease_token":      token,
				"lease_expires_at": expires,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result = ReserveResult{Claimed: false, Reason: pkgerrors.CodeStaleAttempt}
			return nil
		}

		job.Attempts++
		job.LeaseOwnerID = &ownerID
		job.LeaseToken = &token
		job.LeaseExpiresAt = &expires
		result = ReserveResult{
			Claimed:    true,
			Attempt:    job.Attempts,
			LeaseToken: token,
			Job:        &job,
		}
		return nil
	})
	return result, err
}

// RenewLease extends the lease expiry only while the caller's view of
// (attempts, lease token, owner) still matches the stored job. Used as the
// heartbeat during long in-flight sends.
func (r *Repository) RenewLease(ctx context.Context, jobID uuid.UUID, ownerID, token string, attempt int, lease time.Duration) (bool, error) {
	res := r.client.DB().WithContext(ctx).Model(&models.OutboxJob{}).
		Where("id = ? AND attempts = ? AND lease_token = ? AND lease_owner_id = ?", jobID, attempt, token, ownerID).
		Update("lease_expires_at", time.Now().Add(lease))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateStatusParams describe one compare-and-swap transition.
type UpdateStatusParams struct {
	JobID         uuid.UUID
	AttemptToken  int
	LeaseToken    *string
	Status        enums.OutboxJobStatus
	NextAttemptAt *time.Time
	LastError     *string
}

// ApplyResult is the typed "applied or why not" outcome of a CAS transition.
// Rejections are expected results of racing, not errors.
type ApplyResult struct {
	Applied bool
	Reason  pkgerrors.Code
}

// UpdateStatus applies a CAS status transition. It rejects, without mutating,
// when the attempts value moved, when a supplied lease token no longer
// matches, or when the job already reached the terminal SENT state. On
// success the lease fields are cleared; FAILED stores the retry schedule and
// last error, SENT clears both. The owning sale's sync status is updated in
// the same transaction.
func (r *Repository) UpdateStatus(ctx context.Context, params UpdateStatusParams) (ApplyResult, error) {
	if !params.Status.IsValid() {
		return ApplyResult{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid job status")
	}

	var result ApplyResult
	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		var job models.OutboxJob
		if err := tx.Where("id = ?", params.JobID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "outbox job not found")
			}
			return err
		}

		if job.Status == enums.JobSent && params.Status != enums.JobSent {
			result = ApplyResult{Applied: false, Reason: pkgerrors.CodeAlreadySent}
			return nil
		}
		if job.Attempts != params.AttemptToken {
			result = ApplyResult{Applied: false, Reason: pkgerrors.CodeStaleAttempt}
			return nil
		}
		if params.LeaseToken != nil {
			if job.LeaseToken == nil || *job.LeaseToken != *params.LeaseToken {
				result = ApplyResult{Applied: false, Reason: pkgerrors.CodeStaleLease}
				return nil
			}
		}

		updates := map[string]any{
			"status":           params.Status,
			"lease_owner_id":   nil,
			"lease_token":      nil,
			"lease_expires_at": nil,
		}
		switch params.Status {
		case enums.JobFailed:
			updates["next_attempt_at"] = params.NextAttemptAt
			updates["last_error"] = params.LastError
		case enums.JobSent:
			updates["next_attempt_at"] = nil
			updates["last_error"] = nil
		}

		res := tx.Model(&models.OutboxJob{}).
			Where("id = ? AND attempts = ?", job.ID, params.AttemptToken).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			result = ApplyResult{Applied: false, Reason: pkgerrors.CodeStaleAttempt}
			return nil
		}

		syncStatus := enums.SyncFailed
		if params.Status == enums.JobSent {
			syncStatus = enums.SyncSent
		} else if params.Status == enums.JobPending {
			syncStatus = enums.SyncPending
		}
		if err := tx.Model(&models.Sale{}).
			Where("id = ?", job.SaleID).
			Update("sync_status", syncStatus).Error; err != nil {
			return err
		}

		result = ApplyResult{Applied: true}
		return nil
	})
	return result, err
}

// SelectDue returns jobs eligible for a drain pass: PENDING, or FAILED whose
// next attempt is due, excluding jobs held by a live lease. Ordering is
// deterministic: due time, then creation time, then id.
func (r *Repository) SelectDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxJob, error) {
	var jobs []models.OutboxJob
	err := r.client.DB().WithContext(ctx).
		Where("(status = ? OR (status = ? AND next_attempt_at <= ?))", enums.JobPending, enums.JobFailed, now).
		Where("(lease_expires_at IS NULL OR lease_expires_at <= ?)", now).
		Order("COALESCE(next_attempt_at, created_at) ASC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Get loads one job by id.
func (r *Repository) Get(ctx context.Context, jobID uuid.UUID) (*models.OutboxJob, error) {
	var job models.OutboxJob
	err := r.client.DB().WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "outbox job not found")
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CountUnsent returns the number of jobs that have not reached SENT, for the
// pending-count badge.
func (r *Repository) CountUnsent(ctx context.Context) (int64, error) {
	var count int64
	err := r.client.DB().WithContext(ctx).Model(&models.OutboxJob{}).
		Where("status <> ?", enums.JobSent).
		Count(&count).Error
	return count, err
}

// LastError returns the most recent delivery error, if any, for the badge.
func (r *Repository) LastError(ctx context.Context) (*string, error) {
	var job models.OutboxJob
	err := r.client.DB().WithContext(ctx).
		Where("last_error IS NOT NULL").
		Order("updated_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job.LastError, nil
}
