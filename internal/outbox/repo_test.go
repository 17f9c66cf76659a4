package outbox

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
)

func TestEnqueueTxIdempotent(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)

	first := mustEnqueue(t, client, repo, sale)
	second := mustEnqueue(t, client, repo, sale)

	if first.ID != second.ID {
		t.Fatalf("expected the same job on replay, got %s and %s", first.ID, second.ID)
	}

	var count int64
	if err := client.DB().Model(&models.OutboxJob{}).Count(&count).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job, got %d", count)
	}
	if first.DedupeKey != *sale.ClientTxID {
		t.Fatalf("expected dedupe key %s, got %s", *sale.ClientTxID, first.DedupeKey)
	}
}

func TestEnqueueTxRequiresClientTxID(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	sale.ClientTxID = nil

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := repo.EnqueueTx(tx, sale)
		return err
	})
	if err == nil {
		t.Fatal("expected enqueue without client tx id to fail")
	}
}

func TestReserveAttemptClaimsAndBlocks(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !reserved.Claimed {
		t.Fatalf("expected claim, got reason %s", reserved.Reason)
	}
	if reserved.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", reserved.Attempt)
	}
	if reserved.LeaseToken == "" {
		t.Fatal("expected a lease token")
	}

	// While the lease is live a second reserver must back off.
	blocked, err := repo.ReserveAttempt(ctx, job.ID, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if blocked.Claimed {
		t.Fatal("expected second reserve to be blocked by the live lease")
	}
	if blocked.Reason != pkgerrors.CodeStaleLease {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeStaleLease, blocked.Reason)
	}
}

func TestReserveAttemptExpiredLeaseIsReclaimable(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	if _, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	expired := time.Now().Add(-time.Second)
	err := client.DB().Model(&models.OutboxJob{}).
		Where("id = ?", job.ID).
		Update("lease_expires_at", expired).Error
	if err != nil {
		t.Fatalf("expire lease: %v", err)
	}

	reclaimed, err := repo.ReserveAttempt(ctx, job.ID, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !reclaimed.Claimed {
		t.Fatalf("expected reclaim after expiry, got reason %s", reclaimed.Reason)
	}
	if reclaimed.Attempt != 2 {
		t.Fatalf("expected attempt 2 after reclaim, got %d", reclaimed.Attempt)
	}
}

func TestReserveAttemptSentIsTerminal(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	applied, err := repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:        job.ID,
		AttemptToken: reserved.Attempt,
		LeaseToken:   &reserved.LeaseToken,
		Status:       enums.JobSent,
	})
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if !applied.Applied {
		t.Fatalf("expected sent to apply, got %s", applied.Reason)
	}

	blocked, err := repo.ReserveAttempt(ctx, job.ID, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("reserve after sent: %v", err)
	}
	if blocked.Claimed {
		t.Fatal("expected SENT job to be unreservable")
	}
	if blocked.Reason != pkgerrors.CodeAlreadySent {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeAlreadySent, blocked.Reason)
	}
}

func TestRenewLeaseCAS(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	ok, err := repo.RenewLease(ctx, job.ID, "worker-a", reserved.LeaseToken, reserved.Attempt, time.Minute)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !ok {
		t.Fatal("expected renewal with matching token to succeed")
	}

	ok, err = repo.RenewLease(ctx, job.ID, "worker-a", "wrong-token", reserved.Attempt, time.Minute)
	if err != nil {
		t.Fatalf("renew with wrong token: %v", err)
	}
	if ok {
		t.Fatal("expected renewal with stale token to be rejected")
	}
}

func TestUpdateStatusStaleAttempt(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	applied, err := repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:        job.ID,
		AttemptToken: reserved.Attempt - 1,
		Status:       enums.JobSent,
	})
	if err != nil {
		t.Fatalf("update with stale attempt: %v", err)
	}
	if applied.Applied {
		t.Fatal("expected stale attempt token to be rejected")
	}
	if applied.Reason != pkgerrors.CodeStaleAttempt {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeStaleAttempt, applied.Reason)
	}
}

func TestUpdateStatusStaleLease(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	wrong := "not-" + reserved.LeaseToken
	applied, err := repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:        job.ID,
		AttemptToken: reserved.Attempt,
		LeaseToken:   &wrong,
		Status:       enums.JobSent,
	})
	if err != nil {
		t.Fatalf("update with stale lease: %v", err)
	}
	if applied.Applied {
		t.Fatal("expected stale lease token to be rejected")
	}
	if applied.Reason != pkgerrors.CodeStaleLease {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeStaleLease, applied.Reason)
	}
}

func TestUpdateStatusSentClearsLeaseAndSyncsSale(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	applied, err := repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:        job.ID,
		AttemptToken: reserved.Attempt,
		LeaseToken:   &reserved.LeaseToken,
		Status:       enums.JobSent,
	})
	if err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if !applied.Applied {
		t.Fatalf("expected sent to apply, got %s", applied.Reason)
	}

	stored, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != enums.JobSent {
		t.Fatalf("expected status %s, got %s", enums.JobSent, stored.Status)
	}
	if stored.LeaseToken != nil || stored.LeaseOwnerID != nil || stored.LeaseExpiresAt != nil {
		t.Fatal("expected lease fields to be cleared")
	}
	if stored.NextAttemptAt != nil || stored.LastError != nil {
		t.Fatal("expected retry bookkeeping to be cleared")
	}

	var storedSale models.Sale
	if err := client.DB().Where("id = ?", sale.ID).First(&storedSale).Error; err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if storedSale.SyncStatus != enums.SyncSent {
		t.Fatalf("expected sale sync status %s, got %s", enums.SyncSent, storedSale.SyncStatus)
	}

	// SENT is absorbing: a late FAILED transition must be rejected.
	late, err := repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:        job.ID,
		AttemptToken: reserved.Attempt,
		Status:       enums.JobFailed,
	})
	if err != nil {
		t.Fatalf("late update: %v", err)
	}
	if late.Applied {
		t.Fatal("expected transition away from SENT to be rejected")
	}
	if late.Reason != pkgerrors.CodeAlreadySent {
		t.Fatalf("expected %s, got %s", pkgerrors.CodeAlreadySent, late.Reason)
	}
}

func TestUpdateStatusFailedSchedulesRetry(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	reserved, err := repo.ReserveAttempt(ctx, job.ID, "worker-a", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	next := time.Now().Add(42 * time.Second)
	msg := "server said no"
	applied, err := repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:         job.ID,
		AttemptToken:  reserved.Attempt,
		LeaseToken:    &reserved.LeaseToken,
		Status:        enums.JobFailed,
		NextAttemptAt: &next,
		LastError:     &msg,
	})
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !applied.Applied {
		t.Fatalf("expected failed to apply, got %s", applied.Reason)
	}

	stored, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != enums.JobFailed {
		t.Fatalf("expected status %s, got %s", enums.JobFailed, stored.Status)
	}
	if stored.NextAttemptAt == nil {
		t.Fatal("expected a retry schedule")
	}
	if stored.LastError == nil || *stored.LastError != msg {
		t.Fatalf("expected last error %q, got %v", msg, stored.LastError)
	}
	if stored.LeaseToken != nil {
		t.Fatal("expected lease to be released on failure")
	}

	count, err := repo.CountUnsent(ctx)
	if err != nil {
		t.Fatalf("count unsent: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unsent job, got %d", count)
	}
	lastErr, err := repo.LastError(ctx)
	if err != nil {
		t.Fatalf("last error: %v", err)
	}
	if lastErr == nil || *lastErr != msg {
		t.Fatalf("expected badge error %q, got %v", msg, lastErr)
	}
}

func TestSelectDueOrderingAndLeaseExclusion(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	ctx := context.Background()
	now := time.Now()

	pending := mustEnqueue(t, client, repo, mustCreateCompletedSale(t, client))
	failedDue := mustEnqueue(t, client, repo, mustCreateCompletedSale(t, client))
	failedLater := mustEnqueue(t, client, repo, mustCreateCompletedSale(t, client))
	leased := mustEnqueue(t, client, repo, mustCreateCompletedSale(t, client))

	dueAt := now.Add(-time.Hour)
	futureAt := now.Add(time.Hour)
	if err := client.DB().Model(&models.OutboxJob{}).Where("id = ?", failedDue.ID).
		Updates(map[string]any{"status": enums.JobFailed, "next_attempt_at": dueAt}).Error; err != nil {
		t.Fatalf("prepare failed-due: %v", err)
	}
	if err := client.DB().Model(&models.OutboxJob{}).Where("id = ?", failedLater.ID).
		Updates(map[string]any{"status": enums.JobFailed, "next_attempt_at": futureAt}).Error; err != nil {
		t.Fatalf("prepare failed-later: %v", err)
	}
	if _, err := repo.ReserveAttempt(ctx, leased.ID, "worker-a", time.Hour); err != nil {
		t.Fatalf("lease job: %v", err)
	}

	jobs, err := repo.SelectDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(jobs))
	}
	if jobs[0].ID != failedDue.ID {
		t.Fatalf("expected the overdue retry first, got %s", jobs[0].ID)
	}
	if jobs[1].ID != pending.ID {
		t.Fatalf("expected the pending job second, got %s", jobs[1].ID)
	}
}
