package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/metrics"
)

const defaultBatchSize = 20

// SendOutcome is the sender's verdict for one delivered job.
type SendOutcome struct {
	Verdict       enums.PushResult
	Message       string
	CorrelationID string
}

// Sender turns one job into a server delivery. Failures carry their
// retryability classification; the drainer never re-derives it.
type Sender interface {
	Send(ctx context.Context, job models.OutboxJob) (SendOutcome, error)
}

type retryableError interface {
	Retryable() bool
}

// Report aggregates the counts of one drain pass.
type Report struct {
	Selected int
	Sent     int
	Failed   int
	Stale    int
	Skipped  int
}

// DrainerParams configure a Drainer.
type DrainerParams struct {
	Repository *Repository
	Sender     Sender
	Logger     *logger.Logger
	Backoff    *BackoffPolicy
	Metrics    *metrics.SyncMetrics
	OwnerID    string
	LeaseTTL   time.Duration
	BatchSize  int
}

// Drainer selects due jobs, reserves an exclusive attempt per job, invokes
// the sender, and applies backoff on failure.
type Drainer struct {
	repo      *Repository
	sender    Sender
	logg      *logger.Logger
	backoff   *BackoffPolicy
	metrics   *metrics.SyncMetrics
	ownerID   string
	leaseTTL  time.Duration
	batchSize int
}

func NewDrainer(params DrainerParams) (*Drainer, error) {
	if params.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if params.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	backoff := params.Backoff
	if backoff == nil {
		backoff = NewBackoffPolicy(0, 0, 0)
	}
	leaseTTL := params.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Drainer{
		repo:      params.Repository,
		sender:    params.Sender,
		logg:      params.Logger,
		backoff:   backoff,
		metrics:   params.Metrics,
		ownerID:   params.OwnerID,
		leaseTTL:  leaseTTL,
		batchSize: batchSize,
	}, nil
}

// Drain runs one pass over the due jobs. Individual job failures are folded
// into the report and the retry schedule; only infrastructure errors (store
// unreachable) are returned.
func (d *Drainer) Drain(ctx context.Context) (Report, error) {
	var report Report

	jobs, err := d.repo.SelectDue(ctx, time.Now(), d.batchSize)
	if err != nil {
		return report, fmt.Errorf("select due jobs: %w", err)
	}
	report.Selected = len(jobs)

	var errs error
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		if err := d.processJob(ctx, job, &report); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	d.metrics.AddDrainOutcome("sent", report.Sent)
	d.metrics.AddDrainOutcome("failed", report.Failed)
	d.metrics.AddDrainOutcome("stale", report.Stale)
	d.metrics.AddDrainOutcome("skipped", report.Skipped)

	return report, errs
}

func (d *Drainer) processJob(ctx context.Context, job models.OutboxJob, report *Report) error {
	reserved, err := d.repo.ReserveAttempt(ctx, job.ID, d.ownerID, d.leaseTTL)
	if err != nil {
		return fmt.Errorf("reserve attempt %s: %w", job.ID, err)
	}
	if !reserved.Claimed {
		report.Stale++
		return nil
	}

	jobCtx := d.logg.WithFields(ctx, map[string]any{
		"job_id":  job.ID.String(),
		"attempt": reserved.Attempt,
	})

	stopHeartbeat := d.startHeartbeat(ctx, job.ID, reserved)
	defer stopHeartbeat()

	outcome, sendErr := d.sender.Send(jobCtx, *reserved.Job)
	if sendErr == nil {
		applied, err := d.repo.UpdateStatus(ctx, UpdateStatusParams{
			JobID:        job.ID,
			AttemptToken: reserved.Attempt,
			LeaseToken:   &reserved.LeaseToken,
			Status:       enums.JobSent,
		})
		if err != nil {
			return fmt.Errorf("mark sent %s: %w", job.ID, err)
		}
		if !applied.Applied {
			report.Skipped++
			d.logg.Warn(jobCtx, "sent job not marked, another context moved it")
			return nil
		}
		report.Sent++
		sentCtx := d.logg.WithFields(jobCtx, map[string]any{
			"verdict":        string(outcome.Verdict),
			"correlation_id": outcome.CorrelationID,
		})
		d.logg.Info(sentCtx, "outbox job delivered")
		return nil
	}

	delay := d.delayFor(reserved.Attempt, sendErr)
	next := time.Now().Add(delay)
	msg := sendErr.Error()
	applied, err := d.repo.UpdateStatus(ctx, UpdateStatusParams{
		JobID:         job.ID,
		AttemptToken:  reserved.Attempt,
		LeaseToken:    &reserved.LeaseToken,
		Status:        enums.JobFailed,
		NextAttemptAt: &next,
		LastError:     &msg,
	})
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", job.ID, err)
	}
	if !applied.Applied {
		report.Skipped++
		return nil
	}
	report.Failed++
	failCtx := d.logg.WithFields(jobCtx, map[string]any{
		"retry_in":  delay.String(),
		"retryable": isRetryable(sendErr),
	})
	d.logg.Error(failCtx, "outbox job delivery failed", sendErr)
	return nil
}

func (d *Drainer) delayFor(attempt int, err error) time.Duration {
	if isRetryable(err) {
		return d.backoff.NextRetryable(attempt)
	}
	return d.backoff.NextNonRetryable()
}

// isRetryable defaults to true: an unclassified failure is treated as an
// ambiguous delivery, which is always safe to retry against an idempotent
// server.
func isRetryable(err error) bool {
	var typed retryableError
	if errors.As(err, &typed) {
		return typed.Retryable()
	}
	return true
}

// startHeartbeat renews the attempt lease on a fixed cadence while a send is
// in flight. The returned stop function is safe to call more than once and
// must run regardless of which exit path the caller takes.
func (d *Drainer) startHeartbeat(ctx context.Context, jobID uuid.UUID, reserved ReserveResult) func() {
	interval := d.leaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := d.repo.RenewLease(ctx, jobID, d.ownerID, reserved.LeaseToken, reserved.Attempt, d.leaseTTL)
				if err != nil {
					d.logg.Error(ctx, "lease renewal failed", err)
					continue
				}
				if !ok {
					// Lost the lease; stop renewing and let the CAS on
					// status updates arbitrate.
					return
				}
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(stop)
		<-done
	}
}
