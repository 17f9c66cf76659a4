package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
)

type fakeDeliveryError struct {
	retryable bool
	message   string
}

func (e *fakeDeliveryError) Error() string   { return e.message }
func (e *fakeDeliveryError) Retryable() bool { return e.retryable }

type scriptedSender struct {
	outcomes map[uuid.UUID]SendOutcome
	errs     map[uuid.UUID]error
	calls    []uuid.UUID
}

func (s *scriptedSender) Send(_ context.Context, job models.OutboxJob) (SendOutcome, error) {
	s.calls = append(s.calls, job.ID)
	if err, ok := s.errs[job.ID]; ok {
		return SendOutcome{}, err
	}
	if outcome, ok := s.outcomes[job.ID]; ok {
		return outcome, nil
	}
	return SendOutcome{Verdict: enums.PushOK}, nil
}

func newTestDrainer(t *testing.T, repo *Repository, snd Sender) *Drainer {
	t.Helper()
	drainer, err := NewDrainer(DrainerParams{
		Repository: repo,
		Sender:     snd,
		Logger:     testLogger(),
		Backoff:    NewBackoffPolicy(time.Second, time.Minute, 6*time.Hour),
		OwnerID:    "worker-test",
		LeaseTTL:   time.Minute,
		BatchSize:  10,
	})
	if err != nil {
		t.Fatalf("new drainer: %v", err)
	}
	return drainer
}

func TestDrainDeliversAndMarksSent(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)

	snd := &scriptedSender{outcomes: map[uuid.UUID]SendOutcome{
		job.ID: {Verdict: enums.PushOK, CorrelationID: "corr-1"},
	}}
	drainer := newTestDrainer(t, repo, snd)

	report, err := drainer.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Selected != 1 || report.Sent != 1 {
		t.Fatalf("expected 1 selected and sent, got %+v", report)
	}

	stored, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != enums.JobSent {
		t.Fatalf("expected %s, got %s", enums.JobSent, stored.Status)
	}
}

func TestDrainDuplicateVerdictIsSent(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)

	snd := &scriptedSender{outcomes: map[uuid.UUID]SendOutcome{
		job.ID: {Verdict: enums.PushDuplicate, Message: "transaction already accepted"},
	}}
	drainer := newTestDrainer(t, repo, snd)

	report, err := drainer.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("expected duplicate to settle as sent, got %+v", report)
	}
}

func TestDrainRetryableFailureSchedulesShortRetry(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)

	snd := &scriptedSender{errs: map[uuid.UUID]error{
		job.ID: &fakeDeliveryError{retryable: true, message: "503 from server"},
	}}
	drainer := newTestDrainer(t, repo, snd)

	before := time.Now()
	report, err := drainer.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", report)
	}

	stored, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != enums.JobFailed {
		t.Fatalf("expected %s, got %s", enums.JobFailed, stored.Status)
	}
	if stored.NextAttemptAt == nil {
		t.Fatal("expected a retry schedule")
	}
	// Retryable schedule stays inside the 1-minute cap.
	if stored.NextAttemptAt.After(before.Add(2 * time.Minute)) {
		t.Fatalf("retryable retry scheduled too far out: %s", stored.NextAttemptAt)
	}
	if stored.LastError == nil || *stored.LastError == "" {
		t.Fatal("expected the delivery error to be recorded")
	}
}

func TestDrainNonRetryableFailureParksJob(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)

	snd := &scriptedSender{errs: map[uuid.UUID]error{
		job.ID: &fakeDeliveryError{retryable: false, message: "422 from server"},
	}}
	drainer := newTestDrainer(t, repo, snd)

	before := time.Now()
	report, err := drainer.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", report)
	}

	stored, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.NextAttemptAt == nil {
		t.Fatal("expected a parked retry schedule")
	}
	if stored.NextAttemptAt.Before(before.Add(6 * time.Hour)) {
		t.Fatalf("non-retryable failure must wait at least the long floor, got %s", stored.NextAttemptAt)
	}
}

func TestDrainAmbiguousErrorIsRetryable(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)

	// An unclassified error means delivery may have happened; treat as retryable.
	snd := &scriptedSender{errs: map[uuid.UUID]error{
		job.ID: errors.New("connection reset mid response"),
	}}
	drainer := newTestDrainer(t, repo, snd)

	report, err := drainer.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", report)
	}

	stored, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.NextAttemptAt == nil {
		t.Fatal("expected a retry schedule")
	}
	if stored.NextAttemptAt.After(time.Now().Add(2 * time.Minute)) {
		t.Fatalf("ambiguous failure should use the short schedule, got %s", stored.NextAttemptAt)
	}
}

func TestDrainSkipsJobsHeldElsewhere(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	job := mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	if _, err := repo.ReserveAttempt(ctx, job.ID, "other-worker", time.Hour); err != nil {
		t.Fatalf("foreign reserve: %v", err)
	}

	snd := &scriptedSender{}
	drainer := newTestDrainer(t, repo, snd)

	report, err := drainer.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Selected != 0 {
		t.Fatalf("expected leased job to be excluded from selection, got %+v", report)
	}
	if len(snd.calls) != 0 {
		t.Fatalf("expected no send calls, got %d", len(snd.calls))
	}
}

func TestDrainSentJobIsNeverRedelivered(t *testing.T) {
	client := openTestClient(t)
	repo := NewRepository(client)
	sale := mustCreateCompletedSale(t, client)
	mustEnqueue(t, client, repo, sale)
	ctx := context.Background()

	snd := &scriptedSender{}
	drainer := newTestDrainer(t, repo, snd)

	if _, err := drainer.Drain(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	report, err := drainer.Drain(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if report.Selected != 0 {
		t.Fatalf("expected no reselection of a sent job, got %+v", report)
	}
	if len(snd.calls) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(snd.calls))
	}
}
