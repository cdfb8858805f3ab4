package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
)

type stubRunner struct {
	report ingest.PassReport
	err    error
	calls  int
}

func (r *stubRunner) RunOnePass(context.Context) (ingest.PassReport, error) {
	r.calls++
	return r.report, r.err
}

func pollJob() *models.ScheduledJob {
	return DefaultJobs()[0]
}

func TestEmailPollRunsPass(t *testing.T) {
	runner := &stubRunner{}
	svc := NewService(runner)
	if err := svc.handleEmailPoll(context.Background(), pollJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one pass, got %d", runner.calls)
	}
}

func TestEmailPollOverlapIsNotAFailure(t *testing.T) {
	svc := NewService(&stubRunner{err: ingest.ErrPassInProgress})
	if err := svc.handleEmailPoll(context.Background(), pollJob()); err != nil {
		t.Fatalf("overlapping trigger should be a no-op, got %v", err)
	}
}

func TestEmailPollSurfacesAccountErrors(t *testing.T) {
	runner := &stubRunner{report: ingest.PassReport{
		Failed: 1,
		Results: []ingest.AccountResult{
			{AccountID: "a1", Err: errBoom},
			{AccountID: "a2"},
		},
	}}
	svc := NewService(runner)
	err := svc.handleEmailPoll(context.Background(), pollJob())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected joined account error, got %v", err)
	}
}

func TestEmailPollWithoutRunnerSkips(t *testing.T) {
	svc := NewService(nil)
	if err := svc.handleEmailPoll(context.Background(), pollJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
