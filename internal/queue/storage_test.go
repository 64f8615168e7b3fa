package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	storage, err := NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { storage.Close() })

	return New(storage)
}

func TestEnqueueAndClaim(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job1, err := q.Enqueue(ctx, TypeCampaignDispatch, map[string]string{"campaign_id": "c1"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if job1.Status != StatusWaiting {
		t.Fatalf("expected waiting, got %s", job1.Status)
	}

	time.Sleep(time.Millisecond) // distinct index keys
	job2, err := q.Enqueue(ctx, TypeCampaignDispatch, map[string]string{"campaign_id": "c2"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Oldest waiting job is claimed first
	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != job1.ID {
		t.Fatalf("expected job1 claimed, got %+v", claimed)
	}
	if claimed.Status != StatusActive {
		t.Errorf("expected active, got %s", claimed.Status)
	}

	claimed, err = q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != job2.ID {
		t.Fatalf("expected job2 claimed, got %+v", claimed)
	}

	// Queue drained
	claimed, err = q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Fatalf("expected empty queue, got %+v", claimed)
	}
}

func TestDelayedJobNotClaimableUntilDue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, TypeCampaignDispatch, nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusDelayed {
		t.Fatalf("expected delayed, got %s", job.Status)
	}

	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Fatalf("delayed job claimed before its run time: %+v", claimed)
	}
}

func TestDelayedJobClaimedWhenDue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, TypeCampaignDispatch, nil, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected delayed job claimed once due, got %+v", claimed)
	}
}

func TestCancelWaitingAndDelayed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	waiting, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)
	delayed, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, time.Hour)

	for _, id := range []string{waiting.ID, delayed.ID} {
		if err := q.Cancel(ctx, id); err != nil {
			t.Fatalf("cancel %s: %v", id, err)
		}
		job, err := q.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != StatusCancelled {
			t.Errorf("expected cancelled, got %s", job.Status)
		}
	}

	// Cancelled jobs are never claimed
	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != nil {
		t.Fatalf("cancelled job was claimed: %+v", claimed)
	}
}

func TestCancelActiveSetsCooperativeFlag(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusActive {
		t.Errorf("active job status changed by cancel: %s", got.Status)
	}
	if !got.Cancelling {
		t.Error("expected cancelling flag set")
	}
	if !q.Cancelling(ctx, job.ID) {
		t.Error("Cancelling() should report true")
	}
}

func TestCancelFlagSurvivesProgressUpdate(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)
	claimed, err := q.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	// Cancel lands while the worker still holds its stale claimed copy
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.SetProgress(ctx, claimed, 10); err != nil {
		t.Fatal(err)
	}

	if !q.Cancelling(ctx, job.ID) {
		t.Error("cancel flag lost to a progress write from a stale copy")
	}
	got, _ := q.Get(ctx, job.ID)
	if !got.Cancelling {
		t.Error("expected cancelling flag still set in the store")
	}
	if got.Progress != 10 {
		t.Errorf("expected progress 10, got %d", got.Progress)
	}
}

func TestCancelTerminalJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)
	claimed, _ := q.Claim(ctx)
	if err := q.Complete(ctx, claimed, "done"); err != nil {
		t.Fatal(err)
	}

	if err := q.Cancel(ctx, job.ID); err != ErrNotCancellable {
		t.Errorf("expected ErrNotCancellable, got %v", err)
	}
}

func TestStats(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)
	q.Enqueue(ctx, TypeImportRetry, nil, time.Hour)
	claimed, _ := q.Claim(ctx)
	q.Fail(ctx, claimed, "boom")

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.Delayed != 1 {
		t.Errorf("expected 1 delayed, got %d", stats.Delayed)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
}

func TestProgressClamped(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)
	claimed, _ := q.Claim(ctx)

	if err := q.SetProgress(ctx, claimed, 150); err != nil {
		t.Fatal(err)
	}
	got, _ := q.Get(ctx, job.ID)
	if got.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %d", got.Progress)
	}
}
