package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPollReachesTerminal(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)

	var mu sync.Mutex
	var updates []JobStatus
	terminal := make(chan *Job, 1)

	stop := q.Poll(job.ID, 10*time.Millisecond, PollHandlers{
		OnUpdate: func(j *Job) {
			mu.Lock()
			updates = append(updates, j.Status)
			mu.Unlock()
		},
		OnTerminal: func(j *Job) {
			terminal <- j
		},
	})
	defer stop()

	claimed, _ := q.Claim(ctx)
	time.Sleep(30 * time.Millisecond)
	if err := q.Complete(ctx, claimed, "ok"); err != nil {
		t.Fatal(err)
	}

	select {
	case j := <-terminal:
		if j.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", j.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll never reached terminal state")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Error("expected at least one update callback")
	}
}

func TestPollStopUnsubscribes(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, TypeCampaignDispatch, nil, 0)

	var mu sync.Mutex
	count := 0

	stop := q.Poll(job.ID, 10*time.Millisecond, PollHandlers{
		OnUpdate: func(j *Job) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})

	time.Sleep(30 * time.Millisecond)
	stop()
	stop() // stop is safe to call twice

	mu.Lock()
	before := count
	mu.Unlock()

	// Drive a change after unsubscribing; the callback must not fire again
	claimed, _ := q.Claim(ctx)
	q.Complete(ctx, claimed, "ok")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != before {
		t.Errorf("callbacks fired after stop: %d -> %d", before, count)
	}
}
