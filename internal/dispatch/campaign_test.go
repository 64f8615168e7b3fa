package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/faithflow/mailroom/internal/db"
	"github.com/faithflow/mailroom/internal/mailer"
	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/recipients"
	"github.com/faithflow/mailroom/internal/repository"
)

// fakeMailer fails addresses listed in failWith and accepts everything else
type fakeMailer struct {
	mu       sync.Mutex
	sent     []string
	failWith map[string]error
}

func (f *fakeMailer) Send(ctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failWith[req.To]; ok {
		return nil, err
	}
	f.sent = append(f.sent, req.To)
	return &mailer.SendResponse{ID: "msg-" + req.To, Status: "queued"}, nil
}

func (f *fakeMailer) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type testEnv struct {
	db         *sql.DB
	queue      *queue.Queue
	campaigns  *repository.CampaignRepository
	logs       *repository.SendLogRepository
	mailer     *fakeMailer
	dispatcher *CampaignDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	storage, err := queue.NewBoltStorage(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("failed to open queue storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	q := queue.New(storage)
	campaigns := repository.NewCampaignRepository(database.DB)
	logs := repository.NewSendLogRepository(database.DB)
	resolver := recipients.NewResolver(database.DB)
	fm := &fakeMailer{failWith: map[string]error{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := NewCampaignDispatcher(q, campaigns, logs, resolver, fm,
		SendConfig{Concurrency: 2, Timeout: time.Second, Retries: 2},
		"news@church.example", "FaithFlow", logger)

	return &testEnv{
		db:         database.DB,
		queue:      q,
		campaigns:  campaigns,
		logs:       logs,
		mailer:     fm,
		dispatcher: d,
	}
}

func (e *testEnv) seedMember(t *testing.T, id, email string) {
	t.Helper()
	_, err := e.db.Exec(`
		INSERT INTO members (id, first_name, last_name, email, membership_status, created_at)
		VALUES (?, ?, ?, ?, 'active', ?)`,
		id, "First"+id, "Last"+id, email, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}
}

// sendingCampaign creates a campaign already transitioned to sending with a
// claimed dispatch job, the state a worker sees on the send-now path
func (e *testEnv) sendingCampaign(t *testing.T) (*models.Campaign, *queue.Job) {
	t.Helper()
	ctx := context.Background()

	c := &models.Campaign{
		Name:        "Easter Service",
		Subject:     "Hello {{firstName}}",
		HTMLContent: "<p>See you, {{firstName}} {{lastName}}</p>",
		Filter:      models.RecipientFilter{Type: models.FilterAllMembers},
	}
	if err := e.campaigns.Create(c); err != nil {
		t.Fatal(err)
	}
	if err := e.campaigns.Transition(c.ID, models.CampaignDraft, models.CampaignSending); err != nil {
		t.Fatal(err)
	}

	job, err := e.queue.Enqueue(ctx, queue.TypeCampaignDispatch, queue.CampaignDispatchPayload{CampaignID: c.ID}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.campaigns.SetJob(c.ID, job.ID); err != nil {
		t.Fatal(err)
	}

	claimed, err := e.queue.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("failed to claim job: %v / %v", claimed, err)
	}
	return c, claimed
}

func TestDispatchAllSucceed(t *testing.T) {
	e := newTestEnv(t)
	e.seedMember(t, "m1", "a@example.org")
	e.seedMember(t, "m2", "b@example.org")
	c, job := e.sendingCampaign(t)

	if err := e.dispatcher.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignSent {
		t.Fatalf("expected status sent, got %q", got.Status)
	}
	want := models.CampaignStats{TotalRecipients: 2, Sent: 2}
	if got.Stats != want {
		t.Errorf("expected stats %+v, got %+v", want, got.Stats)
	}
	if len(e.mailer.sentTo()) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(e.mailer.sentTo()))
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	e := newTestEnv(t)
	e.seedMember(t, "m1", "a@example.org")
	e.seedMember(t, "m2", "b@example.org")
	e.seedMember(t, "m3", "c@example.org")
	e.mailer.failWith["b@example.org"] = &mailer.DeliveryError{Temporary: false, Message: "mailbox does not exist"}
	c, job := e.sendingCampaign(t)

	if err := e.dispatcher.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	// One failure does not fail the campaign
	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignSent {
		t.Fatalf("expected status sent, got %q", got.Status)
	}
	want := models.CampaignStats{TotalRecipients: 3, Sent: 2, Failed: 1}
	if got.Stats != want {
		t.Errorf("expected stats %+v, got %+v", want, got.Stats)
	}

	failed, _, err := e.logs.List(models.SendLogFilter{CampaignID: c.ID, Status: models.SendLogFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Email != "b@example.org" {
		t.Fatalf("expected one failed row for b@example.org, got %+v", failed)
	}
	if !strings.Contains(failed[0].ErrorMessage, "mailbox does not exist") {
		t.Errorf("expected delivery error recorded, got %q", failed[0].ErrorMessage)
	}
}

func TestDispatchAllFail(t *testing.T) {
	e := newTestEnv(t)
	e.seedMember(t, "m1", "a@example.org")
	e.mailer.failWith["a@example.org"] = &mailer.DeliveryError{Temporary: false, Message: "rejected"}
	c, job := e.sendingCampaign(t)

	err := e.dispatcher.Handle(context.Background(), job)
	if err == nil {
		t.Fatal("expected error when nobody got mail")
	}

	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignFailed {
		t.Fatalf("expected status failed, got %q", got.Status)
	}
	if got.Stats.Sent != 0 || got.Stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", got.Stats)
	}
}

func TestDispatchNoRecipients(t *testing.T) {
	e := newTestEnv(t)
	c, job := e.sendingCampaign(t)

	err := e.dispatcher.Handle(context.Background(), job)
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}

	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignFailed {
		t.Fatalf("expected status failed, got %q", got.Status)
	}
	if got.Error == "" {
		t.Error("expected campaign error to be recorded")
	}
}

func TestDispatchRetriesTemporaryFailures(t *testing.T) {
	e := newTestEnv(t)
	e.seedMember(t, "m1", "a@example.org")

	// Fails once, then succeeds
	var calls int
	var mu sync.Mutex
	orig := e.mailer
	e.dispatcher.mailer = mailerFunc(func(ctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, &mailer.DeliveryError{Temporary: true, Message: "451 try again"}
		}
		return orig.Send(ctx, req)
	})

	c, job := e.sendingCampaign(t)
	if err := e.dispatcher.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignSent {
		t.Fatalf("expected status sent after retry, got %q", got.Status)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestDispatchCancelledCampaignIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	e.seedMember(t, "m1", "a@example.org")
	ctx := context.Background()

	c := &models.Campaign{
		Name:        "x",
		Subject:     "x",
		HTMLContent: "<p>x</p>",
		Filter:      models.RecipientFilter{Type: models.FilterAllMembers},
	}
	if err := e.campaigns.Create(c); err != nil {
		t.Fatal(err)
	}
	// Cancelled before the job was claimed
	if err := e.campaigns.Transition(c.ID, models.CampaignDraft, models.CampaignCancelled); err != nil {
		t.Fatal(err)
	}

	job, err := e.queue.Enqueue(ctx, queue.TypeCampaignDispatch, queue.CampaignDispatchPayload{CampaignID: c.ID}, 0)
	if err != nil {
		t.Fatal(err)
	}
	claimed, _ := e.queue.Claim(ctx)

	if err := e.dispatcher.Handle(ctx, claimed); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(e.mailer.sentTo()) != 0 {
		t.Error("expected no deliveries for a cancelled campaign")
	}
	stored, _ := e.queue.Get(ctx, job.ID)
	if stored.Status != queue.StatusCancelled {
		t.Errorf("expected job cancelled, got %q", stored.Status)
	}
}

func TestDispatchCooperativeCancel(t *testing.T) {
	e := newTestEnv(t)
	for i := 1; i <= 4; i++ {
		e.seedMember(t, fmt.Sprintf("m%d", i), fmt.Sprintf("m%d@example.org", i))
	}
	e.dispatcher.cfg.Concurrency = 1
	ctx := context.Background()

	c, job := e.sendingCampaign(t)

	// The operator cancels while the first delivery is in flight; the loop
	// must notice between recipients and stop, even though later progress
	// writes go through the worker's stale claimed copy
	orig := e.mailer
	var once sync.Once
	e.dispatcher.mailer = mailerFunc(func(sctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error) {
		once.Do(func() {
			if err := e.queue.Cancel(ctx, job.ID); err != nil {
				t.Errorf("cancel: %v", err)
			}
		})
		return orig.Send(sctx, req)
	})

	if err := e.dispatcher.Handle(ctx, job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	stored, _ := e.queue.Get(ctx, job.ID)
	if stored.Status != queue.StatusCancelled {
		t.Fatalf("expected job cancelled, got %q", stored.Status)
	}

	sent := len(e.mailer.sentTo())
	if sent == 0 || sent == 4 {
		t.Fatalf("expected dispatch to stop partway, got %d of 4 deliveries", sent)
	}

	// Unattempted recipients get a terminal failed row and the stats add up
	got, _ := e.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignSent {
		t.Errorf("expected status sent with partial deliveries, got %q", got.Status)
	}
	if got.Stats.TotalRecipients != 4 || got.Stats.Sent+got.Stats.Failed != got.Stats.TotalRecipients {
		t.Errorf("stats do not add up: %+v", got.Stats)
	}

	failed, _, err := e.logs.List(models.SendLogFilter{CampaignID: c.ID, Status: models.SendLogFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 4-sent {
		t.Fatalf("expected %d failed rows, got %d", 4-sent, len(failed))
	}
	for _, row := range failed {
		if row.ErrorMessage != "cancelled before send" {
			t.Errorf("expected cancellation recorded, got %q", row.ErrorMessage)
		}
	}
}

func TestDispatchRendersVariables(t *testing.T) {
	e := newTestEnv(t)
	e.seedMember(t, "m1", "a@example.org")

	var gotSubject, gotHTML string
	var mu sync.Mutex
	e.dispatcher.mailer = mailerFunc(func(ctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error) {
		mu.Lock()
		gotSubject, gotHTML = req.Subject, req.HTML
		mu.Unlock()
		return &mailer.SendResponse{Status: "queued"}, nil
	})

	_, job := e.sendingCampaign(t)
	if err := e.dispatcher.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if gotSubject != "Hello Firstm1" {
		t.Errorf("expected rendered subject, got %q", gotSubject)
	}
	if !strings.Contains(gotHTML, "Firstm1 Lastm1") {
		t.Errorf("expected rendered body, got %q", gotHTML)
	}
}

// mailerFunc adapts a function to the Mailer interface
type mailerFunc func(ctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error)

func (f mailerFunc) Send(ctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error) {
	return f(ctx, req)
}
