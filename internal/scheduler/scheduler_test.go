package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/store"

	"github.com/rs/zerolog"
)

type deadlinePayload struct {
	SessionID string `json:"session_id"`
}

func newTestScheduler(opts Options) (*Scheduler, *store.MemoryStore, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(clk)
	return New(st, clk, opts, zerolog.Nop()), st, clk
}

func TestRunDueFiresOnlyDueJobs(t *testing.T) {
	s, _, clk := newTestScheduler(Options{})
	ctx := context.Background()

	var got []string
	s.Handle("test.kind", func(_ context.Context, raw json.RawMessage) error {
		var p deadlinePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		got = append(got, p.SessionID)
		return nil
	})

	if err := s.Schedule(ctx, "test.kind", clk.Now().Add(10*time.Second), deadlinePayload{SessionID: "late"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Schedule(ctx, "test.kind", clk.Now().Add(time.Second), deadlinePayload{SessionID: "early"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if n, err := s.RunDue(ctx); err != nil || n != 0 {
		t.Fatalf("RunDue before fire time = %d, %v", n, err)
	}
	clk.Advance(time.Second)
	if n, _ := s.RunDue(ctx); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
	clk.Advance(time.Minute)
	if n, _ := s.RunDue(ctx); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
	if len(got) != 2 || got[0] != "early" || got[1] != "late" {
		t.Fatalf("unexpected fire order: %v", got)
	}
	if n, _ := s.RunDue(ctx); n != 0 {
		t.Fatalf("completed jobs must not fire again, ran %d", n)
	}
}

func TestRunDueRetriesWithBackoffThenFails(t *testing.T) {
	s, st, clk := newTestScheduler(Options{RetryMax: 3, RetryBase: time.Second})
	ctx := context.Background()

	var calls atomic.Int32
	s.Handle("flaky", func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	})
	if err := s.Schedule(ctx, "flaky", clk.Now(), map[string]string{}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	_, _ = s.RunDue(ctx)
	jobs := st.Jobs()
	if jobs[0].Status != store.JobStatusPending || !jobs[0].FireAt.Equal(clk.Now().Add(time.Second)) {
		t.Fatalf("expected retry in 1s, got %+v", jobs[0])
	}

	clk.Advance(time.Second)
	_, _ = s.RunDue(ctx)
	jobs = st.Jobs()
	if !jobs[0].FireAt.Equal(clk.Now().Add(2 * time.Second)) {
		t.Fatalf("expected retry in 2s, got %v", jobs[0].FireAt.Sub(clk.Now()))
	}

	clk.Advance(2 * time.Second)
	_, _ = s.RunDue(ctx)
	jobs = st.Jobs()
	if jobs[0].Status != store.JobStatusFailed || jobs[0].LastError != "downstream unavailable" {
		t.Fatalf("expected failed job, got %+v", jobs[0])
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRunDueFailsUnknownKind(t *testing.T) {
	s, st, clk := newTestScheduler(Options{})
	ctx := context.Background()
	if err := s.Schedule(ctx, "nobody.listens", clk.Now(), nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	_, _ = s.RunDue(ctx)
	jobs := st.Jobs()
	if jobs[0].Status != store.JobStatusFailed || jobs[0].LastError != ErrNoHandler.Error() {
		t.Fatalf("unexpected job state: %+v", jobs[0])
	}
}

func TestRunDueRecoversHandlerPanic(t *testing.T) {
	s, st, clk := newTestScheduler(Options{RetryMax: 1})
	ctx := context.Background()
	s.Handle("boom", func(context.Context, json.RawMessage) error { panic("bad state") })
	_ = s.Schedule(ctx, "boom", clk.Now(), nil)

	if _, err := s.RunDue(ctx); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if jobs := st.Jobs(); jobs[0].Status != store.JobStatusFailed {
		t.Fatalf("expected failed job after panic, got %+v", jobs[0])
	}
}

func TestRunDueDrainsMoreThanOneBatch(t *testing.T) {
	s, _, clk := newTestScheduler(Options{Batch: 2})
	ctx := context.Background()
	var calls int
	s.Handle("n", func(context.Context, json.RawMessage) error { calls++; return nil })
	for i := 0; i < 5; i++ {
		_ = s.Schedule(ctx, "n", clk.Now(), i)
	}
	n, err := s.RunDue(ctx)
	if err != nil || n != 5 || calls != 5 {
		t.Fatalf("RunDue = %d, %v; calls=%d", n, err, calls)
	}
}

func TestStartFiresScheduledJobWithoutPolling(t *testing.T) {
	st := store.NewMemoryStore(nil)
	s := New(st, clock.System{}, Options{PollInterval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	s.Handle("ping", func(context.Context, json.RawMessage) error {
		fired <- struct{}{}
		return nil
	})
	s.Start(ctx)
	if err := s.Schedule(ctx, "ping", time.Now(), nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
}
