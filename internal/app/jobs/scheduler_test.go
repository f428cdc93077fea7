package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/studiodesk/studiodesk/pkg/logger"
)

func TestAddValidatesSpecAndNames(t *testing.T) {
	s := NewScheduler(time.UTC, logger.Discard())
	noop := func(context.Context) error { return nil }

	if err := s.Add("purge", "@hourly", noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add("purge", "@daily", noop); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := s.Add("bad", "every tuesday", noop); err == nil {
		t.Fatal("expected invalid spec error")
	}
	if err := s.Add("payouts", "0 3 1 * *", noop); err != nil {
		t.Fatalf("add payouts: %v", err)
	}
	if got := s.Jobs(); len(got) != 2 || got[0] != "purge" || got[1] != "payouts" {
		t.Fatalf("unexpected jobs %v", got)
	}
}

func TestRunNow(t *testing.T) {
	s := NewScheduler(time.UTC, logger.Discard())
	calls := 0
	_ = s.Add("count", "@hourly", func(context.Context) error { calls++; return nil })
	_ = s.Add("fail", "@hourly", func(context.Context) error { return errors.New("boom") })

	if err := s.RunNow(context.Background(), "count"); err != nil || calls != 1 {
		t.Fatalf("run count: err=%v calls=%d", err, calls)
	}
	if err := s.RunNow(context.Background(), "fail"); err == nil {
		t.Fatal("expected job error")
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	s := NewScheduler(time.UTC, logger.Discard())
	_ = s.Add("noop", "@every 1h", func(context.Context) error { return nil })
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Add("late", "@hourly", func(context.Context) error { return nil }); err == nil {
		t.Fatal("adding to a running scheduler should fail")
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
