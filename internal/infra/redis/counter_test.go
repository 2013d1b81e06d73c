package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

func TestRateCounterUsageWindows(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	counter, err := NewRateCounter(rdb)
	if err != nil {
		t.Fatalf("NewRateCounter() error = %v", err)
	}

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sends := []struct {
		id string
		at time.Time
	}{
		{id: "n-1", at: now.Add(-3 * time.Hour)},
		{id: "n-2", at: now.Add(-50 * time.Minute)},
		{id: "n-3", at: now.Add(-10 * time.Minute)},
	}
	for _, s := range sends {
		if err := counter.Record(ctx, "u-1", domain.ChannelEmail, s.id, s.at); err != nil {
			t.Fatalf("Record(%s) error = %v", s.id, err)
		}
	}

	hour, err := counter.Usage(ctx, "u-1", domain.ChannelEmail, time.Hour, now)
	if err != nil {
		t.Fatalf("Usage(hour) error = %v", err)
	}
	if hour.Count != 2 {
		t.Fatalf("hourly count = %d, want 2", hour.Count)
	}
	if want := now.Add(-50 * time.Minute); !hour.Oldest.Equal(want) {
		t.Fatalf("hourly oldest = %v, want %v", hour.Oldest, want)
	}

	day, err := counter.Usage(ctx, "u-1", domain.ChannelEmail, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("Usage(day) error = %v", err)
	}
	if day.Count != 3 {
		t.Fatalf("daily count = %d, want 3", day.Count)
	}

	other, err := counter.Usage(ctx, "u-1", domain.ChannelSMS, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("Usage(sms) error = %v", err)
	}
	if other.Count != 0 || !other.Oldest.IsZero() {
		t.Fatalf("sms usage = %+v, want empty", other)
	}
}

func TestRateCounterUsageDoesNotReserve(t *testing.T) {
	t.Parallel()

	counter, err := NewRateCounter(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewRateCounter() error = %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		usage, err := counter.Usage(context.Background(), "u-2", domain.ChannelPush, time.Hour, now)
		if err != nil {
			t.Fatalf("Usage() error = %v", err)
		}
		if usage.Count != 0 {
			t.Fatalf("Usage() count = %d after %d reads, want 0", usage.Count, i)
		}
	}
}

func TestRateCounterTrimsOldEntries(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	counter, err := NewRateCounter(rdb)
	if err != nil {
		t.Fatalf("NewRateCounter() error = %v", err)
	}

	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	if err := counter.Record(ctx, "u-3", domain.ChannelSMS, "old", now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("Record(old) error = %v", err)
	}
	if err := counter.Record(ctx, "u-3", domain.ChannelSMS, "new", now); err != nil {
		t.Fatalf("Record(new) error = %v", err)
	}

	members, err := mr.ZMembers(counterKey("u-3", domain.ChannelSMS))
	if err != nil {
		t.Fatalf("ZMembers() error = %v", err)
	}
	if len(members) != 1 || members[0] != "new" {
		t.Fatalf("members = %v, want [new]", members)
	}
	if ttl := mr.TTL(counterKey("u-3", domain.ChannelSMS)); ttl <= 0 {
		t.Fatalf("counter ttl = %v, want positive", ttl)
	}
}

func TestRedisLockerRejectsSecondHolder(t *testing.T) {
	t.Parallel()

	locker, err := NewRedisLocker(newTestRedisClient(t), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}

	ctx := context.Background()
	unlock, err := locker.TryLock(ctx, "n-1")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	if _, err := locker.TryLock(ctx, "n-1"); !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("second TryLock() error = %v, want ErrAlreadyProcessing", err)
	}
	if !errors.Is(domain.ErrAlreadyProcessing, domain.ErrConflict) {
		t.Fatal("ErrAlreadyProcessing should match ErrConflict")
	}

	unlockOther, err := locker.TryLock(ctx, "n-2")
	if err != nil {
		t.Fatalf("TryLock(other key) error = %v", err)
	}
	unlockOther()

	unlock()
	unlockAgain, err := locker.TryLock(ctx, "n-1")
	if err != nil {
		t.Fatalf("TryLock() after unlock error = %v", err)
	}
	unlockAgain()
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	locker, err := NewRedisLocker(rdb, time.Second)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}

	ctx := context.Background()
	unlock, err := locker.TryLock(ctx, "n-9")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	unlockNew, err := locker.TryLock(ctx, "n-9")
	if err != nil {
		t.Fatalf("TryLock() after expiry error = %v", err)
	}

	// The stale holder must not release the new lease.
	unlock()
	if _, err := locker.TryLock(ctx, "n-9"); !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("TryLock() error = %v, want ErrAlreadyProcessing", err)
	}
	unlockNew()
}

func TestRedisLockerConcurrentAcquire(t *testing.T) {
	t.Parallel()

	locker, err := NewRedisLocker(newTestRedisClient(t), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.TryLock(context.Background(), "shared"); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Fatalf("acquired = %d, want 1", acquired)
	}
}
