package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/rolcurve/internal/model"
)

// fakeClock returns a limiter clock the test can move
func fakeClock(l *Limiter) *time.Time {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiter_New(t *testing.T) {
	if l := NewLimiter(10, 5); l.burst != 5 {
		t.Errorf("expected burst 5, got %d", l.burst)
	}
	if l := NewLimiter(10, -1); l.burst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l.burst)
	}
}

func TestLimiter_AllowPerClient(t *testing.T) {
	l := NewLimiter(1, 2)
	fakeClock(l)

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("acme"); !ok {
			t.Fatalf("request %d within burst was refused", i)
		}
	}
	ok, wait := l.Allow("acme")
	if ok {
		t.Fatal("third request should exceed the burst")
	}
	if wait != time.Second {
		t.Errorf("expected retry after 1s, got %v", wait)
	}

	// Other clients keep their own bucket
	if ok, _ := l.Allow("globex"); !ok {
		t.Error("globex should not be throttled by acme")
	}
}

func TestLimiter_RefusalDoesNotConsume(t *testing.T) {
	l := NewLimiter(1, 1)
	now := fakeClock(l)

	l.Allow("acme")
	for i := 0; i < 5; i++ {
		l.Allow("acme")
	}
	*now = now.Add(time.Second)
	if ok, _ := l.Allow("acme"); !ok {
		t.Error("refused requests should not push back the next token")
	}
}

func TestLimiter_ClientOverride(t *testing.T) {
	l := LimiterFromConfig(model.ServerConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		ClientLimits: map[string]model.RateLimit{
			"bigco": {RequestsPerSecond: 100, Burst: 10},
		},
	})
	fakeClock(l)

	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow("bigco"); !ok {
			t.Fatalf("bigco request %d refused", i)
		}
	}
	l.Allow("acme")
	if ok, _ := l.Allow("acme"); ok {
		t.Error("acme should get the default burst of 1")
	}
}

func TestLimiter_SetClientRateResetsBucket(t *testing.T) {
	l := NewLimiter(1, 1)
	fakeClock(l)

	l.Allow("acme")
	if ok, _ := l.Allow("acme"); ok {
		t.Fatal("expected acme to be throttled")
	}
	l.SetClientRate("acme", 10, 0)
	if ok, _ := l.Allow("acme"); !ok {
		t.Error("new rate should start with a fresh bucket")
	}
}

func TestLimiter_Prune(t *testing.T) {
	l := NewLimiter(1, 1)
	now := fakeClock(l)

	l.Allow("acme")
	*now = now.Add(10 * time.Minute)
	l.Allow("globex")

	if n := l.Prune(5 * time.Minute); n != 1 {
		t.Errorf("expected 1 pruned client, got %d", n)
	}
	if l.Len() != 1 {
		t.Errorf("expected globex to remain, have %d clients", l.Len())
	}
	if ok, _ := l.Allow("acme"); !ok {
		t.Error("a pruned client starts with a full bucket")
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(100, 1)
	ctx := context.Background()

	if err := l.Wait(ctx, "acme"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := l.Wait(ctx, "globex"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	l := NewLimiter(0.01, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx, "acme"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	cancel()
	if err := l.Wait(ctx, "acme"); err == nil {
		t.Errorf("expected error from cancelled wait")
	}
}
