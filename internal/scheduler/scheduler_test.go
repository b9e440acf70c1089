package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtravers/tokenward/internal/config"
	"github.com/dtravers/tokenward/internal/credentials"
	"github.com/dtravers/tokenward/internal/crypto"
	"github.com/dtravers/tokenward/internal/database"
	"github.com/dtravers/tokenward/internal/events"
	"github.com/dtravers/tokenward/internal/exchange"
)

// fakeExchanger scripts token endpoint behavior for tests.
type fakeExchanger struct {
	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
	block    chan struct{} // when set, calls wait until closed
	fn       func(provider string, refreshSecret []byte) (*exchange.Result, error)
}

func (f *fakeExchanger) Refresh(ctx context.Context, provider string, refreshSecret []byte) (*exchange.Result, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &exchange.TransientError{Err: ctx.Err()}
		}
	}

	return f.fn(provider, refreshSecret)
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		TickInterval:     time.Minute,
		RefreshThreshold: 10 * time.Minute,
		ExchangeTimeout:  2 * time.Second,
		MaxAttempts:      2,
		BackoffBase:      time.Millisecond,
		BackoffCap:       2 * time.Millisecond,
		MaxParallel:      4,
	}
}

func newTestHarness(t *testing.T, fake *fakeExchanger, cfg config.SchedulerConfig) (*Scheduler, *credentials.Store, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vault, err := crypto.NewVaultFromSecret("scheduler-test")
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	store := credentials.NewStore(db, vault)
	sched := New(cfg, store, fake, events.NewLog(100))
	return sched, store, db
}

func seedCredential(t *testing.T, db *database.DB, store *credentials.Store, userID string, expiresAt time.Time) {
	t.Helper()
	if _, err := db.Exec(`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`, userID, time.Now().UTC()); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := store.Put(context.Background(), userID, "jira", []byte("access"), []byte("refresh"), "bearer", expiresAt, ""); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}
}

func successResult() (*exchange.Result, error) {
	return &exchange.Result{
		AccessSecret:  []byte("new-access"),
		RefreshSecret: []byte("new-refresh"),
		TokenKind:     "bearer",
		ExpiresAt:     time.Now().Add(time.Hour),
	}, nil
}

func TestTick_RefreshesOnlyInsideThreshold(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) { return successResult() }}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())

	seedCredential(t, db, store, "due-user", time.Now().Add(9*time.Minute))
	seedCredential(t, db, store, "fresh-user", time.Now().Add(11*time.Minute))

	sched.tick(context.Background())

	if got := fake.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 exchange call, got %d", got)
	}

	rec, err := store.Get(context.Background(), "due-user", "jira")
	if err != nil {
		t.Fatalf("Get after refresh failed: %v", err)
	}
	if string(rec.AccessSecret) != "new-access" {
		t.Fatalf("expected refreshed access secret, got %q", rec.AccessSecret)
	}

	state, counters := sched.StateFor("due-user", "jira")
	if state != StateFresh {
		t.Fatalf("expected fresh state after refresh, got %s", state)
	}
	if counters.Attempted != 1 || counters.Succeeded != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}

	if state, _ := sched.StateFor("fresh-user", "jira"); state != StateFresh {
		t.Fatalf("expected untouched credential to stay fresh, got %s", state)
	}
}

func TestRefresh_KeepsOldSecretWhenProviderDoesNotRotate(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) {
		return &exchange.Result{
			AccessSecret: []byte("new-access"),
			TokenKind:    "bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	}}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())
	seedCredential(t, db, store, "u1", time.Now().Add(time.Minute))

	sched.tick(context.Background())

	rec, err := store.Get(context.Background(), "u1", "jira")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(rec.RefreshSecret) != "refresh" {
		t.Fatalf("expected original refresh secret kept, got %q", rec.RefreshSecret)
	}
}

func TestRefresh_PermanentErrorDeactivates(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) {
		return nil, &exchange.PermanentError{Reason: "invalid_grant"}
	}}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())
	seedCredential(t, db, store, "u1", time.Now().Add(time.Minute))

	sched.tick(context.Background())

	if got := fake.callCount(); got != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", got)
	}

	if _, err := store.Get(context.Background(), "u1", "jira"); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected deactivated credential, got %v", err)
	}

	if state, _ := sched.StateFor("u1", "jira"); state != StateExpired {
		t.Fatalf("expected expired state, got %s", state)
	}

	// No further automatic attempts: the record is no longer listed.
	sched.tick(context.Background())
	if got := fake.callCount(); got != 1 {
		t.Fatalf("deactivated credential was refreshed again: %d calls", got)
	}
}

func TestRefresh_TransientErrorRetriesWithinCycle(t *testing.T) {
	var calls int32
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &exchange.TransientError{Err: errors.New("connection reset")}
		}
		return successResult()
	}}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())
	seedCredential(t, db, store, "u1", time.Now().Add(time.Minute))

	sched.tick(context.Background())

	if got := fake.callCount(); got != 2 {
		t.Fatalf("expected retry after transient failure, got %d calls", got)
	}

	state, counters := sched.StateFor("u1", "jira")
	if state != StateFresh {
		t.Fatalf("expected fresh after successful retry, got %s", state)
	}
	if counters.Attempted != 2 || counters.Succeeded != 1 || counters.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}
}

func TestRefresh_ExpiredWithoutSuccessIsTerminal(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) {
		return nil, &exchange.TransientError{Err: errors.New("unreachable")}
	}}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())
	seedCredential(t, db, store, "u1", time.Now().Add(-time.Minute))

	sched.tick(context.Background())

	if _, err := store.Get(context.Background(), "u1", "jira"); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected expired credential deactivated, got %v", err)
	}
	if state, _ := sched.StateFor("u1", "jira"); state != StateExpired {
		t.Fatalf("expected expired state, got %s", state)
	}
}

func TestRefresh_UndecryptableSecretIsTerminal(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) { return successResult() }}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())
	seedCredential(t, db, store, "u1", time.Now().Add(time.Minute))

	// Corrupt the stored ciphertext in place.
	if _, err := db.Exec(`UPDATE credentials SET refresh_enc = X'00112233' WHERE user_id = 'u1'`); err != nil {
		t.Fatalf("failed to corrupt ciphertext: %v", err)
	}

	sched.tick(context.Background())

	if got := fake.callCount(); got != 0 {
		t.Fatalf("undecryptable credential must not reach the exchanger, got %d calls", got)
	}
	if state, _ := sched.StateFor("u1", "jira"); state != StateExpired {
		t.Fatalf("expected expired state, got %s", state)
	}
}

func TestTriggerRefresh_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	fake := &fakeExchanger{
		block: block,
		fn:    func(string, []byte) (*exchange.Result, error) { return successResult() },
	}
	cfg := testSchedulerConfig()
	cfg.MaxAttempts = 1
	sched, store, db := newTestHarness(t, fake, cfg)
	seedCredential(t, db, store, "u1", time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.refresh(context.Background(), "u1", "jira")
		}()
	}

	// Let the flight start, then release it.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	if got := fake.callCount(); got != 1 {
		t.Fatalf("expected single-flight to collapse to 1 exchange call, got %d", got)
	}
	if max := atomic.LoadInt32(&fake.maxSeen); max != 1 {
		t.Fatalf("expected at most 1 concurrent exchange, saw %d", max)
	}
}

func TestTriggerRefresh_BypassesThreshold(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) { return successResult() }}
	sched, store, db := newTestHarness(t, fake, testSchedulerConfig())
	// Expiry far outside the threshold: a tick would skip it.
	seedCredential(t, db, store, "u1", time.Now().Add(24*time.Hour))

	sched.refresh(context.Background(), "u1", "jira")

	if got := fake.callCount(); got != 1 {
		t.Fatalf("expected forced refresh to run, got %d calls", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTriggerRefresh_ConcurrentWithStart(t *testing.T) {
	fake := &fakeExchanger{fn: func(string, []byte) (*exchange.Result, error) { return successResult() }}
	cfg := testSchedulerConfig()
	cfg.TickInterval = time.Hour
	sched, store, db := newTestHarness(t, fake, cfg)
	seedCredential(t, db, store, "u1", time.Now().Add(24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()
	// A trigger racing the loop startup must still run the refresh.
	sched.TriggerRefresh("u1", "jira")

	waitFor(t, func() bool { return fake.callCount() >= 1 })
	cancel()
	<-done
}

func TestRefresh_LogoutDuringFlightStaysLoggedOut(t *testing.T) {
	block := make(chan struct{})
	fake := &fakeExchanger{
		block: block,
		fn:    func(string, []byte) (*exchange.Result, error) { return successResult() },
	}
	cfg := testSchedulerConfig()
	cfg.MaxAttempts = 1
	sched, store, db := newTestHarness(t, fake, cfg)
	seedCredential(t, db, store, "u1", time.Now().Add(time.Minute))

	done := make(chan struct{})
	go func() {
		sched.refresh(context.Background(), "u1", "jira")
		close(done)
	}()

	// Log out while the exchange is in flight, then let it complete.
	waitFor(t, func() bool { return atomic.LoadInt32(&fake.inFlight) == 1 })
	if err := store.Deactivate(context.Background(), "u1", "jira"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	close(block)
	<-done

	if _, err := store.Get(context.Background(), "u1", "jira"); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("logout was undone by in-flight refresh: %v", err)
	}
	var active bool
	if err := db.QueryRow(`SELECT active FROM credentials WHERE user_id = 'u1' AND provider = 'jira'`).Scan(&active); err != nil {
		t.Fatalf("failed to read row: %v", err)
	}
	if active {
		t.Fatal("expected credential row to stay deactivated")
	}
}

func TestBackoffDelay_Bounds(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	for attempt := 0; attempt < 40; attempt++ {
		d := backoffDelay(base, max, attempt)
		if d < base {
			t.Fatalf("attempt %d: delay %v below base", attempt, d)
		}
		// Cap plus up to 25% jitter.
		if d > max+max/4 {
			t.Fatalf("attempt %d: delay %v above cap with jitter", attempt, d)
		}
	}

	// Doubling per attempt until the cap.
	if d := backoffDelay(base, max, 2); d < 4*time.Second {
		t.Fatalf("expected attempt 2 delay >= 4s, got %v", d)
	}
}
