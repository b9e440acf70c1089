// Package scheduler drives proactive credential refresh. One background
// loop scans the store on a fixed tick; refreshes for different keys run
// concurrently with bounded parallelism, while refreshes for the same
// (user, provider) key are single-flight.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dtravers/tokenward/internal/config"
	"github.com/dtravers/tokenward/internal/credentials"
	"github.com/dtravers/tokenward/internal/crypto"
	"github.com/dtravers/tokenward/internal/events"
	"github.com/dtravers/tokenward/internal/exchange"
	"github.com/dtravers/tokenward/internal/metrics"
	"github.com/dtravers/tokenward/internal/util"
)

// State is the refresh lifecycle state of one credential.
type State string

const (
	StateFresh        State = "fresh"
	StateDue          State = "due"
	StateRefreshing   State = "refreshing"
	StateFailed       State = "failed"
	StateRetryBackoff State = "retry_backoff"
	StateExpired      State = "expired"
)

// Counters tracks per-credential refresh outcomes for the status surface.
// Process-lifetime, diagnostic only.
type Counters struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type keyState struct {
	state    State
	counters Counters
}

// Scheduler owns the refresh loop and per-key refresh state.
type Scheduler struct {
	cfg       config.SchedulerConfig
	store     *credentials.Store
	exchanger exchange.Exchanger
	log       *events.Log

	group singleflight.Group
	sem   *semaphore.Weighted

	mu     sync.Mutex
	states map[string]*keyState
	runCtx context.Context // guarded by mu
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, store *credentials.Store, exchanger exchange.Exchanger, log *events.Log) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		exchanger: exchanger,
		log:       log,
		sem:       semaphore.NewWeighted(int64(cfg.MaxParallel)),
		states:    make(map[string]*keyState),
		runCtx:    context.Background(),
	}
}

// Start runs the tick loop until the context is cancelled. Per-record
// errors never abort the loop; a failed tick is simply retried at the next
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	util.Info("Starting refresh scheduler",
		"tick_interval", s.cfg.TickInterval,
		"refresh_threshold", s.cfg.RefreshThreshold,
		"max_parallel", s.cfg.MaxParallel,
	)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			util.Info("Refresh scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick scans active credentials and refreshes every one inside the
// threshold window. It waits for the refreshes it spawned so shutdown
// cannot orphan work silently.
func (s *Scheduler) tick(ctx context.Context) {
	items, err := s.store.ListActive(ctx)
	if err != nil {
		util.Error("Scheduler tick failed to list credentials", "error", err)
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, item := range items {
		ttl := item.ExpiresAt.Sub(now)
		if ttl > s.cfg.RefreshThreshold {
			s.setState(item.UserID, item.Provider, StateFresh)
			continue
		}

		s.setState(item.UserID, item.Provider, StateDue)

		wg.Add(1)
		go func(userID, provider string) {
			defer wg.Done()
			s.refresh(ctx, userID, provider)
		}(item.UserID, item.Provider)
	}
	wg.Wait()
}

// TriggerRefresh forces a refresh for the key regardless of its expiry,
// asynchronously. It shares the single-flight guard with the tick loop, so
// an overlapping automatic refresh is reused, never duplicated.
func (s *Scheduler) TriggerRefresh(userID, provider string) {
	s.log.Append(userID, provider, events.KindManual, "manual refresh requested")

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	go s.refresh(ctx, userID, provider)
}

// StateFor returns the current refresh state and counters for a key. A key
// the scheduler has not evaluated yet reports an empty state; callers judge
// such records by their expiry alone.
func (s *Scheduler) StateFor(userID, provider string) (State, Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ks, ok := s.states[stateKey(userID, provider)]; ok {
		return ks.state, ks.counters
	}
	return "", Counters{}
}

// refresh performs one bounded refresh cycle for the key: up to MaxAttempts
// exchanges with exponential backoff between transient failures.
func (s *Scheduler) refresh(ctx context.Context, userID, provider string) {
	key := stateKey(userID, provider)

	// Concurrent callers for the same key wait for and share one outcome.
	s.group.Do(key, func() (interface{}, error) {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, nil // shutting down
		}
		defer s.sem.Release(1)

		s.setState(userID, provider, StateRefreshing)
		s.runRefreshCycle(ctx, userID, provider)
		return nil, nil
	})
}

func (s *Scheduler) runRefreshCycle(ctx context.Context, userID, provider string) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		s.bumpAttempted(userID, provider)
		metrics.RefreshAttempts.Inc()
		s.log.Append(userID, provider, events.KindAttempted, "")

		rec, err := s.store.Get(ctx, userID, provider)
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) {
				// Deactivated or erased since the scan; nothing to do.
				s.clearState(userID, provider)
				return
			}
			if errors.Is(err, crypto.ErrDecrypt) {
				// Corrupted or key-mismatched secrets cannot be refreshed;
				// re-authentication is the only way out.
				util.Error("Credential undecryptable, deactivating",
					"user_id", userID,
					"provider", provider,
				)
				s.giveUp(ctx, userID, provider, "stored secrets undecryptable, re-authentication required")
				return
			}

			util.Error("Failed to load credential for refresh",
				"user_id", userID,
				"provider", provider,
				"error", err,
			)
			s.bumpFailed(userID, provider)
			s.setState(userID, provider, StateFailed)
			return
		}

		exchangeCtx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
		res, err := s.exchanger.Refresh(exchangeCtx, provider, rec.RefreshSecret)
		cancel()

		if err == nil {
			refreshSecret := res.RefreshSecret
			if len(refreshSecret) == 0 {
				// Provider did not rotate; keep the current secret.
				refreshSecret = rec.RefreshSecret
			}

			if putErr := s.store.UpdateSecrets(ctx, userID, provider, res.AccessSecret, refreshSecret, res.TokenKind, res.ExpiresAt); putErr != nil {
				if errors.Is(putErr, credentials.ErrNotFound) {
					// Logged out while the exchange was in flight; the
					// result is discarded, the logout stands.
					util.Info("Credential deactivated during refresh, discarding result",
						"user_id", userID,
						"provider", provider,
					)
					s.clearState(userID, provider)
					return
				}
				util.Error("Failed to persist refreshed credential",
					"user_id", userID,
					"provider", provider,
					"error", putErr,
				)
				s.bumpFailed(userID, provider)
				s.setState(userID, provider, StateFailed)
				return
			}

			s.bumpSucceeded(userID, provider)
			metrics.RefreshSuccesses.Inc()
			s.log.Append(userID, provider, events.KindSucceeded, "")
			s.setState(userID, provider, StateFresh)
			util.Info("Credential refreshed",
				"user_id", userID,
				"provider", provider,
				"expires_at", res.ExpiresAt,
			)
			return
		}

		s.bumpFailed(userID, provider)

		if exchange.IsPermanent(err) {
			metrics.RefreshFailures.WithLabelValues("permanent").Inc()
			util.Warn("Refresh secret rejected, deactivating credential",
				"user_id", userID,
				"provider", provider,
				"error", err,
			)
			s.giveUp(ctx, userID, provider, err.Error())
			return
		}

		metrics.RefreshFailures.WithLabelValues("transient").Inc()
		s.log.Append(userID, provider, events.KindFailed, err.Error())
		util.Warn("Refresh attempt failed",
			"user_id", userID,
			"provider", provider,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt+1 < s.cfg.MaxAttempts {
			s.setState(userID, provider, StateRetryBackoff)
			delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffCap, attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			s.setState(userID, provider, StateRefreshing)
		}
	}

	// Cycle exhausted without success. If the credential has meanwhile
	// expired outright it is terminal; otherwise the next tick retries.
	rec, err := s.store.Get(ctx, userID, provider)
	if err == nil && time.Now().After(rec.ExpiresAt) {
		s.giveUp(ctx, userID, provider, "expired before a refresh succeeded")
		return
	}
	s.setState(userID, provider, StateFailed)
}

// giveUp deactivates the credential and marks it terminally expired.
func (s *Scheduler) giveUp(ctx context.Context, userID, provider, reason string) {
	if err := s.store.Deactivate(ctx, userID, provider); err != nil {
		util.Error("Failed to deactivate credential",
			"user_id", userID,
			"provider", provider,
			"error", err,
		)
	}
	s.log.Append(userID, provider, events.KindExpired, reason)
	s.setState(userID, provider, StateExpired)
}

func stateKey(userID, provider string) string {
	return userID + "|" + provider
}

func (s *Scheduler) setState(userID, provider string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(userID, provider).state = state
}

func (s *Scheduler) clearState(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(userID, provider))
}

func (s *Scheduler) bumpAttempted(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(userID, provider).counters.Attempted++
}

func (s *Scheduler) bumpSucceeded(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(userID, provider).counters.Succeeded++
}

func (s *Scheduler) bumpFailed(userID, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(userID, provider).counters.Failed++
}

func (s *Scheduler) ensureLocked(userID, provider string) *keyState {
	key := stateKey(userID, provider)
	ks, ok := s.states[key]
	if !ok {
		ks = &keyState{state: StateFresh}
		s.states[key] = ks
	}
	return ks
}
