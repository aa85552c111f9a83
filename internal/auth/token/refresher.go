// Package token keeps every account's credentials fresh. The refresher owns
// the account status state machine: active → refreshing → active on success,
// refreshing → error on transient failure, refreshing → expired when the
// refresh token itself is rejected.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/registry"
	"github.com/pysugar/kiro-nexus/internal/upstream"
)

// Upstream is the slice of the upstream client the refresher needs.
type Upstream interface {
	RefreshCredentials(ctx context.Context, acc models.Account) (*oauth2.Token, error)
	FetchUsageLimits(ctx context.Context, accessToken, idp string) (*upstream.QuotaSnapshot, error)
}

// Options control the scheduler cadence and retry policy.
type Options struct {
	Interval       time.Duration // tick period
	Lookahead      time.Duration // refresh tokens expiring within this window
	AttemptTimeout time.Duration // per upstream call
	MaxAttempts    int           // transient retries before the account goes to error
	BackoffBase    time.Duration // first retry delay, doubled per attempt
}

func (o *Options) fillDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.Lookahead <= 0 {
		o.Lookahead = 5 * time.Minute
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// Refresher runs the periodic refresh loop and serves manual refresh
// requests with the same transitions. Concurrent refreshes of one account
// coalesce onto a single upstream call.
type Refresher struct {
	registry *registry.Registry
	upstream Upstream
	opts     Options

	mu       sync.Mutex
	inflight map[string]*refreshCall
}

func NewRefresher(reg *registry.Registry, up Upstream, opts Options) *Refresher {
	opts.fillDefaults()
	return &Refresher{
		registry: reg,
		upstream: up,
		opts:     opts,
		inflight: make(map[string]*refreshCall),
	}
}

// Start runs the scheduler loop until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
	log.Infof("token refresher started (interval %s, lookahead %s)", r.opts.Interval, r.opts.Lookahead)
}

// Tick refreshes every account whose token expires within the lookahead
// window or already did. Expired accounts are left alone: their refresh
// token was rejected and only a re-import fixes them. Accounts in error are
// retried every tick.
func (r *Refresher) Tick(ctx context.Context) {
	deadline := time.Now().Add(r.opts.Lookahead)

	var wg sync.WaitGroup
	for _, acc := range r.registry.List() {
		if acc.Status == registry.StatusExpired {
			continue
		}
		if acc.ExpiresAt.After(deadline) && acc.Status != registry.StatusError {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Refresh(ctx, id); err != nil {
				log.Warnf("scheduled refresh failed for %s: %v", id, err)
			}
		}(acc.ID)
	}
	wg.Wait()
}

// RefreshAll triggers a refresh for every account regardless of expiry. Used
// by the manual refresh-all endpoint.
func (r *Refresher) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, acc := range r.registry.List() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Refresh(ctx, id); err != nil {
				log.Warnf("refresh failed for %s: %v", id, err)
			}
		}(acc.ID)
	}
	wg.Wait()
}

// Refresh refreshes one account. If a refresh for the same account is
// already in flight the call joins it and returns that refresh's outcome
// instead of issuing a second upstream call.
func (r *Refresher) Refresh(ctx context.Context, id string) error {
	r.mu.Lock()
	if call, ok := r.inflight[id]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	r.inflight[id] = call
	r.mu.Unlock()

	call.err = r.doRefresh(ctx, id)

	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
	close(call.done)

	return call.err
}

// doRefresh drives one account through the state machine. Every exit path
// commits a terminal status; an account is never left in refreshing.
func (r *Refresher) doRefresh(ctx context.Context, id string) error {
	acc, err := r.registry.Get(id)
	if err != nil {
		return err
	}

	if _, err := r.registry.Update(id, func(a *models.Account) {
		a.Status = registry.StatusRefreshing
	}); err != nil && !errors.Is(err, registry.ErrPersistence) {
		return err
	}

	tok, refreshErr := r.attemptWithBackoff(ctx, acc)
	if refreshErr != nil {
		status := registry.StatusError
		var apiErr *upstream.APIError
		if errors.As(refreshErr, &apiErr) && apiErr.RefreshRejected() {
			// Invalid or revoked refresh token: terminal until re-import.
			status = registry.StatusExpired
		}
		r.commit(id, func(a *models.Account) {
			a.Status = status
			a.LastError = refreshErr.Error()
		})
		log.Warnf("refresh for %s (%s) failed: %v", acc.Label, id, refreshErr)
		return refreshErr
	}

	quota := r.fetchQuota(ctx, tok.AccessToken, acc.Idp)

	r.commit(id, func(a *models.Account) {
		a.Status = registry.StatusActive
		a.AccessToken = tok.AccessToken
		a.RefreshToken = tok.RefreshToken
		a.ExpiresAt = tok.Expiry
		a.LastError = ""
		if quota != nil && quota.Limit > 0 {
			a.QuotaUsed = quota.Used
			a.QuotaLimit = quota.Limit
		}
	})
	log.Infof("refreshed token for %s (%s), expires %s", acc.Label, id, tok.Expiry.Format(time.RFC3339))
	return nil
}

// attemptWithBackoff retries transient failures with exponential delay and
// gives up immediately on a rejection.
func (r *Refresher) attemptWithBackoff(ctx context.Context, acc models.Account) (*oauth2.Token, error) {
	var lastErr error
	delay := r.opts.BackoffBase

	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
		tok, err := r.upstream.RefreshCredentials(attemptCtx, acc)
		cancel()
		if err == nil {
			return tok, nil
		}
		lastErr = err

		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			return nil, err
		}
	}
	return nil, lastErr
}

// fetchQuota refreshes the account's usage snapshot, best effort.
func (r *Refresher) fetchQuota(ctx context.Context, accessToken, idp string) *upstream.QuotaSnapshot {
	quotaCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
	defer cancel()
	quota, err := r.upstream.FetchUsageLimits(quotaCtx, accessToken, idp)
	if err != nil {
		log.Debugf("usage fetch skipped: %v", err)
		return nil
	}
	return quota
}

// commit applies a status mutation; persistence failures are already logged
// by the registry and must not mask the refresh outcome.
func (r *Refresher) commit(id string, mutate func(*models.Account)) {
	if _, err := r.registry.Update(id, mutate); err != nil && !errors.Is(err, registry.ErrPersistence) {
		log.Warnf("refresh commit failed for %s: %v", id, err)
	}
}
