package token

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/kiro-nexus/internal/db/models"
	"github.com/pysugar/kiro-nexus/internal/registry"
	"github.com/pysugar/kiro-nexus/internal/upstream"
)

// fakeUpstream scripts refresh outcomes per account and counts calls.
type fakeUpstream struct {
	mu      sync.Mutex
	calls   int32
	errs    map[string]error
	quota   *upstream.QuotaSnapshot
	block   chan struct{} // when set, RefreshCredentials waits until closed
	expiry  time.Time
	newTok  string
	started chan struct{} // signalled once per call entering RefreshCredentials
}

func (f *fakeUpstream) RefreshCredentials(ctx context.Context, acc models.Account) (*oauth2.Token, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.errs[acc.ID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	tok := f.newTok
	if tok == "" {
		tok = "fresh-access"
	}
	expiry := f.expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return &oauth2.Token{
		AccessToken:  tok,
		RefreshToken: "fresh-refresh",
		Expiry:       expiry,
	}, nil
}

func (f *fakeUpstream) FetchUsageLimits(ctx context.Context, accessToken, idp string) (*upstream.QuotaSnapshot, error) {
	if f.quota == nil {
		return nil, errors.New("no quota")
	}
	return f.quota, nil
}

func newTestRegistry(accounts ...models.Account) *registry.Registry {
	return registry.New(accounts, nil)
}

func fastOptions() Options {
	return Options{
		Interval:       time.Hour,
		Lookahead:      5 * time.Minute,
		AttemptTimeout: time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
	}
}

func TestRefresh_SuccessCommitsNewCredentials(t *testing.T) {
	reg := newTestRegistry(models.Account{
		ID:        "a",
		Status:    registry.StatusActive,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	up := &fakeUpstream{quota: &upstream.QuotaSnapshot{Used: 12, Limit: 500}}
	r := NewRefresher(reg, up, fastOptions())

	if err := r.Refresh(context.Background(), "a"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	acc, _ := reg.Get("a")
	if acc.Status != registry.StatusActive {
		t.Errorf("expected active, got %s", acc.Status)
	}
	if acc.AccessToken != "fresh-access" || acc.RefreshToken != "fresh-refresh" {
		t.Errorf("credentials not committed: %q / %q", acc.AccessToken, acc.RefreshToken)
	}
	if acc.QuotaLimit != 500 || acc.QuotaUsed != 12 {
		t.Errorf("quota not committed: %v/%v", acc.QuotaUsed, acc.QuotaLimit)
	}
	if acc.LastError != "" {
		t.Errorf("stale error kept: %q", acc.LastError)
	}
}

func TestRefresh_RejectionMarksExpired(t *testing.T) {
	reg := newTestRegistry(models.Account{
		ID:        "a",
		Status:    registry.StatusActive,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	up := &fakeUpstream{errs: map[string]error{
		"a": &upstream.APIError{Status: http.StatusBadRequest, Message: "invalid_grant", Operation: "refresh"},
	}}
	r := NewRefresher(reg, up, fastOptions())

	if err := r.Refresh(context.Background(), "a"); err == nil {
		t.Fatal("expected refresh to fail")
	}

	acc, _ := reg.Get("a")
	if acc.Status != registry.StatusExpired {
		t.Errorf("expected expired, got %s", acc.Status)
	}
	if acc.LastError == "" {
		t.Error("last error not recorded")
	}
	if got := atomic.LoadInt32(&up.calls); got != 1 {
		t.Errorf("rejection must not be retried, got %d calls", got)
	}
}

func TestRefresh_TransientFailureRetriesThenErrors(t *testing.T) {
	reg := newTestRegistry(models.Account{
		ID:        "a",
		Status:    registry.StatusActive,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	up := &fakeUpstream{errs: map[string]error{
		"a": &upstream.APIError{Status: http.StatusBadGateway, Message: "upstream down", Operation: "refresh"},
	}}
	r := NewRefresher(reg, up, fastOptions())

	if err := r.Refresh(context.Background(), "a"); err == nil {
		t.Fatal("expected refresh to fail")
	}

	acc, _ := reg.Get("a")
	if acc.Status != registry.StatusError {
		t.Errorf("expected error status, got %s", acc.Status)
	}
	if got := atomic.LoadInt32(&up.calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRefresh_NeverLeavesRefreshing(t *testing.T) {
	reg := newTestRegistry(models.Account{
		ID:        "a",
		Status:    registry.StatusActive,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	up := &fakeUpstream{errs: map[string]error{"a": errors.New("network misbehaving")}}
	r := NewRefresher(reg, up, fastOptions())

	r.Refresh(context.Background(), "a")

	acc, _ := reg.Get("a")
	if acc.Status == registry.StatusRefreshing {
		t.Fatal("account stuck in refreshing after a failed refresh")
	}
}

func TestRefresh_ConcurrentCallsCoalesce(t *testing.T) {
	reg := newTestRegistry(models.Account{
		ID:        "a",
		Status:    registry.StatusActive,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	up := &fakeUpstream{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	r := NewRefresher(reg, up, fastOptions())

	var wg sync.WaitGroup
	errs := make([]error, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = r.Refresh(context.Background(), "a")
	}()
	<-up.started // the first call owns the upstream exchange

	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Refresh(context.Background(), "a")
		}(i)
	}
	time.Sleep(20 * time.Millisecond) // let the joiners park
	close(up.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&up.calls); got != 1 {
		t.Fatalf("expected one upstream call for 5 concurrent refreshes, got %d", got)
	}
}

func TestTick_RefreshesOnlyDueAccounts(t *testing.T) {
	reg := newTestRegistry(
		models.Account{ID: "due", Status: registry.StatusActive, ExpiresAt: time.Now().Add(time.Minute)},
		models.Account{ID: "fresh", Status: registry.StatusActive, ExpiresAt: time.Now().Add(2 * time.Hour)},
		models.Account{ID: "errored", Status: registry.StatusActive, ExpiresAt: time.Now().Add(2 * time.Hour)},
		models.Account{ID: "dead", Status: registry.StatusActive, ExpiresAt: time.Now().Add(-time.Hour)},
	)
	// Load normalizes to active/expired; these statuses arise at runtime.
	reg.Update("errored", func(a *models.Account) { a.Status = registry.StatusError })
	reg.Update("dead", func(a *models.Account) { a.Status = registry.StatusExpired })
	up := &fakeUpstream{}
	r := NewRefresher(reg, up, fastOptions())
	r.Tick(context.Background())

	if got := atomic.LoadInt32(&up.calls); got != 2 {
		t.Fatalf("expected due + errored accounts only (2 calls), got %d", got)
	}
	dead, _ := reg.Get("dead")
	if dead.Status != registry.StatusExpired {
		t.Errorf("expired account must be left alone, got %s", dead.Status)
	}
}

func TestRefresh_UnknownAccount(t *testing.T) {
	r := NewRefresher(newTestRegistry(), &fakeUpstream{}, fastOptions())
	if err := r.Refresh(context.Background(), "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefresh_QuotaFailureDoesNotFailRefresh(t *testing.T) {
	reg := newTestRegistry(models.Account{
		ID:        "a",
		Status:    registry.StatusActive,
		ExpiresAt: time.Now().Add(time.Minute),
		QuotaUsed: 3, QuotaLimit: 100,
	})
	up := &fakeUpstream{} // quota nil: FetchUsageLimits errors
	r := NewRefresher(reg, up, fastOptions())

	if err := r.Refresh(context.Background(), "a"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	acc, _ := reg.Get("a")
	if acc.QuotaLimit != 100 || acc.QuotaUsed != 3 {
		t.Errorf("quota should be left untouched on fetch failure, got %v/%v", acc.QuotaUsed, acc.QuotaLimit)
	}
}
