// Package registry holds the in-memory account pool. It is the single
// source of truth for credentials, machine identifiers and usage counters
// while the process runs; storage writes are best-effort for restart
// recovery.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pysugar/kiro-nexus/internal/db/models"
)

// Account status values. Tokens are mutated only by the refresher or an
// explicit manual refresh; everything else reads snapshots.
const (
	StatusActive     = "active"
	StatusRefreshing = "refreshing"
	StatusExpired    = "expired"
	StatusError      = "error"
)

var (
	ErrNotFound = errors.New("registry: account not found")
	// ErrPersistence wraps a failed write-through. The in-memory mutation
	// stands; callers log and carry on.
	ErrPersistence = errors.New("registry: persistence failure")
)

// Store is the durable collaborator. Only replace-one is needed after load.
type Store interface {
	ReplaceAccount(models.Account) error
}

type entry struct {
	mu       sync.Mutex
	acc      models.Account
	inFlight int
}

// Registry is the shared mutable account pool. Mutations to the same account
// serialize on a per-entry mutex; the map-level lock guards lookup only and
// is never held across storage or network calls.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*entry
	store    Store
}

// New builds a registry over the given snapshots. Status is normalized on
// load from the stored expiry alone: an expired token comes up as expired,
// everything else as active. A crash can leave "refreshing" on disk, and a
// transient error before shutdown should not keep an unexpired account
// benched until the next tick.
func New(accounts []models.Account, store Store) *Registry {
	r := &Registry{
		accounts: make(map[string]*entry, len(accounts)),
		store:    store,
	}
	for _, acc := range accounts {
		if acc.ExpiresAt.Before(time.Now()) {
			acc.Status = StatusExpired
		} else {
			acc.Status = StatusActive
		}
		r.accounts[acc.ID] = &entry{acc: acc}
	}
	log.Infof("registry: loaded %d accounts", len(accounts))
	return r
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.accounts[id]
	return e, ok
}

// List returns snapshots of every account, ordered by id.
func (r *Registry) List() []models.Account {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.accounts))
	for _, e := range r.accounts {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.acc)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a snapshot of one account.
func (r *Registry) Get(id string) (models.Account, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Account{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc, nil
}

// Update applies a mutation under the account's lock and writes the result
// through to storage. Identity fields cannot be changed: the machine
// identifier is bound once at import and the id is the map key. A failed
// storage write is reported via ErrPersistence but does not roll back the
// in-memory state.
func (r *Registry) Update(id string, mutate func(*models.Account)) (models.Account, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Account{}, ErrNotFound
	}

	e.mu.Lock()
	next := e.acc
	mutate(&next)
	// Immutable once assigned.
	next.ID = e.acc.ID
	next.MachineID = e.acc.MachineID
	next.CreatedAt = e.acc.CreatedAt
	next.UpdatedAt = time.Now()
	e.acc = next
	snapshot := next
	e.mu.Unlock()

	if r.store != nil {
		if err := r.store.ReplaceAccount(snapshot); err != nil {
			log.Warnf("registry: write-through failed for %s: %v", id, err)
			return snapshot, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return snapshot, nil
}

// RecordUsage bumps the account's usage counters and last-used timestamp.
// Best effort: a missing account or failed write never fails the request
// that already completed.
func (r *Registry) RecordUsage(id string, tokens int64) {
	_, err := r.Update(id, func(acc *models.Account) {
		acc.RequestCount++
		acc.TokenCount += tokens
		acc.LastUsedAt = time.Now()
	})
	if err != nil && !errors.Is(err, ErrPersistence) {
		log.Warnf("registry: usage update skipped for %s: %v", id, err)
	}
}

// AcquireInFlight marks one open exchange on the account. The marker is
// process-local and not persisted.
func (r *Registry) AcquireInFlight(id string) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	e.inFlight++
	e.mu.Unlock()
	return nil
}

// ReleaseInFlight releases one open exchange on the account.
func (r *Registry) ReleaseInFlight(id string) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.inFlight > 0 {
		e.inFlight--
	}
	e.mu.Unlock()
}

// InFlight reports the number of open exchanges on the account.
func (r *Registry) InFlight(id string) int {
	e, ok := r.lookup(id)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}
