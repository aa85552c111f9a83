package registry

import (
	"errors"
	"sort"
	"time"

	"github.com/pysugar/kiro-nexus/internal/db/models"
)

// ErrNoEligibleAccount means the pool is empty or every account failed
// eligibility. Callers surface this as a retryable service-unavailable
// condition, never a crash.
var ErrNoEligibleAccount = errors.New("registry: no eligible account")

// expirySkew keeps the selector from handing out a token that will expire
// mid-request.
const expirySkew = time.Minute

// Selector picks the best currently-eligible account for a request. It never
// mutates usage counters; the recorder does that after the attempt started,
// so requests that die before reaching upstream do not bias selection.
type Selector struct {
	registry *Registry

	// MinQuotaRemaining excludes accounts whose known remaining quota falls
	// below this value. Zero disables the check.
	MinQuotaRemaining float64
}

func NewSelector(r *Registry, minQuotaRemaining float64) *Selector {
	return &Selector{registry: r, MinQuotaRemaining: minQuotaRemaining}
}

// Select returns the eligible account with the lowest recent usage. Ties go
// to the account used least recently, then to the smallest id so the result
// is deterministic.
func (s *Selector) Select() (models.Account, error) {
	now := time.Now()
	var eligible []models.Account
	for _, acc := range s.registry.List() {
		if !s.eligible(acc, now) {
			continue
		}
		eligible = append(eligible, acc)
	}
	if len(eligible) == 0 {
		return models.Account{}, ErrNoEligibleAccount
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.RequestCount != b.RequestCount {
			return a.RequestCount < b.RequestCount
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		return a.ID < b.ID
	})
	return eligible[0], nil
}

func (s *Selector) eligible(acc models.Account, now time.Time) bool {
	if acc.Status != StatusActive {
		return false
	}
	if !acc.ExpiresAt.After(now.Add(expirySkew)) {
		return false
	}
	if s.MinQuotaRemaining > 0 && acc.QuotaLimit > 0 {
		if acc.QuotaLimit-acc.QuotaUsed < s.MinQuotaRemaining {
			return false
		}
	}
	return true
}
