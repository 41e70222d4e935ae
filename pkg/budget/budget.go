// Package budget provides the shared mutable resources of a worker tree:
// token/child quotas and scratch workspaces, addressed by opaque handles and
// mutated only through atomic operations.
package budget

import (
	"fmt"
	"sync"
)

var (
	// ErrChildLimit is returned when the child quota is exhausted.
	ErrChildLimit = fmt.Errorf("child limit exceeded")
	// ErrTokenBudget is returned when the token budget is exhausted.
	ErrTokenBudget = fmt.Errorf("token budget exceeded")
)

// Budget tracks token and child quotas shared across one request's worker tree.
// All mutation goes through its methods; the mutex serializes concurrent
// workers so callers never see a read-modify-write race.
type Budget struct {
	mu sync.Mutex

	maxChildren int
	childrenUsed int

	tokenBudget int
	tokensUsed  int

	exceeded bool
}

// NewBudget creates a budget with the given quotas. A zero tokenBudget means
// unlimited tokens; a zero maxChildren means no children may be spawned.
func NewBudget(maxChildren, tokenBudget int) *Budget {
	return &Budget{
		maxChildren: maxChildren,
		tokenBudget: tokenBudget,
	}
}

// ReserveChild atomically claims one child slot.
func (b *Budget) ReserveChild() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.childrenUsed >= b.maxChildren {
		return ErrChildLimit
	}
	b.childrenUsed++
	return nil
}

// ReserveChildren atomically claims n child slots, or none at all.
func (b *Budget) ReserveChildren(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.childrenUsed+n > b.maxChildren {
		return ErrChildLimit
	}
	b.childrenUsed += n
	return nil
}

// AddTokens records token usage. Once the budget is exhausted the exceeded
// flag latches; it gates future spawn decisions but never aborts running work.
func (b *Budget) AddTokens(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokensUsed += n
	if b.tokenBudget > 0 && b.tokensUsed > b.tokenBudget {
		b.exceeded = true
		return ErrTokenBudget
	}
	return nil
}

// Exceeded reports whether the token budget has been exhausted.
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

// RemainingChildren returns how many child slots are still available.
func (b *Budget) RemainingChildren() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxChildren - b.childrenUsed
}

// Usage returns a point-in-time snapshot of the counters.
func (b *Budget) Usage() (childrenUsed, maxChildren, tokensUsed, tokenBudget int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.childrenUsed, b.maxChildren, b.tokensUsed, b.tokenBudget
}
