package services

import "sync"

// PortfolioLocker hands out one RWMutex per portfolio. Reconciliation takes
// the write side for the whole sync so a concurrent valuation never reads a
// half-updated holding; valuations take the read side and may run in parallel
// with each other.
type PortfolioLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.RWMutex
}

func NewPortfolioLocker() *PortfolioLocker {
	return &PortfolioLocker{locks: make(map[int64]*sync.RWMutex)}
}

func (l *PortfolioLocker) get(portfolioID int64) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[portfolioID]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[portfolioID] = lock
	}
	return lock
}

// Lock takes the exclusive lock, blocking until it is free. Ledger writes use
// this; only reconciliation uses the non-blocking TryLockSync variant.
func (l *PortfolioLocker) Lock(portfolioID int64) {
	l.get(portfolioID).Lock()
}

// Unlock releases the exclusive lock.
func (l *PortfolioLocker) Unlock(portfolioID int64) {
	l.get(portfolioID).Unlock()
}

// TryLockSync attempts to take the exclusive sync lock without blocking.
// It returns false when a sync already holds it.
func (l *PortfolioLocker) TryLockSync(portfolioID int64) bool {
	return l.get(portfolioID).TryLock()
}

// RLock takes the shared read lock used by valuation.
func (l *PortfolioLocker) RLock(portfolioID int64) {
	l.get(portfolioID).RLock()
}

// RUnlock releases the shared read lock.
func (l *PortfolioLocker) RUnlock(portfolioID int64) {
	l.get(portfolioID).RUnlock()
}
