package lockmgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

type waiter struct {
	req     *Record // tentative lock the waiter wants
	ready   chan struct{}
	granted bool
}

// Manager is the file-locking subsystem: per-path lock records, a FIFO
// wait queue per path, and a wait-for graph used to refuse deadlocking
// acquisitions before they ever sleep.
type Manager struct {
	mu      sync.Mutex
	locks   map[string][]*Record
	waiters map[string][]*waiter
	graph   *waitForGraph
}

// New creates an empty lock manager.
func New() *Manager {
	return &Manager{
		locks:   make(map[string][]*Record),
		waiters: make(map[string][]*waiter),
		graph:   newWaitForGraph(),
	}
}

// Acquire attempts to acquire a lock of lockType on path for owner,
// blocking (subject to deadline and ctx) until compatible. It returns the
// lock's fresh ID on success.
func (m *Manager) Acquire(ctx context.Context, path, owner string, lockType LockType, rng *Range, deadline time.Duration) (string, error) {
	var d time.Time
	if deadline > 0 {
		d = time.Now().Add(deadline)
	}

	for {
		m.mu.Lock()
		candidate := &Record{
			ID: uuid.NewString(), OwnerID: owner, Path: path, Type: lockType, Range: rng,
		}

		holders := m.locks[path]
		var blockers []*Record
		for _, h := range holders {
			if conflicts(candidate, h) {
				blockers = append(blockers, h)
			}
		}

		if len(blockers) == 0 {
			candidate.AcquiredAt = time.Now()
			m.locks[path] = append(m.locks[path], candidate)
			m.graph.addOwnership(owner, path)
			m.graph.clearBlocked(owner)
			m.mu.Unlock()
			return candidate.ID, nil
		}

		blockedBehind := make([]string, 0, len(blockers))
		for _, b := range blockers {
			blockedBehind = append(blockedBehind, b.OwnerID)
		}
		if m.graph.wouldCycle(owner, blockedBehind) {
			m.mu.Unlock()
			return "", shadowerrors.New(shadowerrors.ErrCodeDeadlockRefused, "acquiring this lock would deadlock").
				WithPath(path).WithComponent("lockmgr")
		}
		m.graph.setBlocked(owner, blockedBehind)

		w := &waiter{req: candidate, ready: make(chan struct{})}
		m.waiters[path] = append(m.waiters[path], w)
		m.mu.Unlock()

		if !waitFor(ctx, w.ready, d) {
			m.dequeueWaiter(path, w)
			m.mu.Lock()
			m.graph.clearBlocked(owner)
			m.mu.Unlock()
			if ctx.Err() != nil {
				return "", shadowerrors.New(shadowerrors.ErrCodeCancelled, "lock acquisition cancelled").
					WithPath(path).WithComponent("lockmgr")
			}
			return "", shadowerrors.New(shadowerrors.ErrCodeLockTimeout, "timed out waiting for lock").
				WithPath(path).WithComponent("lockmgr")
		}
		// signalled: retry the compatibility check from the top, since
		// another waiter may have been granted the path in between.
	}
}

func waitFor(ctx context.Context, ready <-chan struct{}, deadline time.Time) bool {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-ready:
		return true
	case <-timeoutCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) dequeueWaiter(path string, target *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.waiters[path]
	for i, w := range ws {
		if w == target {
			m.waiters[path] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

// Release removes lockID from path's lock set, drops its ownership
// edges, and wakes every now-compatible waiter in FIFO order.
func (m *Manager) Release(path, lockID string) error {
	m.mu.Lock()
	locks := m.locks[path]
	idx := -1
	for i, l := range locks {
		if l.ID == lockID {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return shadowerrors.New(shadowerrors.ErrCodeNotFound, "lock not held").WithPath(path).WithComponent("lockmgr")
	}
	owner := locks[idx].OwnerID
	m.locks[path] = append(locks[:idx], locks[idx+1:]...)
	m.graph.removeOwnership(owner, path)
	m.mu.Unlock()

	m.wakeCompatibleWaiters(path)
	return nil
}

// ReleaseAll releases every lock owner currently holds, across every
// path.
func (m *Manager) ReleaseAll(owner string) {
	m.mu.Lock()
	var toRelease []struct{ path, id string }
	for path, locks := range m.locks {
		for _, l := range locks {
			if l.OwnerID == owner {
				toRelease = append(toRelease, struct{ path, id string }{path, l.ID})
			}
		}
	}
	m.mu.Unlock()

	for _, r := range toRelease {
		_ = m.Release(r.path, r.id)
	}
}

// wakeCompatibleWaiters re-scans path's FIFO wait queue, removing and
// signalling every waiter whose request is now compatible with the
// remaining holders, stopping at the first incompatible one (later,
// differently-typed waiters must not jump the FIFO queue ahead of an
// earlier blocked waiter). A signalled waiter re-runs its compatibility
// check in Acquire and records its lock there.
func (m *Manager) wakeCompatibleWaiters(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws := m.waiters[path]
	var remaining []*waiter
	for i, w := range ws {
		if w.granted {
			continue
		}
		holders := m.locks[path]
		compatible := true
		for _, h := range holders {
			if conflicts(w.req, h) {
				compatible = false
				break
			}
		}
		if !compatible {
			remaining = append(remaining, ws[i:]...)
			break
		}
		w.granted = true
		close(w.ready)
	}
	m.waiters[path] = remaining
}

// Upgrade converts a shared lock to exclusive iff no other owner
// currently holds an overlapping-range lock on the path.
func (m *Manager) Upgrade(path, lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	locks := m.locks[path]
	var target *Record
	for _, l := range locks {
		if l.ID == lockID {
			target = l
			break
		}
	}
	if target == nil {
		return shadowerrors.New(shadowerrors.ErrCodeNotFound, "lock not held").WithPath(path).WithComponent("lockmgr")
	}
	for _, l := range locks {
		if l == target || l.OwnerID == target.OwnerID {
			continue
		}
		if Overlaps(l.Range, target.Range) {
			return shadowerrors.New(shadowerrors.ErrCodeLockTimeout, "cannot upgrade: overlapping lock held by another owner").
				WithPath(path).WithComponent("lockmgr")
		}
	}
	target.Type = Exclusive
	return nil
}

// Downgrade converts an exclusive lock to shared. This always succeeds
// and triggers a wait-queue scan since a shared lock may unblock other
// shared waiters.
func (m *Manager) Downgrade(path, lockID string) error {
	m.mu.Lock()
	locks := m.locks[path]
	found := false
	for _, l := range locks {
		if l.ID == lockID {
			l.Type = Shared
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return shadowerrors.New(shadowerrors.ErrCodeNotFound, "lock not held").WithPath(path).WithComponent("lockmgr")
	}
	m.wakeCompatibleWaiters(path)
	return nil
}
