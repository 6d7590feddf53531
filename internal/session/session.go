// Package session runs scans and materializations as background operations.
//
// At most one operation runs at a time: within a process the Manager tracks
// the active session, and across processes an advisory file lock next to the
// index database rejects a second writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/franz/media-sorter/internal/util"
)

// Kind names the operation a session runs
type Kind string

const (
	KindScan        Kind = "scan"
	KindMaterialize Kind = "materialize"
	KindMaintenance Kind = "maintenance" // label rename or delete
)

// State is the lifecycle state of a session
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// Progress is the latest counters published by the running operation
type Progress struct {
	Done        int
	Total       int // 0 when unknown
	Skipped     int
	Errors      int
	CurrentFile string
}

// Status is a point-in-time snapshot of a session
type Status struct {
	ID        string
	Kind      Kind
	Label     string
	State     State
	Progress  Progress
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Func is the body of an operation. It reports whether it stopped early
// because ctx was cancelled.
type Func func(ctx context.Context, s *Session) (stopped bool, err error)

// Session is a handle to one background operation
type Session struct {
	id        string
	kind      Kind
	label     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	state    State
	progress Progress
	endedAt  time.Time
	err      error
}

// ID returns the session's unique identifier
func (s *Session) ID() string { return s.id }

// Update publishes new progress counters
func (s *Session) Update(p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// Cancel requests cooperative cancellation. It does not wait.
func (s *Session) Cancel() {
	s.cancel()
}

// Wait blocks until the operation ends or ctx is done, then returns the final status
func (s *Session) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.done:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// Done is closed when the operation ends
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:        s.id,
		Kind:      s.kind,
		Label:     s.label,
		State:     s.state,
		Progress:  s.progress,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		Err:       s.err,
	}
}

func (s *Session) finish(stopped bool, err error) {
	s.mu.Lock()
	switch {
	case err != nil:
		s.state = StateFailed
		s.err = err
	case stopped:
		s.state = StateStopped
	default:
		s.state = StateDone
	}
	s.endedAt = time.Now()
	s.mu.Unlock()
	close(s.done)
}

// Manager admits one session at a time
type Manager struct {
	lockPath string
	lock     *flock.Flock

	mu     sync.Mutex
	active *Session
	last   *Session
}

// NewManager creates a Manager whose cross-process lock lives at dbPath + ".lock"
func NewManager(dbPath string) *Manager {
	lockPath := dbPath + ".lock"
	return &Manager{
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
}

// LockPath returns the path of the cross-process lock file
func (m *Manager) LockPath() string { return m.lockPath }

// Start runs fn in the background and returns its handle. It fails with
// util.ErrBusy if another operation is running in this or another process.
func (m *Manager) Start(ctx context.Context, kind Kind, label string, fn Func) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, fmt.Errorf("%w: %s of [%s] (session %s)", util.ErrBusy, m.active.kind, m.active.label, m.active.id)
	}

	ok, err := m.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", m.lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: lock %s is held by another process", util.ErrBusy, m.lockPath)
	}

	opCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.NewString(),
		kind:      kind,
		label:     label,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
	}
	m.active = s
	util.DebugLog("Session %s started: %s [%s]", s.id, kind, label)

	go func() {
		defer cancel()
		stopped, err := runSafely(opCtx, s, fn)

		m.mu.Lock()
		if uerr := m.lock.Unlock(); uerr != nil {
			util.WarnLog("Failed to release lock %s: %v", m.lockPath, uerr)
		}
		m.active = nil
		m.last = s
		m.mu.Unlock()

		s.finish(stopped, err)
		util.DebugLog("Session %s finished: %s", s.id, s.Status().State)
	}()

	return s, nil
}

func runSafely(ctx context.Context, s *Session, fn Func) (stopped bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return fn(ctx, s)
}

// Active returns the running session, or nil
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Current returns the running session, or the most recently finished one
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active
	}
	return m.last
}

// Locked reports whether any process currently holds the operation lock
func (m *Manager) Locked() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return true, nil
	}

	probe := flock.New(m.lockPath)
	ok, err := probe.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		probe.Unlock()
		return false, nil
	}
	return true, nil
}

// IsBusy reports whether err was caused by another running operation
func IsBusy(err error) bool {
	return errors.Is(err, util.ErrBusy)
}
