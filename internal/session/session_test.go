package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/franz/media-sorter/internal/util"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "index.db"))
}

func wait(t *testing.T, s *Session) Status {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("session did not finish: %v", err)
	}
	return st
}

func TestSessionCompletes(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Start(context.Background(), KindScan, "USB1", func(ctx context.Context, s *Session) (bool, error) {
		s.Update(Progress{Done: 3, Skipped: 1})
		return false, nil
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.ID() == "" {
		t.Error("expected a session ID")
	}

	st := wait(t, s)
	if st.State != StateDone || st.Progress.Done != 3 || st.Label != "USB1" || st.Kind != KindScan {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.EndedAt.Before(st.StartedAt) {
		t.Error("EndedAt before StartedAt")
	}
	if m.Current() != s {
		t.Error("Current should return the finished session")
	}
}

func TestSecondStartIsRejected(t *testing.T) {
	m := newTestManager(t)
	release := make(chan struct{})

	first, err := m.Start(context.Background(), KindScan, "A", func(ctx context.Context, s *Session) (bool, error) {
		<-release
		return false, nil
	})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	_, err = m.Start(context.Background(), KindMaterialize, "B", func(ctx context.Context, s *Session) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, util.ErrBusy) || !IsBusy(err) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if locked, _ := m.Locked(); !locked {
		t.Error("expected lock to be held")
	}

	close(release)
	wait(t, first)

	if m.Active() != nil {
		t.Error("no session should be active")
	}
	second, err := m.Start(context.Background(), KindMaterialize, "B", func(ctx context.Context, s *Session) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
	wait(t, second)
}

func TestLockRejectsOtherManager(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	a := NewManager(dbPath)
	b := NewManager(dbPath)
	release := make(chan struct{})

	s, err := a.Start(context.Background(), KindScan, "A", func(ctx context.Context, s *Session) (bool, error) {
		<-release
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Start(context.Background(), KindScan, "B", func(ctx context.Context, s *Session) (bool, error) {
		return false, nil
	}); !errors.Is(err, util.ErrBusy) {
		t.Errorf("expected ErrBusy from second manager, got %v", err)
	}

	close(release)
	wait(t, s)
}

func TestCancelStopsSession(t *testing.T) {
	m := newTestManager(t)
	started := make(chan struct{})

	s, err := m.Start(context.Background(), KindScan, "A", func(ctx context.Context, s *Session) (bool, error) {
		close(started)
		<-ctx.Done()
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if st := s.Status(); st.State != StateRunning {
		t.Errorf("expected running, got %s", st.State)
	}
	s.Cancel()

	if st := wait(t, s); st.State != StateStopped || st.Err != nil {
		t.Errorf("expected stopped without error, got %+v", st)
	}
}

func TestFailedSession(t *testing.T) {
	m := newTestManager(t)
	boom := errors.New("store unreachable")

	s, _ := m.Start(context.Background(), KindScan, "A", func(ctx context.Context, s *Session) (bool, error) {
		return false, boom
	})
	if st := wait(t, s); st.State != StateFailed || !errors.Is(st.Err, boom) {
		t.Errorf("expected failed state with error, got %+v", st)
	}

	s, _ = m.Start(context.Background(), KindScan, "A", func(ctx context.Context, s *Session) (bool, error) {
		panic("unexpected")
	})
	if st := wait(t, s); st.State != StateFailed || st.Err == nil {
		t.Errorf("expected panic to fail the session, got %+v", st)
	}
	if m.Active() != nil {
		t.Error("lock and slot must be released after a panic")
	}
}
