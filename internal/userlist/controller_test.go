package userlist

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/user-admin/internal/apperror"
	"github.com/sakif/user-admin/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeAccess is an in-memory directory. When gated, each ListUsers call
// captures the records at call time and then waits for release().
type fakeAccess struct {
	mu          sync.Mutex
	records     []model.UserRecord
	listErr     error
	deleteErr   error
	listCalls   int
	deleteCalls int
	gated       bool
	gate        chan struct{}
}

func newFakeAccess(records ...model.UserRecord) *fakeAccess {
	return &fakeAccess{
		records: records,
		gate:    make(chan struct{}, 16),
	}
}

func (f *fakeAccess) ListUsers(_ context.Context) ([]model.UserRecord, error) {
	f.mu.Lock()
	f.listCalls++
	out := append([]model.UserRecord{}, f.records...)
	err := f.listErr
	gated := f.gated
	f.mu.Unlock()

	if gated {
		<-f.gate
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeAccess) DeleteUser(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, r := range f.records {
		if r.Email == email {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return apperror.Transport("delete user", errors.New("unexpected status 404"))
}

func (f *fakeAccess) setGated(v bool) {
	f.mu.Lock()
	f.gated = v
	f.mu.Unlock()
}

func (f *fakeAccess) release() { f.gate <- struct{}{} }

func (f *fakeAccess) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeAccess) setDeleteErr(err error) {
	f.mu.Lock()
	f.deleteErr = err
	f.mu.Unlock()
}

func (f *fakeAccess) calls() (list, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.deleteCalls
}

// fakeClock fires timers only when the test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// =========================================================================
// HELPERS
// =========================================================================

var threeUsers = []model.UserRecord{
	{Name: "Ada Lovelace", Email: "ada@example.com", Provider: "google", CreatedAt: "2024-01-01T00:00:00Z"},
	{Name: "Grace Hopper", Email: "grace@example.com", Provider: "github", CreatedAt: "2024-01-02T00:00:00Z"},
	{Name: "Alan Turing", Email: "alan@example.com", Provider: "email", CreatedAt: "2024-01-03T00:00:00Z"},
}

func newTestController(t *testing.T, access *fakeAccess) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctl := New(access, logger, WithClock(clock))
	t.Cleanup(ctl.Close)
	return ctl, clock
}

// waitFor polls the latest snapshot until cond holds.
func waitFor(t *testing.T, ctl *Controller, msg string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(ctl.Snapshot()) }, 2*time.Second, time.Millisecond, msg)
	return ctl.Snapshot()
}

func flush(t *testing.T, ctl *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctl.Flush(ctx))
}

func loaded(n int) func(Snapshot) bool {
	return func(s Snapshot) bool { return !s.Loading && len(s.Records) == n }
}

func emails(records []model.UserRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Email)
	}
	return out
}

// =========================================================================
// SCENARIOS
// =========================================================================

func TestScenario_MountSearchDelete(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	snap := waitFor(t, ctl, "initial load", loaded(3))
	assert.Empty(t, snap.ErrorMessage)
	assert.Empty(t, snap.SuccessMessage)

	ctl.SetSearchTerm("google")
	flush(t, ctl)
	visible := ctl.Snapshot().Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "ada@example.com", visible[0].Email)

	ctl.DeleteByEmail("ada@example.com")
	snap = waitFor(t, ctl, "reload after delete", func(s Snapshot) bool {
		return !s.Loading && len(s.Records) == 2
	})
	assert.Equal(t, MsgDeleted, snap.SuccessMessage)
	assert.Equal(t, "google", snap.SearchTerm)
	assert.Empty(t, snap.Visible())
	assert.NotContains(t, emails(snap.Records), "ada@example.com")

	list, del := access.calls()
	assert.Equal(t, 2, list, "mount + exactly one reload after delete")
	assert.Equal(t, 1, del)
}

func TestScenario_LoadFailureAutoClears(t *testing.T) {
	access := newFakeAccess()
	access.setListErr(apperror.Transport("list users", errors.New("connection refused")))
	ctl, clock := newTestController(t, access)

	ctl.Mount()
	snap := waitFor(t, ctl, "load failure", func(s Snapshot) bool {
		return !s.Loading && s.ErrorMessage == MsgLoadFailed
	})
	assert.NotNil(t, snap.Records)
	assert.Empty(t, snap.Records)

	clock.Advance(ErrorDisplayDuration - time.Millisecond)
	flush(t, ctl)
	assert.Equal(t, MsgLoadFailed, ctl.Snapshot().ErrorMessage)

	clock.Advance(time.Millisecond)
	waitFor(t, ctl, "error auto-clear", func(s Snapshot) bool { return s.ErrorMessage == "" })
}

// =========================================================================
// RELOAD
// =========================================================================

func TestRefresh_IgnoredWhileLoading(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setGated(true)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "loading", func(s Snapshot) bool { return s.Loading })

	ctl.Refresh()
	ctl.Refresh()
	ctl.Mount()
	flush(t, ctl)

	list, _ := access.calls()
	assert.Equal(t, 1, list, "only one reload may be outstanding")

	access.release()
	waitFor(t, ctl, "load completes", loaded(3))

	list, _ = access.calls()
	assert.Equal(t, 1, list)
}

func TestRefresh_AfterLoadStartsNewReload(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.Refresh()
	waitFor(t, ctl, "second load", func(s Snapshot) bool {
		list, _ := access.calls()
		return list == 2 && !s.Loading
	})
}

func TestReloadFailure_KeepsRecords(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	before := waitFor(t, ctl, "initial load", loaded(3))

	access.setListErr(apperror.Transport("list users", errors.New("unexpected status 500")))
	ctl.Refresh()
	after := waitFor(t, ctl, "failed reload", func(s Snapshot) bool {
		return !s.Loading && s.ErrorMessage == MsgLoadFailed
	})

	assert.Equal(t, before.Records, after.Records)
}

func TestReloadSuccess_ClearsError(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setListErr(errors.New("down"))
	ctl, clock := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "load failure", func(s Snapshot) bool { return s.ErrorMessage == MsgLoadFailed })

	access.setListErr(nil)
	ctl.Refresh()
	snap := waitFor(t, ctl, "recovered", loaded(3))
	assert.Empty(t, snap.ErrorMessage)
	assert.Zero(t, clock.active(), "cleared message must not leave a timer behind")
}

// =========================================================================
// DELETE
// =========================================================================

func TestDelete_Failure(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	before := waitFor(t, ctl, "initial load", loaded(3))

	ctl.DeleteByEmail("nobody@example.com")
	after := waitFor(t, ctl, "delete failure", func(s Snapshot) bool { return s.ErrorMessage == MsgDeleteFailed })

	assert.Equal(t, before.Records, after.Records)
	assert.Empty(t, after.SuccessMessage)
	list, del := access.calls()
	assert.Equal(t, 1, list, "failed delete must not reload")
	assert.Equal(t, 1, del)
}

func TestDelete_TwiceSecondFails(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.DeleteByEmail("grace@example.com")
	waitFor(t, ctl, "first delete reloaded", loaded(2))

	ctl.DeleteByEmail("grace@example.com")
	waitFor(t, ctl, "second delete fails", func(s Snapshot) bool { return s.ErrorMessage == MsgDeleteFailed })
}

func TestDelete_NotBlockedByReload(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setGated(true)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "loading", func(s Snapshot) bool { return s.Loading })

	// The delete completes while the initial load is still outstanding.
	ctl.DeleteByEmail("ada@example.com")
	waitFor(t, ctl, "delete success", func(s Snapshot) bool { return s.SuccessMessage == MsgDeleted })

	var mu sync.Mutex
	var seen []Snapshot
	ctl.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	list, del := access.calls()
	assert.Equal(t, 1, list, "the follow-up reload waits for the outstanding one")
	assert.Equal(t, 1, del)

	// First load returns data captured before the delete.
	access.release()
	// Follow-up reload returns fresh data.
	access.release()

	snap := waitFor(t, ctl, "settled on post-delete data", loaded(2))
	assert.NotContains(t, emails(snap.Records), "ada@example.com")
	assert.Equal(t, MsgDeleted, snap.SuccessMessage)

	list, _ = access.calls()
	assert.Equal(t, 2, list)

	// The superseded result is never published as a settled list.
	mu.Lock()
	defer mu.Unlock()
	for _, s := range seen {
		if !s.Loading {
			assert.NotContains(t, emails(s.Records), "ada@example.com", "stale list shown as loaded at version %d", s.Version)
		}
	}
}

// =========================================================================
// MESSAGES
// =========================================================================

func TestSuccessMessage_AutoClears(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, clock := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.DeleteByEmail("alan@example.com")
	waitFor(t, ctl, "reloaded", func(s Snapshot) bool {
		return !s.Loading && len(s.Records) == 2 && s.SuccessMessage == MsgDeleted
	})

	clock.Advance(SuccessDisplayDuration - time.Millisecond)
	flush(t, ctl)
	assert.Equal(t, MsgDeleted, ctl.Snapshot().SuccessMessage)

	clock.Advance(time.Millisecond)
	waitFor(t, ctl, "success auto-clear", func(s Snapshot) bool { return s.SuccessMessage == "" })
}

func TestMessage_SettingAgainRestartsTimer(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setDeleteErr(errors.New("boom"))
	ctl, clock := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.DeleteByEmail("ada@example.com")
	first := waitFor(t, ctl, "first failure", func(s Snapshot) bool { return s.ErrorMessage == MsgDeleteFailed })

	clock.Advance(3 * time.Second)
	ctl.DeleteByEmail("ada@example.com")
	waitFor(t, ctl, "second failure", func(s Snapshot) bool {
		return s.ErrorMessage == MsgDeleteFailed && s.Version > first.Version
	})

	// The first timer would have fired here.
	clock.Advance(1500 * time.Millisecond)
	flush(t, ctl)
	assert.Equal(t, MsgDeleteFailed, ctl.Snapshot().ErrorMessage)

	clock.Advance(2500 * time.Millisecond)
	waitFor(t, ctl, "restarted timer fires", func(s Snapshot) bool { return s.ErrorMessage == "" })
}

func TestDismiss(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, clock := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.DeleteByEmail("ada@example.com")
	waitFor(t, ctl, "success", func(s Snapshot) bool { return !s.Loading && s.SuccessMessage == MsgDeleted })

	access.setDeleteErr(errors.New("boom"))
	ctl.DeleteByEmail("grace@example.com")
	waitFor(t, ctl, "error", func(s Snapshot) bool { return s.ErrorMessage == MsgDeleteFailed })

	ctl.DismissError()
	flush(t, ctl)
	snap := ctl.Snapshot()
	assert.Empty(t, snap.ErrorMessage)
	assert.Equal(t, MsgDeleted, snap.SuccessMessage)

	ctl.DismissSuccess()
	flush(t, ctl)
	assert.Empty(t, ctl.Snapshot().SuccessMessage)
	assert.Zero(t, clock.active())

	// Dismissing nothing changes nothing.
	version := ctl.Snapshot().Version
	ctl.DismissError()
	ctl.DismissSuccess()
	flush(t, ctl)
	assert.Equal(t, version, ctl.Snapshot().Version)
}

func TestRefresh_ClearsMessages(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.DeleteByEmail("ada@example.com")
	waitFor(t, ctl, "deleted", func(s Snapshot) bool { return !s.Loading && s.SuccessMessage == MsgDeleted })

	ctl.Refresh()
	snap := waitFor(t, ctl, "manual refresh", func(s Snapshot) bool {
		list, _ := access.calls()
		return list == 3 && !s.Loading
	})
	assert.Empty(t, snap.SuccessMessage)
}

// =========================================================================
// SEARCH
// =========================================================================

func TestSetSearchTerm_NoNetworkAndIdempotent(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))

	ctl.SetSearchTerm("git")
	flush(t, ctl)
	once := ctl.Snapshot()

	ctl.SetSearchTerm("git")
	flush(t, ctl)
	twice := ctl.Snapshot()

	assert.Equal(t, once.Rows(), twice.Rows())
	assert.Equal(t, once.Version, twice.Version)
	list, _ := access.calls()
	assert.Equal(t, 1, list)
}

func TestSetSearchTerm_WhileLoading(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setGated(true)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "loading", func(s Snapshot) bool { return s.Loading })

	ctl.SetSearchTerm("ada")
	waitFor(t, ctl, "term applied mid-load", func(s Snapshot) bool { return s.Loading && s.SearchTerm == "ada" })

	access.release()
	snap := waitFor(t, ctl, "load completes", loaded(3))
	assert.Len(t, snap.Visible(), 1)
}

// =========================================================================
// OBSERVATION & LIFECYCLE
// =========================================================================

func TestSubscribe_ReceivesEveryMutationInOrder(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	var mu sync.Mutex
	var seen []Snapshot
	unsubscribe := ctl.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))
	ctl.SetSearchTerm("x")
	flush(t, ctl)

	mu.Lock()
	require.Len(t, seen, 3)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.Len(t, seen[1].Records, 3)
	assert.Equal(t, "x", seen[2].SearchTerm)
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1].Version+1, seen[i].Version)
	}
	mu.Unlock()

	unsubscribe()
	ctl.SetSearchTerm("y")
	flush(t, ctl)

	mu.Lock()
	assert.Len(t, seen, 3, "no notification after unsubscribe")
	mu.Unlock()
}

func TestSubscribe_IntentFromSubscriber(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	var once sync.Once
	ctl.Subscribe(func(s Snapshot) {
		if !s.Loading && len(s.Records) == 3 {
			once.Do(func() { ctl.SetSearchTerm("grace") })
		}
	})

	ctl.Mount()
	snap := waitFor(t, ctl, "reentrant intent applied", func(s Snapshot) bool { return s.SearchTerm == "grace" })
	assert.Len(t, snap.Visible(), 1)
}

func TestMount_Twice(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	ctl, _ := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "initial load", loaded(3))
	ctl.Mount()
	flush(t, ctl)

	list, _ := access.calls()
	assert.Equal(t, 1, list)
}

func TestMount_AfterRefreshDoesNotStartSecondReload(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setGated(true)
	ctl, _ := newTestController(t, access)

	ctl.Refresh()
	ctl.Mount()
	flush(t, ctl)

	require.Eventually(t, func() bool { list, _ := access.calls(); return list == 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, ctl.Snapshot().Loading)

	access.release()
	waitFor(t, ctl, "loaded", loaded(3))
	list, _ := access.calls()
	assert.Equal(t, 1, list, "one reload outstanding")

	// Mount was consumed; it does not reload later either.
	ctl.Mount()
	flush(t, ctl)
	list, _ = access.calls()
	assert.Equal(t, 1, list)
}

func TestClose_DropsLateCompletions(t *testing.T) {
	access := newFakeAccess(threeUsers...)
	access.setGated(true)
	ctl, clock := newTestController(t, access)

	var mu sync.Mutex
	notified := 0
	ctl.Subscribe(func(Snapshot) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	ctl.Mount()
	waitFor(t, ctl, "loading", func(s Snapshot) bool { return s.Loading })

	ctl.Close()
	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	access.release()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, notified, "completion after Close must be a no-op")
	mu.Unlock()
	assert.True(t, ctl.Snapshot().Loading)
	assert.Zero(t, clock.active())

	assert.ErrorIs(t, ctl.Flush(context.Background()), ErrClosed)
}

func TestClose_StopsTimers(t *testing.T) {
	access := newFakeAccess()
	access.setListErr(errors.New("down"))
	ctl, clock := newTestController(t, access)

	ctl.Mount()
	waitFor(t, ctl, "load failure", func(s Snapshot) bool { return s.ErrorMessage == MsgLoadFailed })
	require.Equal(t, 1, clock.active())

	ctl.Close()
	<-ctl.Done()
	assert.Zero(t, clock.active())

	// Firing after teardown does nothing.
	clock.Advance(ErrorDisplayDuration)
	assert.Equal(t, MsgLoadFailed, ctl.Snapshot().ErrorMessage)
}
