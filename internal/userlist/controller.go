package userlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakif/user-admin/internal/model"
)

// ErrClosed is returned by Flush once the controller has been closed.
var ErrClosed = errors.New("userlist: controller closed")

// Access is what the controller needs from the record access client.
// *directory.Client satisfies it.
type Access interface {
	ListUsers(ctx context.Context) ([]model.UserRecord, error)
	DeleteUser(ctx context.Context, email string) error
}

// Controller is the user list state machine. Create one with New, call Mount
// once the view is shown and Close when it goes away.
type Controller struct {
	access      Access
	logger      *slog.Logger
	clock       Clock
	callTimeout time.Duration

	// Intent queue. Guarded by mu; drained only by the loop goroutine.
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int

	latest atomic.Pointer[Snapshot]

	// Loop-owned state. Nothing outside the loop goroutine touches these.
	state         Snapshot
	mounted       bool
	pendingReload bool
	errTimer      Timer
	okTimer       Timer
	errGen        uint64
	okGen         uint64
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for message timers.
func WithClock(c Clock) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.clock = c
		}
	}
}

// WithCallTimeout bounds each access call. Zero (the default) means calls
// run until the transport gives up.
func WithCallTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.callTimeout = d
		}
	}
}

// New creates a controller and starts its loop. No request is made until
// Mount.
func New(access Access, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		access:  access,
		logger:  logger,
		clock:   RealClock(),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		state:   Snapshot{Records: []model.UserRecord{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	initial := c.state
	c.latest.Store(&initial)

	go c.run()
	return c
}

// =========================================================================
// INTENTS
// =========================================================================
//
// Every intent only enqueues work, so it never blocks and is safe to call
// from inside a subscriber.

// Mount starts the initial load. Later calls do nothing, and so does a
// Mount that arrives while a reload started by Refresh is still outstanding.
func (c *Controller) Mount() {
	c.enqueue(func() {
		if c.mounted {
			return
		}
		c.mounted = true
		if c.state.Loading {
			return
		}
		c.startReload(true)
	})
}

// Refresh reloads the list unless a reload is already outstanding.
func (c *Controller) Refresh() {
	c.enqueue(func() {
		if c.state.Loading {
			c.logger.Debug("refresh ignored: reload in flight")
			return
		}
		c.startReload(true)
	})
}

// DeleteByEmail asks the directory to delete the account, whether or not a
// reload is in flight. Success reloads the list; the record is never removed
// locally.
func (c *Controller) DeleteByEmail(email string) {
	c.enqueue(func() {
		c.logger.Info("deleting user", slog.String("email", email))
		c.call(func(ctx context.Context) func() {
			err := c.access.DeleteUser(ctx, email)
			return func() { c.finishDelete(email, err) }
		})
	})
}

// SetSearchTerm updates the filter. It never touches the network.
func (c *Controller) SetSearchTerm(term string) {
	c.enqueue(func() {
		if c.state.SearchTerm == term {
			return
		}
		c.state.SearchTerm = term
		c.publish()
	})
}

// DismissError hides the error message.
func (c *Controller) DismissError() {
	c.enqueue(func() {
		if c.clearError() {
			c.publish()
		}
	})
}

// DismissSuccess hides the success message.
func (c *Controller) DismissSuccess() {
	c.enqueue(func() {
		if c.clearSuccess() {
			c.publish()
		}
	})
}

// =========================================================================
// OBSERVATION
// =========================================================================

// Snapshot returns the latest state. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	return *c.latest.Load()
}

// Subscribe registers fn to receive every new snapshot, in mutation order,
// on the controller's loop goroutine. fn must not block; it may dispatch
// intents. The returned func removes the subscription.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

// Flush blocks until every intent dispatched before it has been applied.
// It does not wait for network calls those intents started, and it must not
// be called from a subscriber.
func (c *Controller) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !c.enqueue(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and the message timers. In-flight calls still run to
// completion, but their results are dropped. Close does not wait; use Done
// for that.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	close(c.quit)
}

// Done is closed once the loop has exited and its timers are stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

// =========================================================================
// LOOP
// =========================================================================

func (c *Controller) enqueue(op func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, op)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Controller) run() {
	defer close(c.stopped)
	defer c.stopTimers()

	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			ops := c.queue
			c.queue = nil
			c.mu.Unlock()

			if len(ops) == 0 {
				break
			}
			for _, op := range ops {
				if c.isClosed() {
					return
				}
				op()
			}
		}
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// call runs fn off the loop. fn returns the completion to apply back on the
// loop; after Close the completion is dropped.
func (c *Controller) call(fn func(ctx context.Context) func()) {
	go func() {
		ctx := context.Background()
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
		c.enqueue(fn(ctx))
	}()
}

// publish stores the new snapshot and notifies subscribers synchronously.
func (c *Controller) publish() {
	c.state.Version++
	snap := c.state
	c.latest.Store(&snap)

	c.subMu.Lock()
	subs := slices.Clone(c.subs)
	c.subMu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}

// =========================================================================
// TRANSITIONS
// =========================================================================

// startReload enters loading and issues ListUsers. clearSuccess is false for
// the reload that follows a delete, so its success message stays visible.
func (c *Controller) startReload(clearSuccess bool) {
	c.state.Loading = true
	c.clearError()
	if clearSuccess {
		c.clearSuccess()
	}
	c.publish()

	c.call(func(ctx context.Context) func() {
		records, err := c.access.ListUsers(ctx)
		return func() { c.finishReload(records, err) }
	})
}

func (c *Controller) finishReload(records []model.UserRecord, err error) {
	// A delete finished while this reload was outstanding, so its result may
	// predate the delete. Stay loading and go again; subscribers never see
	// this result as loaded.
	if c.pendingReload {
		c.pendingReload = false
		if err != nil {
			c.logger.Debug("superseded reload failed", slog.String("error", err.Error()))
		} else if records != nil {
			c.state.Records = records
		}
		c.startReload(false)
		return
	}

	c.state.Loading = false
	if err != nil {
		c.logger.Warn("failed to load users", slog.String("error", err.Error()))
		c.setError(MsgLoadFailed)
	} else {
		if records == nil {
			records = []model.UserRecord{}
		}
		c.state.Records = records
		c.clearError()
		c.logger.Debug("users loaded", slog.Int("count", len(records)))
	}
	c.publish()
}

func (c *Controller) finishDelete(email string, err error) {
	if err != nil {
		c.logger.Warn("failed to delete user",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		c.setError(MsgDeleteFailed)
		c.publish()
		return
	}

	c.logger.Info("user deleted", slog.String("email", email))
	c.setSuccess(MsgDeleted)
	if c.state.Loading {
		c.pendingReload = true
		c.publish()
		return
	}
	c.publish()
	c.startReload(false)
}

// =========================================================================
// MESSAGES
// =========================================================================
//
// Each message has its own timer. Setting a message restarts it; the
// generation counter makes a timer that fires after being replaced a no-op.

func (c *Controller) setError(msg string) {
	c.state.ErrorMessage = msg
	c.errGen++
	gen := c.errGen
	if c.errTimer != nil {
		c.errTimer.Stop()
	}
	c.errTimer = c.clock.AfterFunc(ErrorDisplayDuration, func() {
		c.enqueue(func() {
			if c.errGen == gen && c.clearError() {
				c.publish()
			}
		})
	})
}

func (c *Controller) setSuccess(msg string) {
	c.state.SuccessMessage = msg
	c.okGen++
	gen := c.okGen
	if c.okTimer != nil {
		c.okTimer.Stop()
	}
	c.okTimer = c.clock.AfterFunc(SuccessDisplayDuration, func() {
		c.enqueue(func() {
			if c.okGen == gen && c.clearSuccess() {
				c.publish()
			}
		})
	})
}

// clearError reports whether there was a message to clear.
func (c *Controller) clearError() bool {
	if c.errTimer != nil {
		c.errTimer.Stop()
		c.errTimer = nil
	}
	c.errGen++
	if c.state.ErrorMessage == "" {
		return false
	}
	c.state.ErrorMessage = ""
	return true
}

func (c *Controller) clearSuccess() bool {
	if c.okTimer != nil {
		c.okTimer.Stop()
		c.okTimer = nil
	}
	c.okGen++
	if c.state.SuccessMessage == "" {
		return false
	}
	c.state.SuccessMessage = ""
	return true
}

func (c *Controller) stopTimers() {
	if c.errTimer != nil {
		c.errTimer.Stop()
	}
	if c.okTimer != nil {
		c.okTimer.Stop()
	}
}
