package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/focusroom/go/internal/room"
)

// DisplayState is the derived, render-ready view of the session clock.
type DisplayState struct {
	Remaining int
	Running   bool
}

// Ticker drives a client's local countdown display. It never writes to the
// store: once per second while running it recomputes the display as a pure
// function of the last-synced session record and the local clock, so the
// display self-corrects instead of accumulating drift. Feed it every pushed
// session record via Update; cancel the Run context on view teardown so the
// interval does not leak.
//
// The completion notice fires at most once per countdown cycle per client.
// Several members may each fire their own; that is the documented guarantee,
// not distributed exactly-once.
type Ticker struct {
	clock      clockwork.Clock
	onTick     func(DisplayState)
	onComplete func()

	mu            sync.Mutex
	sess          room.Session
	completeFired bool
}

// NewTicker creates a display ticker. Either callback may be nil.
func NewTicker(clock clockwork.Clock, onTick func(DisplayState), onComplete func()) *Ticker {
	return &Ticker{
		clock:      clock,
		onTick:     onTick,
		onComplete: onComplete,
	}
}

// Update replaces the session snapshot with a freshly pushed record and
// resynchronizes the display immediately rather than waiting for the next
// tick.
func (t *Ticker) Update(sess room.Session) {
	t.mu.Lock()
	t.sess = sess
	if !sess.Completed(t.clock.Now()) {
		// A record that is not in the completed condition begins a new
		// cycle; the next completion may notify again.
		t.completeFired = false
	}
	t.mu.Unlock()
	t.emit()
}

// Run emits display states until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.emit()
		}
	}
}

func (t *Ticker) emit() {
	now := t.clock.Now()

	t.mu.Lock()
	sess := t.sess
	state := DisplayState{
		Remaining: sess.Remaining(now),
		Running:   sess.Running(),
	}
	fireComplete := sess.Completed(now) && !t.completeFired
	if fireComplete {
		t.completeFired = true
	}
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(state)
	}
	if fireComplete && t.onComplete != nil {
		t.onComplete()
	}
}
