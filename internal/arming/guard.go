// Package arming implements the tap-to-arm safety interlock. A Guard only
// arms after a fixed number of taps land inside one time window; a partial
// sequence is discarded when the window closes.
package arming

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultRequiredTaps = 3
	DefaultWindow       = 2500 * time.Millisecond
)

// Options configures a Guard.
type Options struct {
	RequiredTaps int
	Window       time.Duration
	Clock        clockwork.Clock

	// OnArmed is called exactly once per completed sequence.
	OnArmed func()
	// OnStatus receives progress and cancellation messages.
	OnStatus func(msg string)
}

// Guard counts taps for one command. It is safe for concurrent use.
// Callbacks run without the lock held and may call back into the Guard.
type Guard struct {
	name     string
	required int
	window   time.Duration
	clock    clockwork.Clock
	onArmed  func()
	onStatus func(string)

	mu          sync.Mutex
	taps        int
	windowStart time.Time
	armed       bool
	busy        bool
	timer       clockwork.Timer
	epoch       uint64 // bumped whenever the current window is abandoned
}

// New creates a Guard named after the command it protects.
func New(name string, opts Options) *Guard {
	if opts.RequiredTaps <= 0 {
		opts.RequiredTaps = DefaultRequiredTaps
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Guard{
		name:     name,
		required: opts.RequiredTaps,
		window:   opts.Window,
		clock:    opts.Clock,
		onArmed:  opts.OnArmed,
		onStatus: opts.OnStatus,
	}
}

// Name returns the command name the guard was created for.
func (g *Guard) Name() string { return g.name }

// Tap registers one confirmation signal. It returns false when the tap was
// ignored because the guard is busy or already armed.
func (g *Guard) Tap() bool {
	var (
		expired    int
		progress   int
		armedNow   bool
		windowOpen bool
	)

	g.mu.Lock()
	if g.busy || g.armed {
		g.mu.Unlock()
		slog.Debug("[ARM] tap ignored", "guard", g.name, "busy", g.busy, "armed", g.armed)
		return false
	}
	// The window may have closed before its timer got to run.
	if g.taps > 0 && g.clock.Since(g.windowStart) >= g.window {
		expired = g.taps
		g.clearLocked()
	}
	if g.taps == 0 {
		g.windowStart = g.clock.Now()
		epoch := g.epoch
		g.timer = g.clock.AfterFunc(g.window, func() { g.expire(epoch) })
		windowOpen = true
	}
	g.taps++
	if g.taps >= g.required {
		g.clearLocked()
		g.armed = true
		armedNow = true
	} else {
		progress = g.taps
	}
	g.mu.Unlock()

	if expired > 0 {
		g.cancelled(expired)
	}
	if windowOpen {
		slog.Debug("[ARM] window opened", "guard", g.name, "window", g.window)
	}
	if armedNow {
		slog.Info("[ARM] armed", "guard", g.name)
		if g.onArmed != nil {
			g.onArmed()
		}
		return true
	}
	g.status(fmt.Sprintf("%d/%d taps registered.", progress, g.required))
	return true
}

// SetBusy suppresses taps while busy. Becoming busy discards any progress
// and the armed flag; becoming idle again starts from zero taps.
func (g *Guard) SetBusy(busy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if busy {
		g.clearLocked()
		g.armed = false
	}
	g.busy = busy
}

// Reset returns the guard to idle and cancels a pending window timer. It is
// safe to call at any time.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearLocked()
	g.armed = false
}

// Armed reports whether the guard completed a sequence since the last reset.
func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Taps returns the taps counted in the current window.
func (g *Guard) Taps() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taps
}

// Busy reports whether taps are currently suppressed.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *Guard) expire(epoch uint64) {
	g.mu.Lock()
	if epoch != g.epoch || g.taps == 0 {
		g.mu.Unlock()
		return
	}
	n := g.taps
	g.clearLocked()
	g.mu.Unlock()

	g.cancelled(n)
}

func (g *Guard) cancelled(n int) {
	slog.Info("[ARM] sequence timed out", "guard", g.name, "taps", n, "required", g.required)
	g.status(fmt.Sprintf("Action cancelled (timed out): %d of %d taps.", n, g.required))
}

// clearLocked drops the current window. Callers must hold g.mu.
func (g *Guard) clearLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.epoch++
	g.taps = 0
	g.windowStart = time.Time{}
}

func (g *Guard) status(msg string) {
	if g.onStatus != nil {
		g.onStatus(msg)
	}
}
