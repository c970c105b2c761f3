// Package remote ties the arming guards to the BLE session. It decides when
// a tap sequence may turn into a command on the wire.
package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/bleremote/internal/arming"
	"github.com/chaz8081/bleremote/internal/ble"
	"github.com/chaz8081/bleremote/internal/ble/protocol"
	"github.com/chaz8081/bleremote/internal/secret"
)

// Mode selects how a completed tap sequence is turned into a command.
type Mode string

const (
	// ModeArmExecute arms the command; Execute sends it.
	ModeArmExecute Mode = "arm_execute"
	// ModeTapToSend sends the command as soon as the sequence completes.
	ModeTapToSend Mode = "tap_to_send"
)

// DefaultDisarmAfter is how long an armed command waits for Execute.
const DefaultDisarmAfter = 5 * time.Second

var (
	ErrNotArmed    = errors.New("remote: nothing armed")
	ErrNotAttached = errors.New("remote: no link attached")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeArmExecute, ModeTapToSend:
		return m, nil
	case "":
		return ModeArmExecute, nil
	}
	return "", fmt.Errorf("remote: unknown mode %q (must be %q or %q)", s, ModeArmExecute, ModeTapToSend)
}

// Link is the part of *ble.Session the controller drives.
type Link interface {
	Start() error
	Stop()
	SendCommand(cmd protocol.Command) error
	RequestNonce() error
	Ready() bool
}

// Sink receives user-facing events. Armed is called with the armed command,
// or with "" once nothing is armed.
type Sink interface {
	ble.Sink
	Armed(cmd protocol.Command)
}

// Options configures a Controller.
type Options struct {
	Mode         Mode
	RequiredTaps int
	Window       time.Duration
	DisarmAfter  time.Duration
	Clock        clockwork.Clock
}

// Controller owns one guard per command and the armed-command slot. It
// implements ble.Sink so it can be handed to ble.NewSession.
type Controller struct {
	secrets secret.Provider
	sink    Sink
	opts    Options
	clock   clockwork.Clock
	guards  map[protocol.Command]*arming.Guard

	mu          sync.Mutex
	link        Link
	ready       bool
	armed       protocol.Command
	inFlight    bool
	disarmTimer clockwork.Timer
	disarmEpoch uint64
}

// NewController creates a controller. Call Attach before Start.
func NewController(secrets secret.Provider, sink Sink, opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = ModeArmExecute
	}
	if opts.DisarmAfter <= 0 {
		opts.DisarmAfter = DefaultDisarmAfter
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	c := &Controller{
		secrets: secrets,
		sink:    sink,
		opts:    opts,
		clock:   opts.Clock,
		guards:  make(map[protocol.Command]*arming.Guard, len(protocol.Commands)),
	}
	for _, cmd := range protocol.Commands {
		c.guards[cmd] = arming.New(string(cmd), arming.Options{
			RequiredTaps: opts.RequiredTaps,
			Window:       opts.Window,
			Clock:        opts.Clock,
			OnArmed:      func() { c.onArmed(cmd) },
			OnStatus:     c.Status,
		})
	}
	// Nothing is accepted until the link reports ready.
	c.refreshBusyLocked()
	return c
}

// Attach sets the link the controller sends through.
func (c *Controller) Attach(link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = link
}

// Start begins connecting. It refuses to run without a provisioned secret.
func (c *Controller) Start() error {
	if c.secrets == nil || !c.secrets.Exists() {
		c.Status("Please provision secret")
		return secret.ErrNoSecret
	}
	link, err := c.currentLink()
	if err != nil {
		return err
	}
	return link.Start()
}

// Rescan disarms and restarts the link.
func (c *Controller) Rescan() error {
	c.Disarm()
	return c.Start()
}

// Stop disarms, cancels pending timers and stops the link.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.clearArmedLocked()
	c.ready = false
	c.refreshBusyLocked()
	link := c.link
	c.mu.Unlock()

	for _, g := range c.guards {
		g.Reset()
	}
	if link != nil {
		link.Stop()
	}
}

// Tap feeds one confirmation signal to the guard of cmd.
func (c *Controller) Tap(cmd protocol.Command) error {
	g, ok := c.guards[cmd]
	if !ok {
		return fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, cmd)
	}
	if !g.Tap() {
		slog.Debug("[REMOTE] tap ignored", "command", cmd)
	}
	return nil
}

// Execute sends the armed command.
func (c *Controller) Execute() error {
	c.mu.Lock()
	cmd := c.armed
	if cmd == "" {
		c.mu.Unlock()
		c.Status("Nothing armed.")
		return ErrNotArmed
	}
	c.clearArmedLocked()
	c.mu.Unlock()

	c.sink.Armed("")
	return c.send(cmd)
}

// Disarm drops an armed command and any tap progress.
func (c *Controller) Disarm() {
	c.mu.Lock()
	wasArmed := c.armed != ""
	c.clearArmedLocked()
	c.refreshBusyLocked()
	c.mu.Unlock()

	for _, g := range c.guards {
		g.Reset()
	}
	if wasArmed {
		slog.Info("[REMOTE] disarmed")
		c.sink.Armed("")
		c.Status("Disarmed.")
	}
}

// RequestNonce asks the link for a new nonce.
func (c *Controller) RequestNonce() error {
	link, err := c.currentLink()
	if err != nil {
		return err
	}
	return link.RequestNonce()
}

// Armed returns the armed command, or "" when nothing is armed.
func (c *Controller) Armed() protocol.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Busy reports whether taps are currently suppressed.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

// Guard returns the guard protecting cmd.
func (c *Controller) Guard(cmd protocol.Command) *arming.Guard {
	return c.guards[cmd]
}

// Status forwards a session or guard status line.
func (c *Controller) Status(msg string) {
	c.sink.Status(msg)
}

// Error forwards a session error.
func (c *Controller) Error(err error) {
	c.sink.Error(err)
}

// Ready tracks link readiness. Losing the link disarms.
func (c *Controller) Ready(ready bool) {
	c.mu.Lock()
	c.ready = ready
	wasArmed := !ready && c.armed != ""
	if wasArmed {
		c.clearArmedLocked()
	}
	c.refreshBusyLocked()
	c.mu.Unlock()

	if wasArmed {
		slog.Info("[REMOTE] link lost while armed, disarming")
		c.sink.Armed("")
	}
	c.sink.Ready(ready)
}

func (c *Controller) onArmed(cmd protocol.Command) {
	if c.opts.Mode == ModeTapToSend {
		_ = c.send(cmd)
		return
	}

	c.mu.Lock()
	if c.armed != "" || !c.ready {
		c.mu.Unlock()
		return
	}
	c.armed = cmd
	c.disarmEpoch++
	epoch := c.disarmEpoch
	c.disarmTimer = c.clock.AfterFunc(c.opts.DisarmAfter, func() { c.autoDisarm(epoch) })
	c.refreshBusyLocked()
	c.mu.Unlock()

	slog.Info("[REMOTE] armed", "command", cmd, "disarm_after", c.opts.DisarmAfter)
	c.sink.Armed(cmd)
	c.Status("Armed! Press Execute.")
}

func (c *Controller) autoDisarm(epoch uint64) {
	c.mu.Lock()
	if epoch != c.disarmEpoch || c.armed == "" {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Disarm()
}

func (c *Controller) send(cmd protocol.Command) error {
	c.mu.Lock()
	link := c.link
	if link == nil {
		c.mu.Unlock()
		return ErrNotAttached
	}
	c.inFlight = true
	c.refreshBusyLocked()
	c.mu.Unlock()

	err := link.SendCommand(cmd)

	c.mu.Lock()
	c.inFlight = false
	// The session drops readiness when it spends the nonce; do not wait for
	// the Ready callback to keep the guards closed.
	c.ready = c.ready && link.Ready()
	c.refreshBusyLocked()
	c.mu.Unlock()

	if err != nil {
		slog.Warn("[REMOTE] send failed", "command", cmd, "error", err)
		return err
	}
	slog.Info("[REMOTE] command sent", "command", cmd)
	return nil
}

func (c *Controller) currentLink() (Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil, ErrNotAttached
	}
	return c.link, nil
}

func (c *Controller) clearArmedLocked() {
	if c.disarmTimer != nil {
		c.disarmTimer.Stop()
		c.disarmTimer = nil
	}
	c.disarmEpoch++
	c.armed = ""
}

func (c *Controller) busyLocked() bool {
	return !c.ready || c.armed != "" || c.inFlight
}

func (c *Controller) refreshBusyLocked() {
	busy := c.busyLocked()
	for _, g := range c.guards {
		g.SetBusy(busy)
	}
}

var _ ble.Sink = (*Controller)(nil)
