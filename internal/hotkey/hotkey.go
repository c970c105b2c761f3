// Package hotkey provides global hotkeys for the remote using gohook.
// Each key combo is bound to a tap on one command, or to execute.
package hotkey

import (
	"strings"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/bleremote/internal/ble/protocol"
)

// Action identifies what a key combo does.
type Action int

const (
	// ActionTap feeds one tap to the guard of Event.Command.
	ActionTap Action = iota
	// ActionExecute sends the armed command.
	ActionExecute
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Action  Action
	Command protocol.Command // set for ActionTap
}

// Binding maps a key combo to an event.
type Binding struct {
	Keys  []string
	Event Event
}

func (b Binding) String() string {
	return strings.Join(b.Keys, "+")
}

// Bindings builds the standard open, close and execute bindings. A nil
// execute combo is skipped.
func Bindings(openKeys, closeKeys, executeKeys []string) []Binding {
	out := []Binding{
		{Keys: openKeys, Event: Event{Action: ActionTap, Command: protocol.CommandOpen}},
		{Keys: closeKeys, Event: Event{Action: ActionTap, Command: protocol.CommandClose}},
	}
	if len(executeKeys) > 0 {
		out = append(out, Binding{Keys: executeKeys, Event: Event{Action: ActionExecute}})
	}
	return out
}

// Listener manages the global hotkeys and emits events.
type Listener struct {
	bindings []Binding
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener for the given bindings.
// Keys should be lowercase key names (e.g., ["ctrl", "shift", "o"]).
func NewListener(bindings []Binding) *Listener {
	return &Listener{
		bindings: bindings,
		ch:       make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, b := range l.bindings {
		ev := b.Event
		hook.Register(hook.KeyDown, b.Keys, func(hook.Event) {
			l.emit(ev)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit never blocks the hook thread; a full channel drops the event.
func (l *Listener) emit(ev Event) bool {
	select {
	case l.ch <- ev:
		return true
	default:
		return false
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
