package hotkey

import (
	"testing"

	"github.com/chaz8081/bleremote/internal/ble/protocol"
)

func TestBindings(t *testing.T) {
	b := Bindings([]string{"ctrl", "o"}, []string{"ctrl", "c"}, []string{"ctrl", "x"})
	if len(b) != 3 {
		t.Fatalf("len(Bindings) = %d, want 3", len(b))
	}

	tests := []struct {
		keys    string
		action  Action
		command protocol.Command
	}{
		{"ctrl+o", ActionTap, protocol.CommandOpen},
		{"ctrl+c", ActionTap, protocol.CommandClose},
		{"ctrl+x", ActionExecute, ""},
	}
	for i, tt := range tests {
		if got := b[i].String(); got != tt.keys {
			t.Errorf("binding %d keys = %q, want %q", i, got, tt.keys)
		}
		if b[i].Event.Action != tt.action || b[i].Event.Command != tt.command {
			t.Errorf("binding %d event = %+v, want {%v %q}", i, b[i].Event, tt.action, tt.command)
		}
	}
}

func TestBindingsWithoutExecute(t *testing.T) {
	b := Bindings([]string{"o"}, []string{"c"}, nil)
	if len(b) != 2 {
		t.Fatalf("len(Bindings) = %d, want 2", len(b))
	}
	for _, binding := range b {
		if binding.Event.Action == ActionExecute {
			t.Error("execute binding created without keys")
		}
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	l := NewListener(nil)
	ev := Event{Action: ActionTap, Command: protocol.CommandOpen}

	for i := range cap(l.ch) {
		if !l.emit(ev) {
			t.Fatalf("emit %d dropped before the buffer was full", i)
		}
	}
	if l.emit(ev) {
		t.Error("emit on a full channel should drop the event")
	}

	got := <-l.Events()
	if got != ev {
		t.Errorf("event = %+v, want %+v", got, ev)
	}
}

func TestStopIdempotent(t *testing.T) {
	l := NewListener(nil)
	l.Stop()
	l.Stop()
	select {
	case <-l.done:
	default:
		t.Error("done should be closed after Stop")
	}
}
