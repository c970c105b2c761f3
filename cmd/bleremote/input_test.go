package main

import (
	"strings"
	"testing"

	"github.com/chaz8081/bleremote/internal/ble/protocol"
	"github.com/chaz8081/bleremote/internal/hotkey"
)

func TestParseInputLine(t *testing.T) {
	tests := []struct {
		line    string
		want    []inputEvent
		wantErr bool
	}{
		{"o", []inputEvent{{kind: inputTap, cmd: protocol.CommandOpen}}, false},
		{"OOO", []inputEvent{
			{kind: inputTap, cmd: protocol.CommandOpen},
			{kind: inputTap, cmd: protocol.CommandOpen},
			{kind: inputTap, cmd: protocol.CommandOpen},
		}, false},
		{" c x ", []inputEvent{
			{kind: inputTap, cmd: protocol.CommandClose},
			{kind: inputExecute},
		}, false},
		{"r", []inputEvent{{kind: inputRescan}}, false},
		{"n", []inputEvent{{kind: inputNonce}}, false},
		{"d", []inputEvent{{kind: inputDisarm}}, false},
		{"q", []inputEvent{{kind: inputQuit}}, false},
		{"", nil, false},
		{"oz", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseInputLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInputLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseInputLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadInput(t *testing.T) {
	out := make(chan inputEvent, 16)
	var errs []error
	readInput(strings.NewReader("oo\nbad!\nx\n"), out, func(err error) { errs = append(errs, err) })

	var got []inputEvent
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("events = %v, want 3", got)
	}
	if got[2].kind != inputExecute {
		t.Errorf("last event = %+v, want execute", got[2])
	}
	if len(errs) != 1 {
		t.Errorf("errors = %v, want 1", errs)
	}
}

func TestForwardHotkeys(t *testing.T) {
	in := make(chan hotkey.Event, 2)
	out := make(chan inputEvent, 2)
	in <- hotkey.Event{Action: hotkey.ActionTap, Command: protocol.CommandClose}
	in <- hotkey.Event{Action: hotkey.ActionExecute}
	close(in)

	forwardHotkeys(in, out)

	first, second := <-out, <-out
	if first.kind != inputTap || first.cmd != protocol.CommandClose {
		t.Errorf("first = %+v", first)
	}
	if second.kind != inputExecute {
		t.Errorf("second = %+v", second)
	}
	if _, ok := <-out; ok {
		t.Error("out should be closed")
	}
}
