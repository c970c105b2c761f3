package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chaz8081/bleremote/internal/ble/protocol"
	"github.com/chaz8081/bleremote/internal/hotkey"
)

type inputKind int

const (
	inputTap inputKind = iota
	inputExecute
	inputDisarm
	inputRescan
	inputNonce
	inputStatus
	inputHelp
	inputQuit
)

type inputEvent struct {
	kind inputKind
	cmd  protocol.Command
}

const inputHelpText = `Keys (press Enter after each line; "ooo" is three taps):
  o  tap open        c  tap close
  x  execute armed   d  disarm
  r  rescan          n  request nonce
  s  status          ?  help
  q  quit`

// parseInputLine turns one console line into events, one per character.
func parseInputLine(line string) ([]inputEvent, error) {
	var out []inputEvent
	for _, r := range strings.ToLower(strings.TrimSpace(line)) {
		switch r {
		case 'o':
			out = append(out, inputEvent{kind: inputTap, cmd: protocol.CommandOpen})
		case 'c':
			out = append(out, inputEvent{kind: inputTap, cmd: protocol.CommandClose})
		case 'x', 'e':
			out = append(out, inputEvent{kind: inputExecute})
		case 'd':
			out = append(out, inputEvent{kind: inputDisarm})
		case 'r':
			out = append(out, inputEvent{kind: inputRescan})
		case 'n':
			out = append(out, inputEvent{kind: inputNonce})
		case 's':
			out = append(out, inputEvent{kind: inputStatus})
		case '?', 'h':
			out = append(out, inputEvent{kind: inputHelp})
		case 'q':
			out = append(out, inputEvent{kind: inputQuit})
		case ' ', '\t':
		default:
			return nil, fmt.Errorf("unknown key %q", r)
		}
	}
	return out, nil
}

// readInput forwards parsed stdin lines until r is exhausted, then closes out.
func readInput(r io.Reader, out chan<- inputEvent, onErr func(error)) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		events, err := parseInputLine(sc.Text())
		if err != nil {
			onErr(err)
			continue
		}
		for _, ev := range events {
			out <- ev
		}
	}
}

// forwardHotkeys converts hotkey events until the listener closes its channel.
func forwardHotkeys(events <-chan hotkey.Event, out chan<- inputEvent) {
	defer close(out)
	for ev := range events {
		switch ev.Action {
		case hotkey.ActionTap:
			out <- inputEvent{kind: inputTap, cmd: ev.Command}
		case hotkey.ActionExecute:
			out <- inputEvent{kind: inputExecute}
		}
	}
}
