// Command test-arming is a manual test for the global hotkeys and the
// arming guards. No BLE link is involved.
// Tap Ctrl+Shift+O or Ctrl+Shift+C three times quickly to arm.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-arming [--taps 3] [--window 2.5s]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/bleremote/internal/arming"
	"github.com/chaz8081/bleremote/internal/ble/protocol"
	"github.com/chaz8081/bleremote/internal/hotkey"
)

func main() {
	taps := flag.Int("taps", arming.DefaultRequiredTaps, "taps required to arm")
	window := flag.Duration("window", arming.DefaultWindow, "time window for the taps")
	flag.Parse()

	guards := make(map[protocol.Command]*arming.Guard)
	for _, cmd := range protocol.Commands {
		var g *arming.Guard
		g = arming.New(string(cmd), arming.Options{
			RequiredTaps: *taps,
			Window:       *window,
			OnArmed: func() {
				fmt.Printf(">>> %s ARMED\n", cmd)
				// Re-open the guard so the test can be repeated.
				go func() {
					time.Sleep(time.Second)
					g.Reset()
					fmt.Printf("<<< %s reset\n", cmd)
				}()
			},
			OnStatus: func(msg string) { fmt.Printf("    %s: %s\n", cmd, msg) },
		})
		guards[cmd] = g
	}

	open := []string{"ctrl", "shift", "o"}
	closeKeys := []string{"ctrl", "shift", "c"}
	listener := hotkey.NewListener(hotkey.Bindings(open, closeKeys, nil))

	fmt.Printf("Tap Ctrl+Shift+O / Ctrl+Shift+C %d times within %s...\n", *taps, *window)
	fmt.Println("Press Ctrl+C to exit.")

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			if ev.Action != hotkey.ActionTap {
				continue
			}
			if !guards[ev.Command].Tap() {
				fmt.Printf("    %s: tap ignored\n", ev.Command)
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
