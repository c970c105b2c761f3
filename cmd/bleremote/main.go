// Command bleremote sends authenticated open and close commands to a BLE
// remote-control peripheral.
//
// Usage:
//
//	bleremote [run] [-config path]
//	bleremote provision [-config path] [-secret uuid] [-name device]
//	bleremote clear-secret [-config path]
//	bleremote status [-config path]
//	bleremote init-config
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/bleremote/internal/ble"
	"github.com/chaz8081/bleremote/internal/config"
	"github.com/chaz8081/bleremote/internal/hotkey"
	"github.com/chaz8081/bleremote/internal/remote"
	"github.com/chaz8081/bleremote/internal/secret"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runRemote(args)
	case "provision":
		err = runProvision(args)
	case "clear-secret":
		err = runClearSecret(args)
	case "status":
		err = runStatus(args)
	case "init-config":
		err = runInitConfig()
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  bleremote [run] [-config path]
  bleremote provision [-config path] [-secret uuid] [-name device]
  bleremote clear-secret [-config path]
  bleremote status [-config path]
  bleremote init-config`)
}

func runRemote(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (default: ~/.config/bleremote/config.yaml)")
	_ = fs.Parse(args)

	cfg, _, err := loadValidConfig(*configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	store := secret.NewFileStore(cfg.Secret.Path)
	mode, err := remote.ParseMode(cfg.Arming.Mode)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	ctrl := remote.NewController(store, remote.NewConsoleSink(os.Stdout), remote.Options{
		Mode:         mode,
		RequiredTaps: cfg.Arming.RequiredTaps,
		Window:       cfg.Arming.Window,
		DisarmAfter:  cfg.Arming.DisarmAfter,
		Clock:        clock,
	})

	adapter := ble.NewBluetoothAdapter(ble.BluetoothOptions{
		WriteCharUUID:  cfg.WriteCharUUID,
		NotifyCharUUID: cfg.NotifyCharUUID,
	})
	session := ble.NewSession(adapter, store, ctrl, ble.SessionOptions{
		DeviceName:  cfg.DeviceName,
		ServiceUUID: cfg.ServiceUUID,
		MTU:         cfg.MTU,
		NonceTTL:    cfg.NonceTTL,
		Clock:       clock,
	})
	defer session.Close()
	ctrl.Attach(session)

	if err := ctrl.Start(); err != nil {
		if errors.Is(err, secret.ErrNoSecret) {
			return fmt.Errorf("no secret at %s; run 'bleremote provision -secret <uuid>' first", cfg.Secret.Path)
		}
		return fmt.Errorf("starting BLE: %w", err)
	}

	inputs := make(chan inputEvent, 16)
	var listener *hotkey.Listener
	if cfg.Input.Mode == "hotkey" {
		listener = hotkey.NewListener(hotkey.Bindings(cfg.Input.OpenKeys, cfg.Input.CloseKeys, cfg.Input.ExecuteKeys))
		go forwardHotkeys(listener.Events(), inputs)
		go listener.Start()
		log.Printf("Hotkeys ready (open %s, close %s, execute %s)",
			strings.Join(cfg.Input.OpenKeys, "+"), strings.Join(cfg.Input.CloseKeys, "+"), strings.Join(cfg.Input.ExecuteKeys, "+"))
	} else {
		go readInput(os.Stdin, inputs, func(err error) { log.Printf("input: %v", err) })
		fmt.Println(inputHelpText)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-inputs:
			if !ok {
				log.Println("Input closed, shutting down...")
				ctrl.Stop()
				return nil
			}
			if quit := handleInput(ctrl, session, ev); quit {
				ctrl.Stop()
				if listener != nil {
					exitAfterHotkeys()
				}
				return nil
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			ctrl.Stop()
			session.Close()
			log.Println("Goodbye!")
			if listener != nil {
				exitAfterHotkeys()
			}
			return nil
		}
	}
}

// exitAfterHotkeys exits directly to avoid gohook's C cleanup crash.
// The OS reclaims the event hook on process exit.
func exitAfterHotkeys() {
	os.Exit(0)
}

func handleInput(ctrl *remote.Controller, session *ble.Session, ev inputEvent) (quit bool) {
	var err error
	switch ev.kind {
	case inputTap:
		err = ctrl.Tap(ev.cmd)
	case inputExecute:
		err = ctrl.Execute()
		if errors.Is(err, remote.ErrNotArmed) {
			err = nil // already reported as status
		}
	case inputDisarm:
		ctrl.Disarm()
	case inputRescan:
		err = ctrl.Rescan()
	case inputNonce:
		err = ctrl.RequestNonce()
	case inputStatus:
		armed := string(ctrl.Armed())
		if armed == "" {
			armed = "-"
		}
		fmt.Printf("state=%s ready=%v armed=%s busy=%v\n", session.State(), session.Ready(), armed, ctrl.Busy())
	case inputHelp:
		fmt.Println(inputHelpText)
	case inputQuit:
		return true
	}
	if err != nil {
		slog.Debug("input action failed", "error", err)
	}
	return false
}

func runProvision(args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	secretValue := fs.String("secret", "", "shared secret as a UUID (from the device label)")
	name := fs.String("name", "", "advertised device name to save in the config")
	_ = fs.Parse(args)

	if *secretValue == "" && *name == "" {
		return errors.New("nothing to do: pass -secret and/or -name")
	}

	cfg, path, err := loadValidConfig(*configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if *secretValue != "" {
		store := secret.NewFileStore(cfg.Secret.Path)
		if err := store.Set(*secretValue); err != nil {
			return err
		}
		fmt.Printf("Secret stored at %s\n", store.Path())
	}

	if *name != "" {
		cfg.DeviceName = strings.TrimSpace(*name)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation: %w", err)
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("Device name %q saved to %s\n", cfg.DeviceName, path)
	}
	return nil
}

func runClearSecret(args []string) error {
	fs := flag.NewFlagSet("clear-secret", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, _, err := loadValidConfig(*configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if err := secret.NewFileStore(cfg.Secret.Path).Clear(); err != nil {
		return err
	}
	fmt.Println("Secret cleared.")
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, path, err := loadValidConfig(*configPath)
	if err != nil {
		return err
	}
	printBanner(cfg)

	provisioned := "no (run 'bleremote provision -secret <uuid>')"
	if secret.NewFileStore(cfg.Secret.Path).Exists() {
		provisioned = "yes"
	}
	fmt.Printf("  Config:  %s\n", path)
	fmt.Printf("  Secret:  %s\n", provisioned)
	return nil
}

func runInitConfig() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

// loadValidConfig loads and validates the config, returning it with the
// path it should be saved to.
func loadValidConfig(path string) (*config.Config, string, error) {
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation: %w", err)
	}
	return cfg, resolved, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, defaultPath, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), defaultPath, nil
}

func setupLogging(level string) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(level)})
	slog.SetDefault(slog.New(h))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== bleremote ===")
	fmt.Printf("  Device:  %s (service %s)\n", cfg.DeviceName, cfg.ServiceUUID)
	fmt.Printf("  Arming:  %d taps in %s, %s mode, disarm after %s\n",
		cfg.Arming.RequiredTaps, cfg.Arming.Window, cfg.Arming.Mode, cfg.Arming.DisarmAfter)
	fmt.Printf("  Nonce:   valid for %s\n", cfg.NonceTTL)
	fmt.Printf("  Input:   %s\n", cfg.Input.Mode)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
