package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("ChordController v%s\n", version)
	fmt.Println("Game controller to MIDI chord controller")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  chordcontroller [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Turns gamepad buttons, hats and axes into diatonic chords on a MIDI")
	fmt.Println("  output. Mappings, calibration and startup actions are read from a YAML")
	fmt.Println("  config file; built-in defaults are used when it is missing.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	pflag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with the default layout on a virtual MIDI port")
	fmt.Println("  chordcontroller")
	fmt.Println()
	fmt.Println("  # Bind controller 1 and send to an existing synth")
	fmt.Println("  chordcontroller -c 1 --midi-port \"FLUID Synth\"")
	fmt.Println()
	fmt.Println("  # Show connected controllers and MIDI outputs")
	fmt.Println("  chordcontroller --list-controllers")
	fmt.Println()
}

func main() {
	var (
		configPath      = pflag.String("config", "", "Path to YAML config file (default: user config dir)")
		quitOnBadConfig = pflag.BoolP("quit-on-parse-failure", "q", false, "Exit instead of falling back to defaults when the config file does not parse")
		controller      = pflag.IntP("controller", "c", noDevice, "Controller device to bind at startup (-1 binds on first button press)")
		logLevelStr     = pflag.String("log-level", "warn", "Log level: error, warn, info, debug")
		inputSource     = pflag.String("input", "sdl", "Input source: sdl, evdev, none")
		midiOutput      = pflag.String("midi-output", "rtmidi", "MIDI output: rtmidi, log")
		midiPort        = pflag.String("midi-port", "", "MIDI output port name to match (empty opens a virtual port)")
		ipcSocket       = pflag.String("ipc-socket", "/tmp/chordcontroller.sock", "Unix domain socket path for IPC (empty disables)")
		wsListen        = pflag.String("ws-listen", "", "HTTP listen address for the state websocket, e.g. 127.0.0.1:3002 (empty disables)")
		listControllers = pflag.Bool("list-controllers", false, "List connected controllers and MIDI outputs, then exit")
		showVersion     = pflag.Bool("version", false, "Print version and exit")
		showHelp        = pflag.BoolP("help", "h", false, "Print help message")
	)

	pflag.Usage = printUsage
	pflag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	if *listControllers {
		if err := printDevices(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	path := *configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := loadConfigOrDefaults(path, *quitOnBadConfig, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	// Only explicitly set flags override the file.
	var o FlagOverrides
	changed := pflag.CommandLine.Changed
	if changed("input") {
		o.InputSource = inputSource
	}
	if changed("controller") {
		o.Controller = controller
	}
	if changed("midi-output") {
		o.MIDIOutput = midiOutput
	}
	if changed("midi-port") {
		o.MIDIPort = midiPort
	}
	if changed("ipc-socket") {
		o.IPCSocketPath = ipcSocket
	}
	if changed("ws-listen") {
		o.HTTPListen = wsListen
	}
	if changed("log-level") {
		o.LogLevel = logLevelStr
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	// The file may have changed the level.
	logLevel, _ = parseLogLevel(cfg.Logging.Level)
	logger = setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("chordcontroller stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfigOrDefaults loads path. A missing file yields the defaults; an
// unparsable one yields the defaults unless quitOnParseFailure is set.
func loadConfigOrDefaults(path string, quitOnParseFailure bool, logger *slog.Logger) (Config, error) {
	cfg, err := LoadConfigFile(path)
	if err == nil {
		logger.Info("config loaded", "path", path)
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config file not found, using defaults", "path", path)
		return DefaultConfig(), nil
	}
	if quitOnParseFailure {
		return Config{}, err
	}
	logger.Warn("config file could not be parsed, using defaults", "path", path, "error", err)
	return DefaultConfig(), nil
}

func printDevices() error {
	controllers, err := listSDLControllers()
	if err != nil {
		return err
	}
	fmt.Println("Controllers:")
	if len(controllers) == 0 {
		fmt.Println("  (none)")
	}
	for _, c := range controllers {
		fmt.Printf("  %d: %s\n", c.Device, c.Name)
	}

	outs, err := listMIDIOutputs()
	if err != nil {
		return err
	}
	fmt.Println("MIDI outputs:")
	if len(outs) == 0 {
		fmt.Println("  (none)")
	}
	for i, name := range outs {
		fmt.Printf("  %d: %s\n", i, name)
	}
	return nil
}

// run wires the components and blocks until shutdown or a fatal error.
func run(cfg Config, logger *slog.Logger) error {
	mc, err := cfg.MachineConfig()
	if err != nil {
		return err
	}
	startup, err := cfg.StartupActions()
	if err != nil {
		return err
	}

	machine, err := NewMachine(mc, logger)
	if err != nil {
		return err
	}
	if cfg.Input.Controller != noDevice {
		machine.SetActiveDevice(cfg.Input.Controller)
	}

	sink, err := openNoteSink(cfg.MIDI, logger)
	if err != nil {
		return fmt.Errorf("open MIDI output: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close MIDI output", "error", err)
		}
	}()

	instrument := NewInstrument(sink, cfg.Instrument, logger)
	ctrl, err := NewController(machine, instrument, ControllerOptions{
		StackLimit: cfg.Controller.StackLimit,
		Startup:    startup,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Central event bus
	events := make(chan Event, 256)

	var broadcasts chan StateBroadcast
	if cfg.HTTP.Listen != "" {
		broadcasts = make(chan StateBroadcast, 64)
	}

	g.Go(func() error {
		err := runDaemon(ctx, events, ctrl, DaemonOptions{Broadcasts: broadcasts}, logger)
		if perr := ctrl.Panic(); perr != nil {
			logger.Warn("release notes on shutdown", "error", perr)
		}
		if err != nil {
			return err
		}
		// Daemon exit ends the program.
		return context.Canceled
	})

	switch cfg.Input.Source {
	case "sdl":
		reader := newSDLReader(events, cfg.Input.PollHz, logger)
		g.Go(func() error { return reader.Run(ctx) })
	case "evdev":
		g.Go(func() error { return runEvdevInput(ctx, cfg.Input.Devices, events, logger) })
	}

	if cfg.IPC.SocketPath != "" {
		socketPath := ExpandPath(cfg.IPC.SocketPath)
		g.Go(func() error { return runIPCServer(ctx, socketPath, events, logger) })
	}

	if cfg.HTTP.Listen != "" {
		ws := NewServer(logger, events, ServerConfig{})
		g.Go(func() error {
			ws.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(ctx, ws.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error { return runHTTPServer(ctx, cfg.HTTP.Listen, newHTTPMux(ws), logger) })
	}

	logger.Info("chordcontroller running",
		"version", version,
		"input", cfg.Input.Source,
		"midi_output", cfg.MIDI.Output,
		"mode", machine.Mode(),
		"ipc", cfg.IPC.SocketPath,
		"ws_listen", cfg.HTTP.Listen)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}
