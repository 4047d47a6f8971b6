package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tomaslejdung/viewshare/pkg/app"
	"github.com/tomaslejdung/viewshare/pkg/protocol"
	"github.com/tomaslejdung/viewshare/pkg/settings"
	sig "github.com/tomaslejdung/viewshare/pkg/signal"
)

// Config holds runtime configuration from the command line
type Config struct {
	ConfigPath string
	Port       int
	PoolSize   int
	Rotate     bool
	ImagePath  string
	LogLevel   string
	TUI        bool
	Join       string
	Codec      string
	Help       bool
}

func parseFlags(args []string) (Config, *pflag.FlagSet, error) {
	config := Config{}
	fs := pflag.NewFlagSet("viewshare", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&config.ConfigPath, "config", "c", "", "Settings file (default: $XDG_CONFIG_HOME/viewshare/config.yaml)")
	fs.IntVarP(&config.Port, "port", "p", 8080, "Listen port")
	fs.IntVarP(&config.PoolSize, "pool-size", "n", 4, "Number of viewport slots")
	fs.BoolVar(&config.Rotate, "rotate", true, "Round-robin slot allocation (false: lowest free slot)")
	fs.StringVarP(&config.ImagePath, "image", "i", "", "Image file to share and watch for changes")
	fs.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	fs.BoolVarP(&config.TUI, "tui", "t", false, "Show the live status dashboard")
	fs.StringVarP(&config.Join, "join", "j", "", "Connect to a server as a viewer and print updates (ws://host:port/ws)")
	fs.StringVar(&config.Codec, "codec", "json", "Wire codec for --join (json|cbor)")
	fs.BoolVarP(&config.Help, "help", "h", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return config, fs, err
	}
	return config, fs, nil
}

// resolveSettings loads the settings file and lets explicitly set flags override it.
func resolveSettings(config Config, fs *pflag.FlagSet) (settings.Settings, error) {
	s, err := settings.Load(config.ConfigPath)
	if err != nil {
		return s, err
	}

	if fs.Changed("port") {
		s.Listen = fmt.Sprintf(":%d", config.Port)
	}
	if fs.Changed("pool-size") {
		s.PoolSize = config.PoolSize
	}
	if fs.Changed("rotate") {
		s.Rotate = config.Rotate
	}
	if fs.Changed("image") {
		s.ImagePath = config.ImagePath
	}
	if fs.Changed("log-level") {
		s.LogLevel = config.LogLevel
	}
	return s, s.Validate()
}

const usage = `viewshare - shared image viewports over websockets

Usage: viewshare [options]

Peers connect to ws://<host>:<port>/ws, get one of a fixed number of
viewports, and receive ["update", {...}] whenever the shared image changes.
A peer holding a viewport may send ["grab", {x,y}], ["move", {x,y}],
["ungrab"] and ["req-update"].

Options:
  --config, -c <file>    Settings file (YAML)
  --port, -p <port>      Listen port (default: 8080)
  --pool-size, -n <n>    Number of viewport slots (default: 4)
  --rotate=<bool>        Round-robin slot allocation (default: true)
  --image, -i <file>     Image file to share; changes are pushed live
  --log-level <level>    debug, info, warn or error (default: info)
  --tui, -t              Show the live status dashboard
  --join, -j <url>       Connect as a viewer and print updates
  --codec <name>         Codec for --join: json or cbor (default: json)
  --help, -h             Show help

HTTP routes:
  /ws        websocket endpoint (subprotocols viewshare.json, viewshare.cbor)
  /image     current image content, ETag = BLAKE3 digest
  /status    JSON snapshot of slots, grab holder and image version
  /health    liveness probe

Examples:
  viewshare -n 2 -i ./frame.png          # serve two viewports onto frame.png
  viewshare -t                           # same, with the dashboard
  viewshare -j ws://localhost:8080/ws    # watch updates as a viewer

Dashboard Controls:
  j / l         Join / leave as a local viewer
  g / u         Grab / ungrab the image
  ←↑↓→          Move the image while holding the grab (h and k also
                move left and up)
  r             Request an update
  q             Quit`

func printHelp() {
	fmt.Println(usage)
}

func main() {
	config, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "viewshare: %v\n\n", err)
		printHelp()
		os.Exit(2)
	}
	if config.Help {
		printHelp()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Join != "" {
		if err := joinAndPrint(ctx, config); err != nil {
			fmt.Fprintf(os.Stderr, "viewshare: %v\n", err)
			os.Exit(1)
		}
		return
	}

	s, err := resolveSettings(config, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "viewshare: %v\n", err)
		os.Exit(1)
	}

	if config.TUI {
		if err := RunTUI(ctx, s); err != nil {
			fmt.Fprintf(os.Stderr, "viewshare: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(s.LogLevel, os.Stderr)
	a, err := app.New(s, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// joinAndPrint connects as a viewer and prints every update until interrupted.
func joinAndPrint(ctx context.Context, config Config) error {
	codec := protocol.JSON
	switch config.Codec {
	case "json":
	case "cbor":
		codec = protocol.CBOR
	default:
		return fmt.Errorf("unknown codec %q", config.Codec)
	}

	logger := app.NewLogger(config.LogLevel, os.Stderr)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	peer, err := sig.Dial(dialCtx, config.Join, codec, logger)
	cancel()
	if err != nil {
		return err
	}
	defer peer.Close()

	fmt.Printf("Connected to %s (%s)\n", config.Join, peer.Codec().Name())
	return printUpdates(ctx, peer.Messages(), os.Stdout)
}

var errConnectionClosed = errors.New("connection closed by server")

func printUpdates(ctx context.Context, messages <-chan protocol.Message, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errConnectionClosed
			}
			fmt.Fprintln(w, formatMessage(msg))
		}
	}
}

func formatMessage(msg protocol.Message) string {
	if msg.Name != protocol.CmdUpdate {
		return fmt.Sprintf("%s %v", msg.Name, msg.Args)
	}
	fields, ok := msg.Arg(0).(map[string]any)
	if !ok {
		return fmt.Sprintf("update %v", msg.Args)
	}
	grab := "free"
	if fields["holder"] == true {
		grab = "held by you"
	} else if fields["grabbed"] == true {
		grab = "held"
	}
	return fmt.Sprintf("update viewport=%v version=%v pos=(%v, %v) grab=%s digest=%s",
		fields["index"], fields["version"], fields["x"], fields["y"], grab, shortDigest(fields["digest"]))
}

func shortDigest(v any) string {
	s, _ := v.(string)
	if len(s) > 12 {
		return s[:12]
	}
	if s == "" {
		return "-"
	}
	return s
}

// discardLogger is used where log output would corrupt the terminal.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
