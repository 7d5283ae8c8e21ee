// flowhist inspects and maintains the flow history image of a meter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	ferrors "github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage"
	"github.com/xtxerr/flowhist/internal/storage/config"
	"github.com/xtxerr/flowhist/internal/storage/device"
)

// Version is set at build time via ldflags
var Version = "dev"

type app struct {
	cfg *config.Config
	log *slog.Logger
}

type commandFunc func(ctx context.Context, a *app, args []string) error

var commands = map[string]struct {
	run   commandFunc
	usage string
}{
	"info":     {runInfo, "show layout and tier occupancy"},
	"add":      {runAdd, "add <tier> <value> [time]: store a value"},
	"find":     {runFind, "find <tier> <time>: look up a period"},
	"dump":     {runDump, "dump [-n N] <tier>: list records"},
	"report":   {runReport, "report [-tier T] [-since T] [-by day|month] [-o file]: summarise tiers"},
	"export":   {runExport, "export [-tier T] [-format parquet|protobuf] -o file: write records"},
	"restore":  {runRestore, "restore <file>: replay a protobuf export into the image"},
	"query":    {runQuery, "query [-tier T] [-from T] [-to T] [-by day|month] <glob>: read exports back"},
	"shell":    {runShell, "shell: interactive console (reads stdin when not a terminal)"},
	"simulate": {runSimulate, "simulate [-from T] [-hours N]: record a synthetic meter"},
}

func main() {
	// CLI flags
	cfgPath := flag.String("config", "flowhist.yaml", "config file path")
	devPath := flag.String("device", "", "device image path (overrides config)")
	memory := flag.Bool("memory", false, "use an in-memory device")
	level := flag.String("log-level", "", "log level (overrides config)")
	jsonLogs := flag.Bool("json", false, "log as JSON")
	version := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Println("flowhist", Version)
		return
	}

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *devPath != "" {
		cfg.Device.Path = *devPath
	}
	if *memory {
		cfg.Device.Path = ""
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}
	if *jsonLogs {
		cfg.Logging.Format = "json"
	}

	lvl, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logging.Init(lvl, cfg.Logging.Format == "json")

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: logging.Component("cli")}
	if err := cmd.run(ctx, a, args[1:]); err != nil {
		a.log.Error("command failed", "command", args[0], "error", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: 2 for bad input,
// 3 for a failing device, 1 otherwise.
func exitCode(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case ferrors.IsValidation(err):
		return 2
	case ferrors.IsStorage(err):
		return 3
	default:
		return 1
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: flowhist [flags] <command> [args]\n\ncommands:\n")
	for _, name := range []string{"info", "add", "find", "dump", "report", "export", "restore", "query", "shell", "simulate"} {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nflags:\n")
	flag.PrintDefaults()
}

// openHistory opens the configured device and places the tier rings on it.
func (a *app) openHistory() (*storage.History, error) {
	dev, err := device.Open(a.cfg.Device.Path, a.cfg.Device.Size, device.FileOptions{
		SyncOnWrite: a.cfg.Device.Sync,
	})
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}

	h, err := storage.Open(a.cfg, dev)
	if err != nil {
		dev.Close()
		return nil, err
	}

	if a.cfg.Device.Path == "" {
		a.log.Debug("using in-memory device", "size", a.cfg.Device.Size)
	} else {
		a.log.Debug("device opened", "path", a.cfg.Device.Path, "size", a.cfg.Device.Size)
	}
	return h, nil
}

// withHistory runs fn on an open history and closes it afterwards.
func (a *app) withHistory(fn func(h *storage.History) error) (err error) {
	h, err := a.openHistory()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(h)
}
