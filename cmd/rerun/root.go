package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/benaskins/rerun/internal/config"
	"github.com/benaskins/rerun/internal/console"
	"github.com/benaskins/rerun/internal/supervisor"
)

type options struct {
	configPath  string
	patterns    []string
	args        []string
	watch       string
	debug       bool
	clean       bool
	interpreter string
	stopTimeout time.Duration
}

var opts options

func init() {
	bindFlags(rootCmd.Flags(), &opts)
}

func bindFlags(f *pflag.FlagSet, o *options) {
	f.StringVar(&o.configPath, "config", "", "YAML config file (default \"rerun.yaml\" if present)")
	f.StringArrayVarP(&o.patterns, "patterns", "p", nil, "file pattern to monitor, repeat for more (default \"*.py\")")
	f.StringArrayVarP(&o.args, "args", "a", nil, "argument passed on to the command, repeat for more")
	f.StringVarP(&o.watch, "watch", "w", config.DefaultWatch, "directory to monitor for changes")
	f.BoolVarP(&o.debug, "debug", "d", false, "log each detected file change")
	f.BoolVarP(&o.clean, "clean", "c", false, "clean mode: no logs, no interactive commands")
	f.StringVar(&o.interpreter, "interpreter", config.DefaultInterpreter, "interpreter for one-word commands")
	f.DurationVar(&o.stopTimeout, "stop-timeout", 0, "wait this long for the old process to exit before killing it (0 does not wait)")
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), &opts, args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	sup, err := supervisor.New(cfg, supervisor.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(); err != nil {
		return err
	}

	err = control(ctx, sup, os.Stdin, !cfg.Clean)
	return markLogged(err, !cfg.Clean)
}

// resolveConfig layers defaults, the config file, flags and the positional
// command, in that order.
func resolveConfig(fs *pflag.FlagSet, o *options, args []string) (config.Config, error) {
	cfg := config.Default()

	path := o.configPath
	if path == "" {
		path = config.DefaultFile
	} else if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("%w: config file: %v", config.ErrConfiguration, err)
	}

	file, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	file.Apply(&cfg)

	if fs.Changed("patterns") {
		cfg.Patterns = o.patterns
	}
	if fs.Changed("args") {
		cfg.Args = o.args
	}
	if fs.Changed("watch") {
		cfg.Watch = o.watch
	}
	if fs.Changed("debug") {
		cfg.Debug = o.debug
	}
	if fs.Changed("clean") {
		cfg.Clean = o.clean
	}
	if fs.Changed("interpreter") {
		cfg.Interpreter = o.interpreter
	}
	if fs.Changed("stop-timeout") {
		cfg.StopTimeout = o.stopTimeout
	}
	if len(args) == 1 {
		cfg.Command = args[0]
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	color := term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	return slog.New(console.NewHandler(os.Stdout, console.Options{
		Level: level,
		Color: color,
	}))
}
