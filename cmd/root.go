package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pixelsim/pixelsim/sim"
	_ "github.com/pixelsim/pixelsim/sim/modules" // registers the built-in module types
	"github.com/pixelsim/pixelsim/sim/steering"
	"github.com/pixelsim/pixelsim/sim/trace"
)

// runOptions holds the run command's flags.
type runOptions struct {
	configPath string        // steering file (.yaml, .yml or .toml)
	events     uint64        // overrides global.number_of_events
	workers    int           // overrides global.workers
	seed       int64         // overrides global.random_seed
	logLevel   string        // overrides global.log_level
	logFormat  string        // overrides global.log_format
	traceLevel string        // none, events or modules
	output     string        // report JSON path
	pluginDir  string        // directory searched for <Module>.so plugins
	timeout    time.Duration // cancel the run after this long (0 = never)
}

var opts runOptions

// envOverrides are read from PIXELSIM_* variables. They replace steering
// values; flags given explicitly replace both.
type envOverrides struct {
	Config    string `env:"PIXELSIM_CONFIG"`
	Events    string `env:"PIXELSIM_EVENTS"`
	Workers   string `env:"PIXELSIM_WORKERS"`
	Seed      string `env:"PIXELSIM_SEED"`
	LogLevel  string `env:"PIXELSIM_LOG_LEVEL"`
	LogFormat string `env:"PIXELSIM_LOG_FORMAT"`
	Trace     string `env:"PIXELSIM_TRACE"`
	Output    string `env:"PIXELSIM_OUTPUT"`
	PluginDir string `env:"PIXELSIM_PLUGIN_DIR"`
}

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "pixelsim",
	Short:         "Modular event-based simulator for pixel detectors",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// runCmd loads a steering file and runs the configured module chain.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation from a steering file",
	RunE: func(cmd *cobra.Command, args []string) error {
		var ev envOverrides
		if err := parseEnv(&ev); err != nil {
			return err
		}
		o := resolveOptions(cmd.Flags(), opts, ev)
		if o.configPath == "" {
			return errors.New("no steering file given (use --config or PIXELSIM_CONFIG)")
		}

		file, err := steering.Load(o.configPath)
		if err != nil {
			return err
		}
		settings, err := resolveSettings(cmd.Flags(), opts, file, ev)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		if o.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}

		report, err := simulate(ctx, o, file, settings, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		switch report.Status() {
		case sim.StatusDegraded:
			logrus.Warnf("Simulation finished degraded: %d events failed, %d skipped", report.Failed, report.Skipped())
		default:
			logrus.Info("Simulation complete.")
		}
		return nil
	},
}

// modulesCmd lists the module types compiled into the binary.
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the built-in module types and their options",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, name := range sim.DefaultRegistry.Names() {
			f, _ := sim.DefaultRegistry.Lookup(name)
			kind := "per-detector"
			if f.Unique {
				kind = "unique"
			}
			fmt.Fprintf(out, "%-24s %-13s %v\n", f.Name, kind, f.Options)
		}
		return nil
	},
}

// parseEnv loads configuration from environment variables.
func parseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// resolveOptions applies environment values to options whose flags were not
// given explicitly.
func resolveOptions(flags *pflag.FlagSet, o runOptions, ev envOverrides) runOptions {
	pick := func(flag string, dst *string, envValue string) {
		if !flags.Changed(flag) && envValue != "" {
			*dst = envValue
		}
	}
	pick("config", &o.configPath, ev.Config)
	pick("trace", &o.traceLevel, ev.Trace)
	pick("output", &o.output, ev.Output)
	pick("plugin-dir", &o.pluginDir, ev.PluginDir)
	return o
}

// resolveSettings layers environment and explicit flags over the steering
// file's global section and converts the result.
func resolveSettings(flags *pflag.FlagSet, o runOptions, file *steering.File, ev envOverrides) (steering.Settings, error) {
	global := file.Global
	for key, value := range map[string]string{
		sim.KeyNumberOfEvents: ev.Events,
		sim.KeyWorkers:        ev.Workers,
		sim.KeyRandomSeed:     ev.Seed,
		sim.KeyLogLevel:       ev.LogLevel,
		sim.KeyLogFormat:      ev.LogFormat,
	} {
		if value != "" {
			global.Set(key, value)
		}
	}

	// Flags win only when given explicitly, so their defaults never mask
	// steering or environment values.
	if flags.Changed("events") {
		global.Set(sim.KeyNumberOfEvents, strconv.FormatUint(o.events, 10))
	}
	if flags.Changed("workers") {
		global.Set(sim.KeyWorkers, strconv.Itoa(o.workers))
	}
	if flags.Changed("seed") {
		global.Set(sim.KeyRandomSeed, strconv.FormatInt(o.seed, 10))
	}
	if flags.Changed("log") {
		global.Set(sim.KeyLogLevel, o.logLevel)
	}
	if flags.Changed("log-format") {
		global.Set(sim.KeyLogFormat, o.logFormat)
	}
	return file.Settings()
}

// simulate drives one full module lifecycle and prints the report to stdout.
// Module logs go to stderr. The returned error is non-nil only when the run
// could not start (load or initialize failure); the aborted report is still
// printed and returned in that case.
func simulate(ctx context.Context, o runOptions, file *steering.File, s steering.Settings, stdout, stderr io.Writer) (*sim.RunReport, error) {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %s", s.LogLevel)
	}
	format, err := sim.ParseLogFormat(s.LogFormat)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(format.Formatter())

	if !trace.IsValidTraceLevel(o.traceLevel) {
		return nil, fmt.Errorf("unknown trace level %q (valid: none, events, modules)", o.traceLevel)
	}
	var tr *trace.SimulationTrace
	if lvl := trace.TraceLevel(o.traceLevel); lvl != "" && lvl != trace.TraceLevelNone {
		tr = trace.NewSimulationTrace(trace.TraceConfig{Level: lvl})
	}

	var resolver sim.LibraryResolver = sim.StaticResolver{Registry: sim.DefaultRegistry}
	if o.pluginDir != "" {
		resolver = sim.ChainResolver{resolver, sim.PluginResolver{Dir: o.pluginDir}}
	}

	logrus.Infof("Starting simulation: %d events, seed %d, %d modules configured, %d detectors",
		s.Events, s.Seed, len(file.Modules), len(file.Detectors))

	m := sim.NewModuleManager(sim.ManagerConfig{
		Resolver: resolver,
		Output:   stderr,
		Ambient:  sim.LogContext{Level: level, Format: format},
		Seed:     s.Seed,
		Trace:    tr,
	})
	if err := m.Load(file.Modules, sim.Environment{Geometry: file.Detectors, Global: file.Global}); err != nil {
		_ = m.Report().Print(stdout)
		return m.Report(), err
	}
	if err := m.Initialize(); err != nil {
		_ = m.Report().Print(stdout)
		return m.Report(), err
	}
	report, err := m.Run(ctx, s.Events, s.Workers)
	if err != nil {
		return nil, err
	}
	if err := m.Finalize(); err != nil {
		logrus.Errorf("Finalization: %v", err)
	}

	if err := report.Print(stdout); err != nil {
		return report, err
	}
	if o.output != "" {
		if err := report.SaveResults(o.output); err != nil {
			return report, err
		}
		logrus.Infof("Report written to %s", o.output)
	}
	if tr != nil {
		printTraceSummary(stdout, trace.Summarize(tr))
	}
	return report, nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Events: %d (%d failed) on %d workers\n", s.TotalEvents, s.FailedEvents, s.UniqueWorkers)
	if s.TotalExecutions > 0 {
		fmt.Fprintf(w, "Hook executions: %d (%d failed)\n", s.TotalExecutions, s.FailedExecutions)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func registerRunFlags(fs *pflag.FlagSet, o *runOptions) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Steering file (.yaml, .yml or .toml)")
	fs.Uint64Var(&o.events, "events", 1, "Number of events (overrides global.number_of_events)")
	fs.IntVar(&o.workers, "workers", 0, "Worker goroutines, 0 = one per CPU (overrides global.workers)")
	fs.Int64Var(&o.seed, "seed", 0, "Random seed (overrides global.random_seed)")
	fs.StringVar(&o.logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.StringVar(&o.logFormat, "log-format", "default", "Log format (short, default, long, json)")
	fs.StringVar(&o.traceLevel, "trace", "none", "Execution trace level (none, events, modules)")
	fs.StringVar(&o.output, "output", "", "Write the JSON run report to this file")
	fs.StringVar(&o.pluginDir, "plugin-dir", "", "Directory searched for module plugins (<Module>.so)")
	fs.DurationVar(&o.timeout, "timeout", 0, "Stop claiming new events after this duration (0 = no limit)")
}

// init sets up CLI flags and subcommands
func init() {
	registerRunFlags(runCmd.Flags(), &opts)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(modulesCmd)
}
