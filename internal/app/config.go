package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"
	"github.com/weft-lang/weft/internal/logging"
	"github.com/weft-lang/weft/internal/preempt"
)

type Config struct {
	Processors      int
	MaxMachines     int
	LocalQueue      int
	Quantum         time.Duration
	MonitorInterval time.Duration
	Demo            string
	DemoTasks       int
	Logging         logging.Options

	Version bool
}

// demos that the run subcommand-less binary can exercise.
var validDemos = []string{"all", "compute", "futures", "io"}

// Parse sets config in order of precedence:
// 1. flags > 2. env vars > 3. config file
func Parse(stderr io.Writer, args []string) (Config, error) {
	var cfg Config

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("retrieving user's home directory: %w", err)
	}
	defaultConfigFile := filepath.Join(home, ".weft.yaml")

	fs := ff.NewFlagSet("weft")
	fs.IntVar(&cfg.Processors, 'p', "processors", runtime.NumCPU(), "The number of processors, i.e. maximum simultaneously running tasks.")
	fs.IntVar(&cfg.MaxMachines, 'm', "max-machines", 0, "The maximum number of worker threads. Defaults to twice the processor count.")
	fs.IntVar(&cfg.LocalQueue, 0, "local-queue", 256, "Per-processor run queue capacity.")
	fs.DurationVar(&cfg.Quantum, 'q', "quantum", preempt.DefaultQuantum, "How long a task may run before being preempted.")
	fs.DurationVar(&cfg.MonitorInterval, 0, "monitor-interval", preempt.DefaultInterval, "How often the preemption monitor scans running tasks.")
	fs.BoolVar(&cfg.Version, 'v', "version", "Print version.")
	_ = fs.String('c', "config", defaultConfigFile, "Path to config file.")

	{
		usage := fmt.Sprintf("Demo workload to run (valid: %s).", strings.Join(validDemos, ","))
		fs.StringEnumVar(&cfg.Demo, 'd', "demo", usage, validDemos...)
	}
	fs.IntVar(&cfg.DemoTasks, 'n', "tasks", 64, "Number of tasks the demo workload spawns.")

	{
		usage := fmt.Sprintf("Logging level (valid: %s).", strings.Join(logging.ValidLevels(), ","))
		fs.StringEnumVar(&cfg.Logging.Level, 'l', "log-level", usage, logging.ValidLevels()...)
	}

	err = ff.Parse(fs, args,
		ff.WithEnvVarPrefix("WEFT"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
		ff.WithConfigAllowMissingFile(),
	)
	if err != nil {
		// ff.Parse returns an error if there is an error or if -h/--help is
		// passed; in either case print flag usage in addition to error message.
		fmt.Fprintln(stderr, ffhelp.Flags(fs))
		return Config{}, err
	}

	if cfg.MaxMachines == 0 {
		cfg.MaxMachines = 2 * cfg.Processors
	}
	return cfg, nil
}
