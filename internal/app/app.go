// package app is the main entrypoint into the application, responsible for
// configuring and starting the runtime, services, dependency injection, etc.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/weft-lang/weft/internal/logging"
	"github.com/weft-lang/weft/internal/sched"
	"gopkg.in/yaml.v3"
)

// Version is set by the linker at build time.
var Version = "dev"

func Start(stdout, stderr io.Writer, args []string) error {
	// Parse configuration from flags, env vars, and config file.
	cfg, err := Parse(stderr, args)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Version {
		fmt.Fprintln(stdout, "weft", Version)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Setup logging. Log messages go to stderr so that stdout carries only
	// the stats report.
	cfg.Logging.AdditionalWriters = append(cfg.Logging.AdditionalWriters, stderr)
	logger := logging.NewLogger(cfg.Logging)

	// Log some info useful to the user
	logger.Info(fmt.Sprintf("set processors: %d", cfg.Processors))
	logger.Info(fmt.Sprintf("set max machines: %d", cfg.MaxMachines))

	s, err := sched.New(sched.Options{
		Processors:         cfg.Processors,
		MaxMachines:        cfg.MaxMachines,
		LocalQueueCapacity: cfg.LocalQueue,
		Quantum:            cfg.Quantum,
		MonitorInterval:    cfg.MonitorInterval,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("initializing scheduler: %w", err)
	}
	s.Start(ctx)
	defer s.Shutdown()

	logger.Info("preemption subsystem ready", "mode", s.PreemptMode())

	if err := runDemo(ctx, s, cfg); err != nil {
		return err
	}

	// Render a final stats report.
	report, err := yaml.Marshal(s.Stats())
	if err != nil {
		return fmt.Errorf("rendering stats: %w", err)
	}
	fmt.Fprintf(stdout, "---\n%s", report)
	return nil
}
