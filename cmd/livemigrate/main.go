// livemigrate is a thin developer/ops harness around the migration core: it
// parses the recognized options, builds an Engine, and drives one Run. The
// object graph under migration is supplied by the embedding application via
// the library API; this binary exists to exercise configuration and observe
// phase/event output from the command line, not to embed an application of
// its own.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/graftwork/livemigrate"
	"github.com/graftwork/livemigrate/pkg/events"
	"github.com/graftwork/livemigrate/pkg/plan"
)

func main() {
	kingpin.Version("0.1.0")

	app := kingpin.New("livemigrate", "Live in-process object-graph migration harness.")
	heapWalkMode := app.Flag("heap-walk-mode", "FULL or SPEC heap enumeration mode.").Default("FULL").Enum("FULL", "full", "SPEC", "spec")
	alertLevel := app.Flag("alert-level", "Minimum event severity to print (DEBUG, WARNING, ERROR).").Default("WARNING").Enum("DEBUG", "debug", "WARNING", "warning", "ERROR", "error")
	historySize := app.Flag("history-size", "Bounded migration-record ring buffer size.").Default("10").Int()
	timeoutHeapWalkSecs := app.Flag("timeout-heap-walk", "Hard timeout for the heap snapshot, in seconds (0 = none).").Default("0").Int()
	timeoutHeapSnapshotSecs := app.Flag("timeout-heap-snapshot", "Additional per-type snapshot bound, in seconds (0 = none).").Default("0").Int()
	timeoutSmokeTestSecs := app.Flag("timeout-smoke-test", "Per-predicate smoke test timeout, in seconds (0 = none).").Default("0").Int()
	timeoutCriticalPhaseSecs := app.Flag("timeout-critical-phase", "Upper bound on the Frozen through Rewrite window, in seconds (0 = none).").Default("0").Int()
	heapSizeMinMiB := app.Flag("heap-size-min", "Reject the run if the current heap is below this many MiB (0 = no floor).").Default("0").Int()
	heapSizeMaxMiB := app.Flag("heap-size-max", "Reject the run if the current heap is above this many MiB (0 = no ceiling).").Default("0").Int()

	if _, err := app.Parse(os.Args[1:]); err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		kingpin.Fatalf("failed to build logger: %s", err)
	}
	defer zapLogger.Sync() //nolint:errcheck
	logger := livemigrate.NewZapLogger(zapLogger.Sugar())

	cfg := livemigrate.FromProperties(map[string]string{
		"heap.walk.mode":         *heapWalkMode,
		"alert.level":            *alertLevel,
		"history.size":           fmt.Sprintf("%d", *historySize),
		"timeout.heap.walk":      fmt.Sprintf("%d", *timeoutHeapWalkSecs),
		"timeout.heap.snapshot":  fmt.Sprintf("%d", *timeoutHeapSnapshotSecs),
		"timeout.smoke.test":     fmt.Sprintf("%d", *timeoutSmokeTestSecs),
		"timeout.critical.phase": fmt.Sprintf("%d", *timeoutCriticalPhaseSecs),
		"heap.size.min":          fmt.Sprintf("%d", *heapSizeMinMiB),
		"heap.size.max":          fmt.Sprintf("%d", *heapSizeMaxMiB),
	})

	if err := cfg.Validate(); err != nil {
		kingpin.Fatalf("invalid configuration: %s", err)
	}

	// No embedding application is attached to this CLI invocation, so there
	// is nothing to migrate; an empty plan runs the engine's config and
	// heap-size checks and then goes straight to Done with no snapshot or
	// checkpoint calls, which is exactly the smoke test for "is the
	// configuration well-formed."
	emptyPlan, err := plan.Build(nil)
	if err != nil {
		kingpin.Fatalf("%s", errors.WithMessage(err, "building empty plan"))
	}

	engine := livemigrate.NewEngine(livemigrate.EngineConfig{
		Plan:   emptyPlan,
		Config: cfg,
		Logger: logger,
		EventListeners: []events.Listener{func(evt events.Event) {
			fmt.Fprintln(os.Stdout, events.Format(evt))
		}},
	})

	if err := engine.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errors.WithMessage(err, "migration failed").Error())
		os.Exit(1)
	}
	os.Exit(0)
}
