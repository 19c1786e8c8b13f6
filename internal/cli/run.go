package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rpzload/internal/performance/config"
	"github.com/wesleyorama2/rpzload/internal/performance/engine"
	"github.com/wesleyorama2/rpzload/internal/performance/output"
	"github.com/wesleyorama2/rpzload/internal/rpz"
)

// progressInterval is how often the live display refreshes.
const progressInterval = time.Second

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Preload items, ramp VUs through the stages and evaluate thresholds",
		Long: `Run the rpz items load test.

Settings are resolved from defaults, then the optional --config file, then
the environment (RPZ_HOSTNAME, RPZ_VU_COUNT, RPZ_INSECURE_SKIP_VERIFY), then
flags:

  rpzload run --hostname rpz.example.com --vus 50
  rpzload run --config run.yaml --stages "10s:20,1m:20,10s:0"

Exit codes: 0 thresholds passed, 99 thresholds failed, 104 invalid
configuration, 107 setup aborted or run error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLoadTest(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Run configuration file (YAML or JSON)")
	f.String("hostname", "", "Target hostname (env "+config.EnvHostname+")")
	f.Int("port", 0, "Target port")
	f.String("scheme", "", "Target scheme (http or https)")
	f.Bool("insecure", false, "Skip TLS certificate verification (env "+config.EnvInsecureSkipVerify+")")
	f.Int("vus", 0, "Peak number of virtual users (env "+config.EnvVUCount+")")
	f.Int("items", 0, "Number of items created during setup")
	f.String("stages", "", "Stages as 'duration:target,...', e.g. '5s:100,50s:100,5s:0'")
	f.Int64("seed", 0, "Seed for per-VU random item selection (0 = random)")
	f.String("graceful-stop", "", "Time running iterations get to finish after the stages end")
	f.String("timeout", "", "Per-request timeout")
	f.Bool("validate-body", false, "Also check that each GET body is the requested item")
	f.Int("setup-concurrency", 0, "Parallel item creations during setup")
	f.Float64("setup-rate", 0, "Maximum item creations per second during setup (0 = unlimited)")
	f.String("summary-export", "", "Write the full result as JSON to this file ('-' for stdout)")
	f.BoolP("quiet", "q", false, "Disable live progress, print only the verdict")

	return cmd
}

// resolveConfig builds the run configuration from the file, environment and
// the flags that were set on cmd, then applies defaults and validates it.
func resolveConfig(cmd *cobra.Command, getenv func(string) string) (*config.TestConfig, error) {
	f := cmd.Flags()

	cfg := &config.TestConfig{}
	if path, _ := f.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(cfg, getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if f.Changed("hostname") {
		cfg.Target.Hostname, _ = f.GetString("hostname")
	}
	if f.Changed("port") {
		cfg.Target.Port, _ = f.GetInt("port")
	}
	if f.Changed("scheme") {
		cfg.Target.Scheme, _ = f.GetString("scheme")
	}
	if f.Changed("insecure") {
		cfg.Target.InsecureSkipVerify, _ = f.GetBool("insecure")
	}
	if f.Changed("vus") {
		cfg.VUs, _ = f.GetInt("vus")
	}
	if f.Changed("items") {
		cfg.ItemsCount, _ = f.GetInt("items")
	}
	if f.Changed("stages") {
		s, _ := f.GetString("stages")
		stages, err := config.ParseStages(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("graceful-stop") {
		s, _ := f.GetString("graceful-stop")
		d, err := config.ParseDurationString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --graceful-stop: %w", err)
		}
		cfg.GracefulStop = config.Duration(d)
	}
	if f.Changed("timeout") {
		s, _ := f.GetString("timeout")
		d, err := config.ParseDurationString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Target.Timeout = config.Duration(d)
	}
	if f.Changed("validate-body") {
		cfg.Workload.ValidateBody, _ = f.GetBool("validate-body")
	}
	if f.Changed("setup-concurrency") {
		cfg.Workload.SetupConcurrency, _ = f.GetInt("setup-concurrency")
	}
	if f.Changed("setup-rate") {
		cfg.Workload.SetupRate, _ = f.GetFloat64("setup-rate")
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) runLoadTest(cmd *cobra.Command) error {
	cfg, err := resolveConfig(cmd, a.getenv)
	if err != nil {
		return withCode(ExitInvalidConfig, err)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	summaryPath, _ := cmd.Flags().GetString("summary-export")

	log := a.logger.WithField("component", "cli")
	log.WithFields(logrus.Fields{
		"target":       cfg.Target.BaseURL(),
		"vus":          cfg.VUs,
		"items":        cfg.ItemsCount,
		"stages":       len(cfg.Stages),
		"gracefulStop": cfg.GracefulStop,
		"seed":         cfg.Seed,
	}).Info("configuration resolved")

	workload := rpz.NewWorkload(cfg, rpz.WithLogger(a.logger))
	eng, err := engine.New(cfg, workload, a.logger)
	if err != nil {
		return withCode(ExitInvalidConfig, err)
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName: cfg.Name,
		Target:   cfg.Target.BaseURL(),
		Writer:   cmd.OutOrStdout(),
		Quiet:    quiet,
	})
	console.PrintHeader()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := handleSignals(ctx, cancel, eng, log)
	defer stopSignals()

	result, runErr := runWithProgress(ctx, eng, console, quiet)

	console.PrintSummary(result)

	if summaryPath != "" && result != nil {
		if err := output.WriteJSONFile(summaryPath, result); err != nil {
			log.WithError(err).Error("summary export failed")
		} else {
			log.WithField("path", summaryPath).Info("summary exported")
		}
	}

	switch {
	case runErr != nil:
		if errors.Is(runErr, engine.ErrSetup) {
			return withCode(ExitRunError, runErr)
		}
		return withCode(ExitRunError, fmt.Errorf("run failed: %w", runErr))
	case result == nil:
		return withCode(ExitRunError, errors.New("run produced no result"))
	case !result.Passed:
		return withCode(ExitThresholdsFailed, nil)
	}
	return nil
}

// runWithProgress runs the engine and refreshes the console until it
// returns.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.ConsoleOutput, quiet bool) (*engine.TestResult, error) {
	type runResult struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		r, err := eng.Run(ctx)
		done <- runResult{r, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			return r.result, r.err
		case <-ticker.C:
			if quiet {
				continue
			}
			stats := output.StatsFromEngine(eng.GetMetrics(), eng.GetStats(), eng.GetProgress())
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// handleSignals stops the run gracefully on the first SIGINT or SIGTERM
// and abandons in-flight requests on the second.
func handleSignals(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, log logrus.FieldLogger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			log.WithField("signal", sig.String()).Warn("stopping gracefully, interrupt again to abort")
		case <-ctx.Done():
			return
		}

		stopCtx, stopCancel := context.WithCancel(ctx)
		defer stopCancel()
		go func() {
			if err := eng.Stop(stopCtx); err != nil {
				log.WithError(err).Debug("graceful stop cut short")
			}
		}()

		select {
		case <-sigs:
			log.Warn("aborting in-flight requests")
			stopCancel()
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() { signal.Stop(sigs) }
}
