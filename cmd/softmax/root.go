package main

import (
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-softmax/internal/batch"
	"github.com/23skdu/longbow-softmax/internal/config"
	"github.com/23skdu/longbow-softmax/internal/logger"
	"github.com/23skdu/longbow-softmax/internal/monitoring"
	"github.com/23skdu/longbow-softmax/internal/workerpool"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	cfgFile string
	cfg     config.Config
	pool    *workerpool.Pool
	driver  *batch.Driver
	log     *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	def := config.Default()

	root := &cobra.Command{
		Use:   "softmax",
		Short: "Fused float32 softmax over the last axis",
		Long: `softmax runs a numerically stable, fused softmax over batches of
fixed-width float32 vectors on a shared CPU worker pool.

Settings come from flags, SOFTMAX_* environment variables and an optional
config file, in that order of precedence.`,
		Version:            monitoring.Version,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	pf.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	pf.String("log-format", def.LogFormat, "log format: console or json")
	pf.Int("workers", def.Workers, "worker pool size (0 uses GOMAXPROCS)")
	pf.Int("min-parallel-elements", def.MinParallelElements, "batches smaller than this run serially")
	pf.Int("row-batch", def.RowBatch, "rows claimed per worker step (0 uses static chunks)")
	pf.Bool("audit-output", def.AuditOutput, "count NaN/Inf outputs in metrics")

	root.AddCommand(newDemoCmd(a), newBenchCmd(a), newServeCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	a.log = logger.With("cmd")

	if cfg.Workers == 0 {
		a.pool = workerpool.Default()
	} else {
		a.pool = workerpool.New(cfg.Workers)
	}
	a.driver = batch.New(a.pool, batch.OptionsFromConfig(cfg))
	a.log.Debug("configured", "command", cmd.Name(), "workers", a.pool.NumWorkers())
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.pool != nil && a.pool != workerpool.Default() {
		a.pool.Close()
	}
	return nil
}
