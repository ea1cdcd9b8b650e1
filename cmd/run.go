package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/batch"
	"github.com/sells-group/enrich-cli/internal/model"
)

var (
	runPhase        string
	runLimit        int
	runForce        bool
	runWorkers      int
	runAllowPartial bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one enrichment phase over every entity",
	Long:  "Runs a single phase across the entity list. Entities that already completed the phase are skipped unless --force is set; per-entity failures are reported but never abort the run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		phase, err := model.ParsePhase(runPhase)
		if err != nil {
			return err
		}
		if err := cfg.Validate(phase); err != nil {
			return err
		}

		list, err := loadEntities(ctx, cfg)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := newRegistry(ctx, cfg, phase)
		if err != nil {
			return err
		}

		opts := []batch.Option{
			batch.WithWorkers(cfg.Batch.Workers),
			batch.WithSubmitDelay(time.Duration(cfg.Batch.SubmitDelayMs) * time.Millisecond),
			batch.WithUnitTimeout(secs(cfg.Batch.UnitTimeoutSecs)),
			batch.WithProgressInterval(secs(cfg.Batch.ProgressIntervalSecs)),
		}
		if cfg.Metrics.Addr != "" {
			promReg := prometheus.NewRegistry()
			promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := batch.NewMetrics(promReg)
			if err != nil {
				return err
			}
			opts = append(opts, batch.WithMetrics(m))
			go func() {
				if err := batch.ServeMetrics(ctx, cfg.Metrics.Addr, promReg); err != nil {
					zap.L().Error("metrics server failed", zap.Error(err))
				}
			}()
		}

		orch := batch.New(st, reg, opts...)
		sum, err := orch.RunPhase(ctx, phase, list, batch.RunOptions{
			Force:             runForce,
			Limit:             runLimit,
			Workers:           runWorkers,
			AllowPartialIndex: runAllowPartial,
		})
		if err != nil {
			return eris.Wrapf(err, "run %s", phase)
		}
		sum.Log()
		return writeSummary(os.Stdout, sum)
	},
}

func writeSummary(out io.Writer, sum *batch.Summary) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func init() {
	runCmd.Flags().StringVar(&runPhase, "phase", "", "phase to run (see `enrich-cli phases`)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max entities to dispatch (0 = all)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "recompute entities that already completed the phase")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "override batch.workers")
	runCmd.Flags().BoolVar(&runAllowPartial, "allow-partial", false, "run index-dependent phases below their minimum coverage")
	_ = runCmd.MarkFlagRequired("phase")
	rootCmd.AddCommand(runCmd)
}
