package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/cluster"
	"github.com/dreamware/gtgather/internal/collective"
	"github.com/dreamware/gtgather/internal/config"
)

func newWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker [<start> <end>]",
		Short: "Run one rank > 0 of a networked group",
		Args:  cobra.ArbitraryArgs,
		RunE:  runWorker,
	}
	flags := cmd.Flags()

	flags.Int("rank", 1, "rank of this participant, from 1 to size-1")
	bind(flags, "worker.rank", "rank")

	flags.Int("size", 2, "number of participants in the group, including rank 0")
	bind(flags, "worker.size", "size")

	flags.String("coordinator-addr", "http://localhost:8080", "base URL of the coordinator")
	bind(flags, "worker.coordinator-addr", "coordinator-addr")

	flags.Duration("op-timeout", 0, "bound on each collective operation, 0 waits for rank 0 indefinitely")
	bind(flags, "worker.op-timeout", "op-timeout")

	flags.Duration("connect-timeout", 30*time.Second, "how long to wait for the coordinator to come up")
	bind(flags, "worker.connect-timeout", "connect-timeout")

	flags.Duration("health-interval", 2*time.Second, "how often to check that the coordinator is alive, 0 disables the check")
	bind(flags, "worker.health-interval", "health-interval")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	rank, size := viper.GetInt("worker.rank"), viper.GetInt("worker.size")
	if rank < 1 || rank >= size {
		return config.Argumentf("rank", "rank %d is outside [1, %d)", rank, size)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := viper.GetString("worker.coordinator-addr")
	w := collective.NewHTTPWorker(base, rank, size, viper.GetDuration("worker.op-timeout"), log)
	if err := w.WaitReady(ctx, viper.GetDuration("worker.connect-timeout")); err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if interval := viper.GetDuration("worker.health-interval"); interval > 0 {
		monitor := cluster.NewHealthMonitor(interval, log)
		monitor.SetOnUnhealthy(func(peer cluster.Member) {
			if h, ok := monitor.Health(peer.Rank); ok {
				log.Error("cancelling run, coordinator unreachable",
					zap.String("addr", peer.Addr),
					zap.Int("failed_checks", h.ConsecutiveFails),
					zap.Time("last_healthy", h.LastHealthy))
			}
			cancel(fmt.Errorf("coordinator at %s stopped answering health checks", peer.Addr))
		})
		go monitor.Start(ctx, func() []cluster.Member {
			return []cluster.Member{{Rank: 0, Addr: base}}
		})
		defer monitor.Stop()
	}

	p := &participant{
		settings: settingsFromViper(),
		args:     args,
		logger:   log,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}
	err = p.run(ctx, collective.NewComm(w))
	if cause := context.Cause(ctx); err != nil && cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}
