package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/cluster"
	"github.com/dreamware/gtgather/internal/collective"
	"github.com/dreamware/gtgather/internal/config"
)

func newCoordinatorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator [<start> <end>]",
		Short: "Run rank 0 of a networked group and print the gathered variants",
		Args:  cobra.ArbitraryArgs,
		RunE:  runCoordinator,
	}
	flags := cmd.Flags()

	flags.String("listen", ":8080", "address the collective endpoints are served on")
	bind(flags, "coordinator.listen", "listen")

	flags.Int("size", 1, "number of participants in the group, including rank 0")
	bind(flags, "coordinator.size", "size")

	return cmd
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	size := viper.GetInt("coordinator.size")
	if size < 1 {
		return config.Argumentf("size", "group size %d is below 1", size)
	}

	ln, err := net.Listen("tcp", viper.GetString("coordinator.listen"))
	if err != nil {
		return &config.ArgumentError{Arg: "listen", Err: err}
	}

	coord := collective.NewHTTPCoordinator(size, log)
	mux := http.NewServeMux()
	coord.Register(mux)
	mux.Handle(cluster.PathMetrics, promhttp.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("coordinator listening", zap.String("addr", ln.Addr().String()), zap.Int("size", size))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve", zap.Error(err))
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &participant{
		settings: settingsFromViper(),
		args:     args,
		logger:   log,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}
	return p.run(ctx, collective.NewComm(coord))
}
