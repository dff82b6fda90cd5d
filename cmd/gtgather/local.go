package main

import (
	"context"
	"errors"
	"io"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/gtgather/internal/collective"
	"github.com/dreamware/gtgather/internal/config"
)

func newLocalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local [<start> <end>]",
		Short: "Run a whole group inside this process",
		Args:  cobra.ArbitraryArgs,
		RunE:  runLocal,
	}
	flags := cmd.Flags()

	flags.IntP("participants", "n", 2, "number of participants in the group")
	bind(flags, "local.participants", "participants")

	return cmd
}

func runLocal(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	n := viper.GetInt("local.participants")
	if n < 1 {
		return config.Argumentf("participants", "group size %d is below 1", n)
	}
	return runGroup(cmd.Context(), n, func(rank int) *participant {
		p := &participant{
			settings: settingsFromViper(),
			args:     args,
			logger:   log,
			out:      io.Discard,
			errOut:   io.Discard,
		}
		if rank == 0 {
			p.out, p.errOut = cmd.OutOrStdout(), cmd.ErrOrStderr()
		}
		return p
	})
}

// runGroup runs n participants over an in-process group and reports the
// failure of the lowest rank that did more than observe the abort.
func runGroup(ctx context.Context, n int, build func(rank int) *participant) error {
	group := collective.NewLocalGroup(n)
	errs := make([]error, n)

	p := pool.New().WithErrors()
	for rank, ch := range group.Channels() {
		part := build(rank)
		p.Go(func() error {
			errs[rank] = part.run(ctx, ch)
			return errs[rank]
		})
	}
	if p.Wait() == nil {
		return nil
	}

	for _, err := range errs {
		if err != nil && !errors.Is(err, collective.ErrAborted) {
			return err
		}
	}
	return errors.Join(errs...)
}
