package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/gather"
	"github.com/dreamware/gtgather/internal/logger"
)

// newRootCommand builds the gtgather command tree.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gtgather",
		Short: "Query an array across a group of participants and gather the variants at rank 0",
		Long: `gtgather runs the same interval query on every participant of a group,
then gathers the encoded variants at rank 0 in two rounds: sizes first, then
payloads. Rank 0 refuses the run before any payload moves when the total
exceeds the transfer limit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &config.ArgumentError{Arg: "flag", Err: err}
	})

	viper.SetEnvPrefix(envPrefix)
	bindLogFlags(root)
	bindQueryFlags(root)

	root.AddCommand(
		newCoordinatorCommand(),
		newWorkerCommand(),
		newLocalCommand(),
		newLoadCommand(),
	)
	return root
}

// newLogger builds the process logger from the log flags.
func newLogger() (logger.Logger, error) {
	log, err := logger.NewLogger(viper.GetString("log.format"), viper.GetString("log.level"))
	if err != nil {
		return nil, &config.ArgumentError{Arg: "log flags", Err: err}
	}
	return log, nil
}

// exitCode maps a command error to the process exit status: -1 for usage
// problems and refused transfers, 1 for every other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case config.IsArgumentError(err), errors.Is(err, gather.ErrOverflow):
		return -1
	default:
		return 1
	}
}
