package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/gtgather/internal/gather"
	"github.com/dreamware/gtgather/internal/variant"
)

const envPrefix = "GTGATHER"

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func mustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// envName maps a viper key such as "worker.op-timeout" to GTGATHER_WORKER_OP_TIMEOUT.
func envName(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return envPrefix + "_" + strings.ToUpper(r.Replace(key))
}

// bind declares that key is set by flag name of flags, or by its environment variable.
func bind(flags *pflag.FlagSet, key, name string) {
	mustBindPFlag(key, flags.Lookup(name))
	mustBindEnv(key, envName(key))
}

// bindQueryFlags adds the flags shared by every command that runs a query.
func bindQueryFlags(command *cobra.Command) {
	flags := command.PersistentFlags()

	flags.StringP("workspace", "w", "", "workspace directory holding the arrays")
	bind(flags, "workspace", "workspace")

	flags.StringP("array", "A", "", "name of the array to query")
	bind(flags, "array", "array")

	flags.StringP("json-config", "j", "", "JSON file with workspace, array, query_attributes and query_column_ranges")
	bind(flags, "json-config", "json-config")

	flags.StringP("output-format", "O", "", "output format: json, positions-json or tsv")
	bind(flags, "output-format", "output-format")

	flags.IntP("page-size", "p", 0, "accepted for compatibility and ignored")
	bind(flags, "page-size", "page-size")

	flags.Bool("skip-query-on-root", false, "rank 0 contributes no variants of its own")
	bind(flags, "skip-query-on-root", "skip-query-on-root")

	flags.Bool("profile", false, "gather per-rank timings and print them as CSV on stderr")
	bind(flags, "profile", "profile")

	flags.Uint64("transfer-limit", gather.DefaultTransferLimit, "largest aggregated payload in bytes")
	bind(flags, "transfer-limit", "transfer-limit")

	flags.Int("capacity-hint", variant.DefaultCapacityHint, "initial size of each participant's buffer in bytes")
	bind(flags, "capacity-hint", "capacity-hint")
}

// bindLogFlags adds the logging flags to the root command.
func bindLogFlags(command *cobra.Command) {
	flags := command.PersistentFlags()

	flags.String("log-format", "text", "log format: text or json")
	bind(flags, "log.format", "log-format")

	flags.String("log-level", "info", "log level: none, debug, info, warn or error")
	bind(flags, "log.level", "log-level")
}

// runSettings is the resolved value of the query flags.
type runSettings struct {
	Workspace       string
	Array           string
	JSONConfig      string
	Format          string
	PageSize        int
	SkipQueryOnRoot bool
	Profile         bool
	TransferLimit   uint64
	CapacityHint    int
}

func settingsFromViper() runSettings {
	return runSettings{
		Workspace:       viper.GetString("workspace"),
		Array:           viper.GetString("array"),
		JSONConfig:      viper.GetString("json-config"),
		Format:          viper.GetString("output-format"),
		PageSize:        viper.GetInt("page-size"),
		SkipQueryOnRoot: viper.GetBool("skip-query-on-root"),
		Profile:         viper.GetBool("profile"),
		TransferLimit:   viper.GetUint64("transfer-limit"),
		CapacityHint:    viper.GetInt("capacity-hint"),
	}
}
