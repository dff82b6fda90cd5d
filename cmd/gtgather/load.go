package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/storage"
	"github.com/dreamware/gtgather/internal/variant"
)

func newLoadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [<file.jsonl>]",
		Short: "Import variants from JSON lines into an array of the workspace",
		Long: `load reads one variant per line, for example

  {"row": 0, "begin": 100, "end": 100, "attributes": {"REF": "A", "PL": [0, 3, 30]}}

and stores them in the array named by --array inside --workspace. Attribute
kinds are inferred from the values unless --schema declares them. Without a
file, load reads standard input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLoad,
	}
	flags := cmd.Flags()

	flags.String("schema", "", "attribute kinds as name:kind pairs, e.g. PL:ints,BaseQRankSum:float")
	bind(flags, "load.schema", "schema")

	return cmd
}

// parseSchemaFlag parses name:kind pairs separated by commas.
func parseSchemaFlag(s string) (map[string]variant.Kind, error) {
	kinds := make(map[string]variant.Kind)
	if s == "" {
		return kinds, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, kind, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" {
			return nil, config.Argumentf("schema", "expected name:kind, got %q", pair)
		}
		k, err := variant.ParseKind(kind)
		if err != nil {
			return nil, &config.ArgumentError{Arg: "schema", Err: err}
		}
		kinds[name] = k
	}
	return kinds, nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	workspace, array := viper.GetString("workspace"), viper.GetString("array")
	if workspace == "" || array == "" {
		return config.Argumentf("workspace", "load needs both --workspace and --array")
	}
	kinds, err := parseSchemaFlag(viper.GetString("load.schema"))
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return &config.ArgumentError{Arg: "file", Err: err}
		}
		defer f.Close()
		in = f
	}

	n, err := storage.LoadJSONLines(cmd.Context(), workspace, array, in, kinds)
	if err != nil {
		return fmt.Errorf("load %s: %w", array, err)
	}
	log.Info("array loaded",
		zap.String("workspace", workspace),
		zap.String("array", array),
		zap.Int("variants", n))
	return nil
}
