// Command nvctl is an administration tool for nvcore document collections:
// it reads, writes, deletes, and paginates records and ensures declared
// indexes, against any configured backend.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nvcore/internal/core"
	"nvcore/pkg/keyset"
	"nvcore/pkg/persist"
)

var rootCmd = &cobra.Command{
	Use:          "nvctl",
	Short:        "Administer nvcore document collections",
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("driver", "", "storage driver: memory|sqlite|postgres")
	flags.String("sqlite-path", "", "sqlite database file")
	flags.String("postgres-dsn", "", "postgres connection string")
	flags.String("log-level", "info", "log level: trace|debug|info|warn|error")

	for _, key := range []string{"driver", "sqlite-path", "postgres-dsn", "log-level"} {
		if err := viper.BindPFlag(strings.ReplaceAll(key, "-", "_"), flags.Lookup(key)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("NVCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(indexesCmd)
}

func newLogger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger(), nil
}

// openStore builds the configured backend. Flags and NVCORE_* environment
// variables select the driver; the driver is never inferred.
func openStore(cmd *cobra.Command) (persist.Store, *persist.Gate, zerolog.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	cfg := core.Config{
		Driver:      core.Driver(viper.GetString("driver")),
		SQLitePath:  viper.GetString("sqlite_path"),
		PostgresDSN: viper.GetString("postgres_dsn"),
		Logger:      log,
	}
	if cfg.Driver == "" {
		cfg = core.FromEnv(log)
	}
	store, err := core.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, log, err
	}
	return store, persist.NewGate(store, log), log, nil
}

// parseOrder parses "field", "field:desc" pairs into an order spec.
func parseOrder(clauses []string) (keyset.OrderSpec, error) {
	var spec keyset.OrderSpec
	for _, raw := range clauses {
		field, dir, found := strings.Cut(raw, ":")
		key := keyset.OrderKey{Field: strings.TrimSpace(field)}
		if found {
			switch strings.TrimSpace(dir) {
			case "asc":
			case "desc":
				key.Desc = true
			default:
				return nil, fmt.Errorf("order clause %q: direction must be asc or desc", raw)
			}
		}
		spec = append(spec, key)
	}
	if len(spec) > 0 {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
