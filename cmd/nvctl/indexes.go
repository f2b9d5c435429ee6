package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nvcore/pkg/dto"
)

var (
	indexUnique []string
	indexLookup []string
)

var indexesCmd = &cobra.Command{
	Use:   "indexes <collection>",
	Short: "Ensure declared indexes exist on a collection",
	Long: `Indexes reconciles the given hints against the live store. Each flag
value is a comma-separated field list forming one index, e.g.
--unique email --lookup status,createdAt.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexes,
}

func init() {
	indexesCmd.Flags().StringArrayVar(&indexUnique, "unique", nil, "unique index field list, repeatable")
	indexesCmd.Flags().StringArrayVar(&indexLookup, "lookup", nil, "lookup index field list, repeatable")
}

func runIndexes(cmd *cobra.Command, args []string) error {
	collection := args[0]
	store, gate, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var hints []dto.IndexHint
	for _, raw := range indexUnique {
		hints = append(hints, dto.IndexHint{Kind: dto.IndexUnique, Fields: splitFields(raw)})
	}
	for _, raw := range indexLookup {
		hints = append(hints, dto.IndexHint{Kind: dto.IndexLookup, Fields: splitFields(raw)})
	}
	if len(hints) == 0 {
		return fmt.Errorf("no index hints given")
	}
	for _, h := range hints {
		if err := h.Validate(); err != nil {
			return err
		}
	}
	if err := gate.Ensure(cmd.Context(), collection, hints); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ensured %d index hint(s) on %s\n", len(hints), collection)
	return nil
}

func splitFields(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			out = append(out, f)
		}
	}
	return out
}
