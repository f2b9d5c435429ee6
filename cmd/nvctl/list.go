package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nvcore/pkg/bag"
	"nvcore/pkg/persist"
)

var (
	listLimit   int
	listCursor  string
	listReverse bool
	listOrder   []string
	listWhere   []string
)

var listCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List records with keyset pagination",
	Long: `List prints one JSON document per line. When more rows remain, the
continuation cursor is printed to stderr; pass it back with --cursor to
fetch the next page.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "page size")
	listCmd.Flags().StringVar(&listCursor, "cursor", "", "continuation cursor from a previous page")
	listCmd.Flags().BoolVar(&listReverse, "reverse", false, "traverse in reverse order")
	listCmd.Flags().StringArrayVar(&listOrder, "order", nil, "order clause field[:asc|desc], repeatable")
	listCmd.Flags().StringArrayVar(&listWhere, "where", nil, "equality filter field=value, repeatable")
}

func runList(cmd *cobra.Command, args []string) error {
	collection := args[0]
	store, gate, log, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	order, err := parseOrder(listOrder)
	if err != nil {
		return err
	}
	var filter bag.Plan
	for _, raw := range listWhere {
		field, value, found := strings.Cut(raw, "=")
		if !found || field == "" {
			return fmt.Errorf("filter %q: want field=value", raw)
		}
		filter.And = append(filter.And, bag.Eq(field, value))
	}

	reader, err := persist.NewReader(store, gate, recordType(collection, nil), persist.WithLogger(log))
	if err != nil {
		return err
	}
	b, next, err := reader.ReadBatch(cmd.Context(), persist.Batch{
		Filter:  filter,
		Order:   order,
		Limit:   listLimit,
		Cursor:  listCursor,
		Reverse: listReverse,
	})
	if err != nil {
		return err
	}
	for rec := range b.Seq() {
		doc, err := rec.document()
		if err != nil {
			return err
		}
		line, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(line))
	}
	if next != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "next cursor: %s\n", next)
	}
	return nil
}
