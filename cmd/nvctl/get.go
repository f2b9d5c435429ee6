package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"nvcore/pkg/persist"
)

var getCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Get a record by identity",
	Args:  cobra.ExactArgs(2),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	collection, id := args[0], args[1]
	store, gate, log, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reader, err := persist.NewReader(store, gate, recordType(collection, nil), persist.WithLogger(log))
	if err != nil {
		return err
	}
	b, err := reader.ReadOneByID(cmd.Context(), id)
	if err != nil {
		return err
	}
	rec, ok := b.Singleton()
	if !ok {
		return fmt.Errorf("record %q not found in %s", id, collection)
	}
	doc, err := rec.document()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
