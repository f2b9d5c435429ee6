package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nvcore/pkg/persist"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a record by identity",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	collection, id := args[0], args[1]
	store, gate, log, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	writer, err := persist.NewWriter(store, gate, recordType(collection, nil), persist.WithLogger(log))
	if err != nil {
		return err
	}
	found, err := writer.DeleteByID(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("record %q not found in %s", id, collection)
	}
	return nil
}
