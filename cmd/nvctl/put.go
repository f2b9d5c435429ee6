package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"nvcore/pkg/dto"
	"nvcore/pkg/persist"
)

var (
	putID    string
	putOwner string
	putActor string
)

var putCmd = &cobra.Command{
	Use:   "put <collection> <json>",
	Short: "Insert a record",
	Long: `Put inserts one record from a JSON body. The engine never mints
identities, so nvctl assigns a fresh UUIDv4 unless --id is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

func init() {
	putCmd.Flags().StringVar(&putID, "id", "", "identity to assign (default: mint a UUIDv4)")
	putCmd.Flags().StringVar(&putOwner, "owner", "", "owning principal id")
	putCmd.Flags().StringVar(&putActor, "actor", "", "updating principal id")
}

func runPut(cmd *cobra.Command, args []string) error {
	collection, body := args[0], args[1]
	store, gate, log, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var fields dto.Document
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return fmt.Errorf("parse body: %w", err)
	}
	id := putID
	if id == "" {
		id = uuid.NewString()
	}
	rec := &record{fields: fields}
	rec.Ref().AssignID(id)
	rec.Meta().Owner = putOwner

	writer, err := persist.NewWriter(store, gate, recordType(collection, nil),
		persist.WithLogger(log), persist.WithActor(putActor))
	if err != nil {
		return err
	}
	if err := writer.Write(cmd.Context(), rec); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
