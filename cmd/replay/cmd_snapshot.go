package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/repository"
	"PatternMemory/internal/services/memory"
)

var snapshotPath string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect memory snapshot files",
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load a snapshot, migrating older schemas, and print memory statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snap, err := repository.NewFileSnapshotStore(snapshotPath).Load(cmd.Context())
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no snapshot at %s", snapshotPath)
		}
		store := memory.NewStore(cfg.Memory, cfg.Instruments)
		if err := store.Restore(snap); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			SchemaVersion int                `json:"schema_version"`
			SavedAt       time.Time          `json:"saved_at"`
			Stats         models.MemoryStats `json:"stats"`
		}{snap.SchemaVersion, snap.SavedAt, store.Stats()})
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&snapshotPath, "path", "data/memory.json", "snapshot file")
}
