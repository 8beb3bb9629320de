package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"connkeeper/internal/storage"
)

func newCacheCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the state cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a cache entry (the bolt backend is locked while serve runs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			backend, err := openBackend(cfg)
			if err != nil {
				return fmt.Errorf("open state cache: %w", err)
			}
			cache := storage.NewCache(backend, nil, logger)
			defer cache.Close()

			entry := cache.Read(args[0])
			if entry == nil {
				return fmt.Errorf("no cache entry for %q", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	})
	return cmd
}
