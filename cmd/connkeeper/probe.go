package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"connkeeper/internal/monitor"
)

func newProbeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run one reachability probe and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			res := monitor.NewProbeClient(cfg, nil, logger).Probe(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.OK {
				return errUnreachable
			}
			return nil
		},
	}
}
