package configcmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
)

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfger, err := configerFrom(cmd)
			if err != nil {
				return err
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return err
			}

			if err := config.SetKey(cfg, args[0], args[1]); err != nil {
				return err
			}

			return cfger.SaveConfig(cfg)
		},
	}
}
