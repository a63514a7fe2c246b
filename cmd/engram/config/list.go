package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration keys and their current values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := configerFrom(cmd)
			if err != nil {
				return err
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return err
			}

			for _, key := range config.ValidConfigKeys() {
				value, err := config.GetKey(cfg, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
			}
			return nil
		},
	}
}
