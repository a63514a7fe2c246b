// Package statuscmder provides the status command: a quick check against a
// running engram server.
package statuscmder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/logger"
)

type StatusCommander struct {
	target string
	debug  bool
}

func NewStatusCmd() *cobra.Command {
	cmder := &StatusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check a running engram server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.target, "target", "t", "http://localhost:8080", "Base URL of the engram server")

	return cmd
}

func (c *StatusCommander) run() error {
	log := logger.Pretty(c.debug, nil)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(c.target + "/ping")
	if err != nil {
		log.Error("server unreachable", "target", c.target, "error", err)
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error("ping failed", "status", resp.StatusCode)
		return fmt.Errorf("ping returned %d", resp.StatusCode)
	}
	log.Info("server up", "target", c.target)

	resp, err = client.Get(c.target + "/v1/graph/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var caps map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return fmt.Errorf("decoding capabilities: %w", err)
	}

	for _, key := range []string{"vector_available", "graph_available", "cache_distributed", "events_durable"} {
		log.Info("capability", "name", key, "enabled", caps[key])
	}

	return nil
}
