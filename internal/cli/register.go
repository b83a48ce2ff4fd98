package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ids/internal/configmanager"
)

var (
	managerURL  string
	ownEndpoint string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register at the configuration manager",
	Long: `Announce this connector's endpoint to a configuration manager so that it
can push configuration updates.

Examples:
  # Use the configManager section of the configuration file
  ids-connector register

  # Override the manager and endpoint
  ids-connector register --manager https://cm.example.com/api/register --endpoint https://connector.example.com`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&managerURL, "manager", "", "Configuration manager URL (overrides configManager.url)")
	registerCmd.Flags().StringVar(&ownEndpoint, "endpoint", "", "Endpoint announced to the manager (overrides configManager.ownEndpoint)")
}

func runRegister(cmd *cobra.Command, _ []string) error {
	c, err := loadConnector(cmd)
	if err != nil {
		return err
	}
	manager := c.Config.ConfigManager.URL
	if managerURL != "" {
		manager = managerURL
	}
	endpoint := c.Config.ConfigManager.OwnEndpoint
	if ownEndpoint != "" {
		endpoint = ownEndpoint
	}
	if manager == "" || endpoint == "" {
		return errors.New("configuration manager url and own endpoint are required")
	}

	reply, err := configmanager.Register(cmd.Context(), c.HTTP, manager, endpoint)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s at %s\n%s\n", endpoint, manager, reply)
	return err
}
