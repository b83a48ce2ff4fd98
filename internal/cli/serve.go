package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connector",
	Long: `Load the configuration model and identity, then serve the IDS
endpoints until interrupted.

Examples:
  # Serve with a configuration file
  ids-connector serve --config /etc/ids/config.yaml

  # Override the key store password from the environment
  IDS_KEYSTORE_PASSWORD=secret ids-connector serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := loadConnector(cmd)
	if err != nil {
		return err
	}
	c.Logger.Info("connector loaded",
		"connector_id", c.Configuration.Model().ConnectorID(),
		"deploy_mode", string(c.Configuration.Model().ConnectorDeployMode),
		"port", c.Config.Server.Port,
	)
	return c.Run(ctx)
}
