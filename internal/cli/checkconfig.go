package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ids/pkg/daps"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration, model and identity",
	Long: `Load the configuration file, the configuration model and the key and
trust stores, then print a summary of the connector identity. Exits with
an error if anything fails to load.`,
	RunE: runCheckConfig,
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	c, err := loadConnector(cmd)
	if err != nil {
		return err
	}
	model := c.Configuration.Model()
	cert := c.Configuration.Identity().Certificate()

	dapsID, err := daps.ConnectorID(cert)
	if err != nil {
		dapsID = fmt.Sprintf("unavailable (%v)", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Connector:\t%s\n", model.ConnectorID())
	fmt.Fprintf(w, "Deploy mode:\t%s\n", model.ConnectorDeployMode)
	fmt.Fprintf(w, "Model version:\t%s\n", model.ModelVersion())
	fmt.Fprintf(w, "Certificate:\t%s\n", cert.Subject)
	fmt.Fprintf(w, "DAPS client id:\t%s\n", dapsID)
	fmt.Fprintf(w, "Expires:\t%s\n", cert.NotAfter.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Trust anchors:\t%d\n", len(c.Configuration.Identity().TrustVerifier().Anchors()))
	fmt.Fprintf(w, "DAPS:\t%s\n", c.Config.DAPS.URL)
	fmt.Fprintf(w, "Brokers:\t%d\n", len(c.Config.Brokers))
	if err := w.Flush(); err != nil {
		return err
	}
	if time.Now().After(cert.NotAfter) {
		return fmt.Errorf("connector certificate expired at %s", cert.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}
