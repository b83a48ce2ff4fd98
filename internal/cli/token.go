package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var verifyToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Acquire a DAT from the DAPS",
	Long: `Acquire a Dynamic Attribute Token from the configured DAPS and print it.

With --verify the token is checked against the DAPS signing key and its
claims are printed as JSON instead.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().BoolVar(&verifyToken, "verify", false, "Verify the token and print its claims")
}

func runToken(cmd *cobra.Command, _ []string) error {
	c, err := loadConnector(cmd)
	if err != nil {
		return err
	}
	token, err := c.Tokens.Token(cmd.Context())
	if err != nil {
		return fmt.Errorf("acquiring token: %w", err)
	}
	if !verifyToken {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	}

	claims, err := c.Validator.Validate(cmd.Context(), token)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(claims)
}
