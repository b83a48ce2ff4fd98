// Command ids-connector runs an IDS connector.
package main

import (
	"os"

	"github.com/sirosfoundation/go-ids/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
