// Command signet is the CLI tool for the Signet e-signature service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "signet",
	Short: "Signet - e-signature workflows with timestamped evidence",
	Long: `Signet is a command-line tool and server for running e-signature
workflows: sequential, parallel and custom DAG signing ceremonies over
documents, with fine-grained authorization, RFC 3161 trusted
timestamps, and tamper-evident audit streams.

Every signature is sealed into a composite: the document hash, the
signature bytes, the signer certificate and a timestamp token from a
qualified authority, stored together and verifiable offline.

Examples:
  # Validate a workflow definition
  signet workflow validate --file nda.json

  # Lint an authorization policy
  signet policy lint --file policies/legal-hold.json

  # Evaluate an access request against stored policies
  signet policy eval --subject alice@example.com --action DOCUMENT_SIGN --resource doc_123

  # Verify a composite and its timestamp chain
  signet verify composite --id comp_0042

  # Start the REST API server
  signet serve --config signet.yaml`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
}
