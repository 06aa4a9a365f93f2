package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Run one long-term validation sweep",
	Long: `Run one long-term validation sweep over composites whose
next_validation_due has passed.

Each due composite is checked for signer and authority certificate
revocation (OCSP, falling back to CRL) and flagged for re-timestamping
when its token is older than five years or uses a deprecated hash
algorithm. A validation report is stored per composite.

Examples:
  signet revalidate --config signet.yaml`,
	RunE: runRevalidate,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Seal signatures deferred during a TSA outage",
	Long: `Seal signatures that are awaiting a timestamp.

When every timestamp provider is down at signing time, the workflow
completes and the signature is stored awaiting its token. This command
retries the timestamp chain for each such signature and seals the
composite on success.

Examples:
  signet backfill --config signet.yaml`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(revalidateCmd)
	rootCmd.AddCommand(backfillCmd)
}

func runRevalidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	checked, err := c.composites.RunValidation(ctx, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Validation sweep complete\n")
	fmt.Printf("  Composites checked: %d\n", checked)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	sealed, err := c.composites.Backfill(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Backfill complete\n")
	fmt.Printf("  Signatures sealed: %d\n", sealed)
	return nil
}
