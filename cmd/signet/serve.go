package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signetlabs/signet/internal/api/router"
	"github.com/signetlabs/signet/internal/api/server"
)

// Serve command flags
var (
	serveAddr    string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Signet REST API server",
	Long: `Start the Signet REST API server.

The server exposes workflow commands, authorization evaluation,
composite verification and audit stream reads under /api/v1, plus
/health and /ready probes. A daily long-term validation sweep runs in
the background while the server is up.

Environment variables:
  SIGNET_ADDR      Listen address (overrides config)
  SIGNET_TLS_CERT  TLS certificate file
  SIGNET_TLS_KEY   TLS private key file

Examples:
  # Start with a config file
  signet serve --config signet.yaml

  # Override the listen address
  signet serve --config signet.yaml --addr :9000

  # Start with TLS
  signet serve --config signet.yaml --tls-cert server.crt --tls-key server.key`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeEnvVars()

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

	authorityRoots, signerRoots, err := cfg.LoadTrustPools()
	if err != nil {
		return fmt.Errorf("failed to load trust anchors: %w", err)
	}

	// Long-term validation sweep, re-armed daily.
	stopValidation := c.composites.StartDailyValidation(ctx)
	defer stopValidation()

	srvCfg := &server.Config{
		Addr:            cfg.Server.Addr,
		TLSCert:         serveTLSCert,
		TLSKey:          serveTLSKey,
		ReadTimeout:     cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
	}
	if serveAddr != "" {
		srvCfg.Addr = serveAddr
	}

	routerCfg := &router.Config{
		Version:        version,
		Engine:         c.engine,
		Evaluator:      c.evaluator,
		Composites:     c.composites,
		Journal:        c.journal,
		AuthorityRoots: authorityRoots,
		SignerRoots:    signerRoots,
	}

	return server.New(srvCfg, routerCfg).Start()
}

// applyServeEnvVars applies environment variable overrides to flags.
func applyServeEnvVars() {
	if serveAddr == "" {
		serveAddr = os.Getenv("SIGNET_ADDR")
	}
	if serveTLSCert == "" {
		serveTLSCert = os.Getenv("SIGNET_TLS_CERT")
	}
	if serveTLSKey == "" {
		serveTLSKey = os.Getenv("SIGNET_TLS_KEY")
	}
}
