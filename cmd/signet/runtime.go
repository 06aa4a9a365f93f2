package main

import (
	"context"
	"fmt"

	"github.com/signetlabs/signet/internal/config"
	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/clock"
	"github.com/signetlabs/signet/pkg/composite"
	"github.com/signetlabs/signet/pkg/fga"
	"github.com/signetlabs/signet/pkg/identity"
	"github.com/signetlabs/signet/pkg/notify"
	"github.com/signetlabs/signet/pkg/revocation"
	"github.com/signetlabs/signet/pkg/store"
	"github.com/signetlabs/signet/pkg/tsa"
	"github.com/signetlabs/signet/pkg/workflow"
)

// core bundles the wired service graph behind the CLI commands.
type core struct {
	cfg        *config.Config
	store      store.Port
	journal    *audit.Journal
	evaluator  *fga.Evaluator
	engine     *workflow.Engine
	composites *composite.Service

	closer func() error
}

// loadConfig reads the configured file, or defaults when none given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// buildCore wires the persistence port, audit journal, authorization
// evaluator, timestamp chain and workflow engine from configuration.
func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	backend, closer, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// Transient backend unavailability is absorbed here so every
	// consumer sees the backoff schedule.
	port := store.NewRetrying(backend)

	journal := audit.NewJournal(port)
	clk := clock.System{}

	evaluator := fga.NewEvaluator(port, identity.NewStatic(), journal)
	if cfg.Policies.Dir != "" {
		if _, err := cfg.SeedPolicies(ctx, evaluator.Policies()); err != nil {
			_ = closer()
			return nil, fmt.Errorf("failed to seed policies: %w", err)
		}
	}

	providers := cfg.EffectiveProviders()
	tsaClient := tsa.NewFailover(providers)

	composites := composite.NewService(port, tsaClient, clk, providers,
		composite.WithJournal(journal),
		composite.WithRevocationChecker(revocation.NewChecker()),
		composite.WithValidationInterval(cfg.Validation.Interval.Std()),
	)

	engine := workflow.NewEngine(port, notify.Nop{}, clk, journal,
		workflow.WithSealer(composites),
		workflow.WithAuthorizer(evaluator),
	)

	return &core{
		cfg:        cfg,
		store:      port,
		journal:    journal,
		evaluator:  evaluator,
		engine:     engine,
		composites: composites,
		closer:     closer,
	}, nil
}

// Close releases the persistence backend.
func (c *core) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
