// Package router provides HTTP routing configuration using Chi.
package router

import (
	"crypto/x509"
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signetlabs/signet/internal/api/handler"
	"github.com/signetlabs/signet/internal/api/middleware"
	"github.com/signetlabs/signet/internal/api/service"
	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/composite"
	"github.com/signetlabs/signet/pkg/fga"
	"github.com/signetlabs/signet/pkg/workflow"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router configuration and the wired core services.
type Config struct {
	Version string

	Engine     *workflow.Engine
	Evaluator  *fga.Evaluator
	Composites *composite.Service
	Journal    *audit.Journal

	// Trust pools used when verifying composites over the API.
	AuthorityRoots *x509.CertPool
	SignerRoots    *x509.CertPool

	// Now overrides the verification clock; nil means time.Now.
	Now func() time.Time

	// Ready reports per-dependency readiness for GET /ready.
	Ready func() map[string]bool
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS)

	// Health endpoints (always enabled)
	services := []string{"workflow", "fga", "composite", "audit"}
	healthHandler := handler.NewHealthHandler(cfg.Version, services, cfg.Ready)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// OpenAPI spec
	r.Get("/api/openapi.yaml", serveOpenAPISpec)

	// Create services
	workflowService := service.NewWorkflowService(cfg.Engine)
	fgaService := service.NewFGAService(cfg.Evaluator)
	compositeService := service.NewCompositeService(cfg.Composites, cfg.AuthorityRoots, cfg.SignerRoots, cfg.Now)
	auditService := service.NewAuditService(cfg.Journal)

	// Create handlers
	workflowHandler := handler.NewWorkflowHandler(workflowService)
	fgaHandler := handler.NewFGAHandler(fgaService)
	compositeHandler := handler.NewCompositeHandler(compositeService)
	auditHandler := handler.NewAuditHandler(auditService)

	r.Route("/api/v1", func(r chi.Router) {
		// Document operations
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", workflowHandler.CreateDocument)
			r.Get("/{id}", workflowHandler.GetDocument)
		})

		// Definition operations
		r.Route("/definitions", func(r chi.Router) {
			r.Post("/", workflowHandler.CreateDefinition)
			r.Post("/validate", workflowHandler.ValidateDefinition)
			r.Get("/{id}", workflowHandler.GetDefinition)
		})

		// Instance operations
		r.Route("/instances", func(r chi.Router) {
			r.Post("/", workflowHandler.CreateInstance)
			r.Get("/{id}", workflowHandler.GetInstance)
			r.Post("/{id}/start", workflowHandler.Start)
			r.Post("/{id}/view", workflowHandler.View)
			r.Post("/{id}/sign", workflowHandler.Sign)
			r.Post("/{id}/decline", workflowHandler.Decline)
			r.Post("/{id}/delegate", workflowHandler.Delegate)
			r.Post("/{id}/void", workflowHandler.Void)
		})

		// Authorization
		r.Post("/authorize", fgaHandler.Authorize)
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", fgaHandler.ListPolicies)
			r.Put("/{id}", fgaHandler.PutPolicy)
			r.Get("/{id}", fgaHandler.GetPolicy)
			r.Post("/{id}/disable", fgaHandler.DisablePolicy)
		})

		// Composite evidence
		r.Route("/composites", func(r chi.Router) {
			r.Post("/revalidate", compositeHandler.Revalidate)
			r.Post("/backfill", compositeHandler.Backfill)
			r.Get("/{id}", compositeHandler.Get)
			r.Post("/{id}/verify", compositeHandler.Verify)
			r.Get("/{id}/export", compositeHandler.Export)
			r.Post("/{id}/retimestamp", compositeHandler.ReTimestamp)
		})

		// Audit streams
		r.Route("/audit", func(r chi.Router) {
			r.Get("/{stream}", auditHandler.Entries)
			r.Get("/{stream}/verify", auditHandler.Verify)
		})
	})

	return r
}

// serveOpenAPISpec serves the embedded OpenAPI specification.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapiSpec)
}
