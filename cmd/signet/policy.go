package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signetlabs/signet/pkg/fga"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Authorization policy management",
	Long: `Commands for linting and evaluating fine-grained authorization
policies.

Policies combine RBAC (roles), ReBAC (relationships) and ABAC
(attribute conditions). Evaluation is deny-overrides within a priority
tier and closed-world: no applicable Allow means Deny.

Examples:
  # Lint a policy file before loading it
  signet policy lint --file policies/legal-hold.json

  # Evaluate an access request against the stored policy set
  signet policy eval --subject alice@example.com --action DOCUMENT_SIGN --resource doc_123`,
}

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check a policy file for schema and condition errors",
	RunE:  runPolicyLint,
}

var policyEvalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate an access request",
	RunE:  runPolicyEval,
}

var (
	policyFile       string
	policySubject    string
	policyAction     string
	policyResource   string
	policyResType    string
	policyShowResult bool
)

func init() {
	policyLintCmd.Flags().StringVar(&policyFile, "file", "", "Path to policy JSON file (required)")
	_ = policyLintCmd.MarkFlagRequired("file")

	policyEvalCmd.Flags().StringVar(&policySubject, "subject", "", "Acting subject (required)")
	_ = policyEvalCmd.MarkFlagRequired("subject")
	policyEvalCmd.Flags().StringVar(&policyAction, "action", "", "Action, e.g. DOCUMENT_SIGN (required)")
	_ = policyEvalCmd.MarkFlagRequired("action")
	policyEvalCmd.Flags().StringVar(&policyResource, "resource", "", "Resource id (required)")
	_ = policyEvalCmd.MarkFlagRequired("resource")
	policyEvalCmd.Flags().StringVar(&policyResType, "resource-type", "", "Resource type")
	policyEvalCmd.Flags().BoolVar(&policyShowResult, "json", false, "Output full result as JSON")

	policyCmd.AddCommand(policyLintCmd)
	policyCmd.AddCommand(policyEvalCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyLint(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(policyFile)
	if err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}

	var p fga.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		fmt.Printf("LINT FAILED\n")
		fmt.Printf("  Policy: %s\n", p.ID)
		fmt.Printf("  Error:  %s\n", err)
		return fmt.Errorf("policy is invalid: %w", err)
	}

	fmt.Printf("LINT PASSED\n")
	fmt.Printf("  Policy:   %s\n", p.ID)
	fmt.Printf("  Kind:     %s\n", p.Kind)
	fmt.Printf("  Effect:   %s\n", p.Effect)
	fmt.Printf("  Priority: %d\n", p.Priority)
	return nil
}

func runPolicyEval(cmd *cobra.Command, args []string) error {
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

	result, err := c.evaluator.Evaluate(ctx, &fga.Request{
		Subject:      policySubject,
		Action:       policyAction,
		Resource:     policyResource,
		ResourceType: policyResType,
	})
	if err != nil {
		return err
	}

	if policyShowResult {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Decision: %s\n", result.Decision)
	if result.Reason != "" {
		fmt.Printf("  Reason:   %s\n", result.Reason)
	}
	if len(result.AppliedPolicies) > 0 {
		fmt.Printf("  Policies: %v\n", result.AppliedPolicies)
	}
	fmt.Printf("  Took:     %dms\n", result.EvaluationMS)
	return nil
}
