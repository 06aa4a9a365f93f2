package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signetlabs/signet/pkg/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Workflow definition and instance management",
	Long: `Commands for validating workflow definitions and inspecting
running instances.

A definition describes participants, stages and their dependency
graph. Validation checks structural rules: at least one participant,
unique emails, resolvable email domains, an acyclic stage graph, and
every stage reachable from an auto-start stage.

Examples:
  # Validate a definition file
  signet workflow validate --file nda.json

  # Show a running instance
  signet workflow status --id wf_0042 --config signet.yaml`,
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a workflow definition file",
	RunE:  runWorkflowValidate,
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a workflow instance",
	RunE:  runWorkflowStatus,
}

var (
	workflowFile       string
	workflowInstanceID string
	workflowShowJSON   bool
)

func init() {
	workflowValidateCmd.Flags().StringVar(&workflowFile, "file", "", "Path to definition JSON file (required)")
	_ = workflowValidateCmd.MarkFlagRequired("file")

	workflowStatusCmd.Flags().StringVar(&workflowInstanceID, "id", "", "Instance id (required)")
	_ = workflowStatusCmd.MarkFlagRequired("id")
	workflowStatusCmd.Flags().BoolVar(&workflowShowJSON, "json", false, "Output as JSON")

	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	rootCmd.AddCommand(workflowCmd)
}

func runWorkflowValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(workflowFile)
	if err != nil {
		return fmt.Errorf("failed to read definition: %w", err)
	}

	var def workflow.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("failed to parse definition: %w", err)
	}

	issues := workflow.Validate(&def)
	if len(issues) > 0 {
		fmt.Printf("VALIDATION FAILED (%d issues)\n", len(issues))
		for _, issue := range issues {
			fmt.Printf("  - %s\n", issue)
		}
		return fmt.Errorf("definition is invalid")
	}

	fmt.Printf("VALIDATION PASSED\n")
	fmt.Printf("  Type:         %s\n", def.Type)
	fmt.Printf("  Participants: %d\n", len(def.Participants))
	fmt.Printf("  Stages:       %d\n", len(def.EffectiveStages()))
	return nil
}

func runWorkflowStatus(cmd *cobra.Command, args []string) error {
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

	view, err := c.engine.QueryInstance(ctx, workflowInstanceID)
	if err != nil {
		return err
	}

	if workflowShowJSON {
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Instance: %s\n", view.Instance.ID)
	fmt.Printf("  Status:     %s\n", view.Instance.Status)
	fmt.Printf("  Document:   %s (%s)\n", view.Document.ID, view.Document.Status)
	fmt.Printf("  Definition: %s\n", view.Definition.ID)
	fmt.Println("  Stages:")
	for _, s := range view.Instance.Stages {
		fmt.Printf("    %-12s %s\n", s.StageID, s.Status)
		for _, t := range s.Tasks {
			fmt.Printf("      %-10s %-30s %s\n", t.ID, t.Email, t.Status)
		}
	}
	return nil
}
