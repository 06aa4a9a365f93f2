package main

import (
	"testing"
)

// resetWorkflowFlags resets all workflow command flags to their default values.
func resetWorkflowFlags() {
	workflowFile = ""
	workflowInstanceID = ""
	workflowShowJSON = false
}

const validDefinitionJSON = `{
  "id": "def_nda",
  "name": "NDA two-signer",
  "type": "Sequential",
  "participants": [
    {"id": "p1", "email": "alice@example.com", "name": "Alice", "task_kind": "Sign", "order_index": 0},
    {"id": "p2", "email": "bob@example.com", "name": "Bob", "task_kind": "Sign", "order_index": 1}
  ]
}`

const cyclicDefinitionJSON = `{
  "id": "def_cycle",
  "type": "Custom",
  "participants": [
    {"id": "p1", "email": "alice@example.com", "task_kind": "Sign", "order_index": 0}
  ],
  "stages": [
    {"id": "a", "participant_ids": ["p1"], "depends_on": ["b"], "auto_start": true},
    {"id": "b", "participant_ids": ["p1"], "depends_on": ["a"]}
  ]
}`

func TestF_Workflow_Validate_FileNotFound(t *testing.T) {
	tc := newTestContext(t)
	resetWorkflowFlags()

	_, err := executeCommand(rootCmd, "workflow", "validate", "--file", tc.path("missing.json"))
	assertError(t, err)
}

func TestF_Workflow_Validate_ValidDefinition(t *testing.T) {
	tc := newTestContext(t)
	resetWorkflowFlags()

	path := tc.writeFile("nda.json", validDefinitionJSON)

	_, err := executeCommand(rootCmd, "workflow", "validate", "--file", path)
	assertNoError(t, err)
}

func TestF_Workflow_Validate_CyclicDependency(t *testing.T) {
	tc := newTestContext(t)
	resetWorkflowFlags()

	path := tc.writeFile("cycle.json", cyclicDefinitionJSON)

	_, err := executeCommand(rootCmd, "workflow", "validate", "--file", path)
	assertError(t, err)
}

func TestF_Workflow_Validate_MalformedJSON(t *testing.T) {
	tc := newTestContext(t)
	resetWorkflowFlags()

	path := tc.writeFile("broken.json", "{not json")

	_, err := executeCommand(rootCmd, "workflow", "validate", "--file", path)
	assertError(t, err)
}
