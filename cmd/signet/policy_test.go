package main

import (
	"strings"
	"testing"
)

// resetPolicyFlags resets all policy command flags to their default values.
func resetPolicyFlags() {
	policyFile = ""
	policySubject = ""
	policyAction = ""
	policyResource = ""
	policyResType = ""
	policyShowResult = false
}

const validPolicyJSON = `{
  "id": "pol_admin",
  "kind": "RBAC",
  "effect": "Allow",
  "actions": ["*"],
  "roles": ["admin"],
  "enabled": true
}`

const malformedPolicyJSON = `{
  "id": "pol_bad",
  "kind": "ABAC",
  "effect": "Allow",
  "actions": ["DOCUMENT_SIGN"],
  "condition": {"attribute": "clearance", "operator": "summon", "value": "high"},
  "enabled": true
}`

func TestF_Policy_Lint_ValidPolicy(t *testing.T) {
	tc := newTestContext(t)
	resetPolicyFlags()

	path := tc.writeFile("admin.json", validPolicyJSON)

	_, err := executeCommand(rootCmd, "policy", "lint", "--file", path)
	assertNoError(t, err)
}

func TestF_Policy_Lint_UnknownOperator(t *testing.T) {
	tc := newTestContext(t)
	resetPolicyFlags()

	path := tc.writeFile("bad.json", malformedPolicyJSON)

	_, err := executeCommand(rootCmd, "policy", "lint", "--file", path)
	assertError(t, err)
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("Expected invalid-policy error, got: %v", err)
	}
}

func TestF_Policy_Lint_FileNotFound(t *testing.T) {
	tc := newTestContext(t)
	resetPolicyFlags()

	_, err := executeCommand(rootCmd, "policy", "lint", "--file", tc.path("missing.json"))
	assertError(t, err)
}
