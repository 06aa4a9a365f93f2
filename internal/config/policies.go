package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/signetlabs/signet/pkg/fga"
)

// SeedPolicies loads every JSON policy file from the configured
// directory into the policy store. Existing policies with the same id
// are overwritten. Returns how many policies were loaded.
func (c *Config) SeedPolicies(ctx context.Context, policies *fga.Policies) (int, error) {
	if c.Policies.Dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(c.Policies.Dir)
	if err != nil {
		return 0, fmt.Errorf("policy dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.Policies.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("policy %s: %w", entry.Name(), err)
		}
		var policy fga.Policy
		if err := json.Unmarshal(data, &policy); err != nil {
			return loaded, fmt.Errorf("policy %s: %w", entry.Name(), err)
		}

		// Replace regardless of the stored version.
		_, current, err := policies.Get(ctx, policy.ID)
		version := int64(0)
		if err == nil {
			version = current
		}
		if _, err := policies.Save(ctx, &policy, version); err != nil {
			return loaded, fmt.Errorf("policy %s: %w", entry.Name(), err)
		}
		loaded++
	}
	return loaded, nil
}
