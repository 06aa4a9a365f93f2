package tsa

// Provider describes one timestamp authority endpoint.
type Provider struct {
	Name       string   `json:"name" yaml:"name"`
	URL        string   `json:"url" yaml:"url"`
	Qualified  bool     `json:"qualified" yaml:"qualified"` // eIDAS-qualified trust service
	Algorithms []string `json:"algorithms,omitempty" yaml:"algorithms,omitempty"`
	Region     string   `json:"region,omitempty" yaml:"region,omitempty"`
}

// DefaultProviders is the built-in failover chain, tried in order.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:       "digicert",
			URL:        "http://timestamp.digicert.com",
			Algorithms: []string{"sha-256", "sha-384", "sha-512"},
			Region:     "global",
		},
		{
			Name:       "globalsign",
			URL:        "http://timestamp.globalsign.com/tsa/r6advanced1",
			Algorithms: []string{"sha-256", "sha-384"},
			Region:     "global",
		},
		{
			Name:       "sectigo",
			URL:        "http://timestamp.sectigo.com",
			Algorithms: []string{"sha-256"},
			Region:     "global",
		},
		{
			Name:       "eu-qtsp",
			URL:        "http://tsa.sep.bg",
			Qualified:  true,
			Algorithms: []string{"sha-256"},
			Region:     "eu",
		},
	}
}

// QualifiedOnly filters the chain down to qualified providers.
func QualifiedOnly(providers []Provider) []Provider {
	var out []Provider
	for _, p := range providers {
		if p.Qualified {
			out = append(out, p)
		}
	}
	return out
}
