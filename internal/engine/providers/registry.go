package providers

import (
	"fmt"

	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

// Build constructs the provider set from configuration. Providers with
// no config section still get a descriptor with defaults, so webhook
// verification and base URLs work out of the box.
func Build(cfgs map[string]config.ProviderConfig) map[string]Provider {
	get := func(name string) config.ProviderConfig { return cfgs[name] }

	return map[string]Provider{
		models.ProviderGitHub:    NewGitHub(get(models.ProviderGitHub)),
		models.ProviderGitLab:    NewGitLab(get(models.ProviderGitLab)),
		models.ProviderBitbucket: NewBitbucket(get(models.ProviderBitbucket)),
		models.ProviderJira:      NewJira(get(models.ProviderJira)),
	}
}

func Lookup(set map[string]Provider, name string) (Provider, error) {
	p, ok := set[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}
