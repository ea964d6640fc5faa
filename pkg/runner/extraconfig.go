package runner

import (
	"encoding/json"
	"fmt"

	"github.com/reproserver/reproserver/pkg/types"
)

// Features the cluster scheduler knows how to honour.
const (
	FeatureContainers = "containers"
	FeaturePorts      = "ports"
)

// ParseExtraConfig decodes a run's extra_config document. A nil or empty
// document yields an empty config.
func ParseExtraConfig(raw json.RawMessage) (*types.ExtraConfig, error) {
	cfg := &types.ExtraConfig{}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing extra_config: %w", err)
	}
	return cfg, nil
}

// CheckRequiredFeatures fails when the config requires a feature that is not
// in the supported set. The run must not proceed past this error.
func CheckRequiredFeatures(cfg *types.ExtraConfig, supported map[string]struct{}) error {
	for _, feature := range cfg.Required {
		if _, ok := supported[feature]; !ok {
			return fmt.Errorf("unsupported required feature: %s", feature)
		}
	}
	return nil
}
