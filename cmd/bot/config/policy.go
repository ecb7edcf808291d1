package config

import (
	"fmt"

	"github.com/Jacobbrewer1/warden/pkg/classifier"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/spf13/viper"
)

// tierOverride is one entry of the policy file. Keywords replace the built in list when set, and
// the policy replaces the built in one when present.
type tierOverride struct {
	Tier     string             `mapstructure:"tier"`
	Keywords []string           `mapstructure:"keywords"`
	Policy   *classifier.Policy `mapstructure:"policy"`
}

// LoadPolicy reads the tier overrides in path and applies them on top of the built in tiers.
//
//	tiers:
//	  - tier: moderate
//	    keywords: ["worthless"]
//	    policy:
//	      action: timeout
//	      duration: 30m
//	      escalation_points: 3
//	      auto_delete_source_message: true
func LoadPolicy(path string) ([]classifier.TierConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading policy file: %w", err)
	}

	var overrides []tierOverride
	if err := v.UnmarshalKey("tiers", &overrides); err != nil {
		return nil, fmt.Errorf("error decoding policy file: %w", err)
	}

	tiers := classifier.DefaultTiers()
	byTier := make(map[entities.Tier]int, len(tiers))
	for i, t := range tiers {
		byTier[t.Tier] = i
	}

	for _, o := range overrides {
		t, err := entities.ParseTier(o.Tier)
		if err != nil {
			return nil, fmt.Errorf("error parsing policy file: %w", err)
		}

		i := byTier[t]
		if len(o.Keywords) > 0 {
			tiers[i].Keywords = o.Keywords
		}
		if o.Policy != nil {
			tiers[i].Policy = *o.Policy
		}
	}
	return tiers, nil
}

// Classifier creates the classifier for the configuration.
func (c *Config) Classifier() (*classifier.Classifier, error) {
	if c.PolicyFile == "" {
		return classifier.Default(), nil
	}

	tiers, err := LoadPolicy(c.PolicyFile)
	if err != nil {
		return nil, err
	}

	cls, err := classifier.New(tiers)
	if err != nil {
		return nil, fmt.Errorf("error creating classifier: %w", err)
	}
	return cls, nil
}
