package classifier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Jacobbrewer1/warden/pkg/entities"
	"golang.org/x/text/cases"
)

// TierConfig is the configuration of a single tier.
type TierConfig struct {
	// Tier is the tier being configured.
	Tier entities.Tier `json:"tier" yaml:"tier" mapstructure:"tier"`

	// Keywords are literal words or phrases, matched case insensitively as substrings.
	Keywords []string `json:"keywords" yaml:"keywords" mapstructure:"keywords"`

	// Policy is the default sanction for the tier.
	Policy Policy `json:"policy" yaml:"policy" mapstructure:"policy"`
}

type tier struct {
	tier     entities.Tier
	keywords []string
	policy   Policy
}

// Classifier maps text to a severity tier. It is immutable once created and safe for concurrent
// use.
type Classifier struct {
	// tiers ordered from most to least severe.
	tiers []tier
}

// New creates a classifier from the given tier configuration. Every tier must be configured
// exactly once.
func New(cfgs []TierConfig) (*Classifier, error) {
	seen := make(map[entities.Tier]bool, len(cfgs))
	tiers := make([]tier, 0, len(cfgs))

	for _, cfg := range cfgs {
		if !cfg.Tier.Valid() {
			return nil, fmt.Errorf("invalid tier %d", int(cfg.Tier))
		}
		if seen[cfg.Tier] {
			return nil, fmt.Errorf("tier %s configured twice", cfg.Tier)
		}
		seen[cfg.Tier] = true

		if err := cfg.Policy.validate(); err != nil {
			return nil, fmt.Errorf("invalid policy for tier %s: %w", cfg.Tier, err)
		}

		tiers = append(tiers, tier{
			tier:     cfg.Tier,
			keywords: normalizeAll(cfg.Keywords),
			policy:   cfg.Policy,
		})
	}

	for _, t := range entities.Tiers {
		if !seen[t] {
			return nil, fmt.Errorf("tier %s is not configured", t)
		}
	}

	slices.SortFunc(tiers, func(a, b tier) int {
		return int(b.tier) - int(a.tier)
	})

	return &Classifier{tiers: tiers}, nil
}

// Default creates a classifier with the built in tiers.
func Default() *Classifier {
	c, err := New(DefaultTiers())
	if err != nil {
		// The built in tiers are static, this can only be hit by a broken edit to them.
		panic(fmt.Errorf("invalid default tiers: %w", err))
	}
	return c
}

// Classify returns the most severe tier with a keyword contained in text, and the keyword that
// matched. Within a tier the first configured keyword that matches wins.
func (c *Classifier) Classify(text string) (entities.Tier, string, bool) {
	norm := normalize(text)
	if norm == "" {
		return 0, "", false
	}

	for _, t := range c.tiers {
		for _, kw := range t.keywords {
			if strings.Contains(norm, kw) {
				return t.tier, kw, true
			}
		}
	}
	return 0, "", false
}

// Policy returns the policy of a tier.
func (c *Classifier) Policy(t entities.Tier) (Policy, bool) {
	for _, ct := range c.tiers {
		if ct.tier == t {
			return ct.policy, true
		}
	}
	return Policy{}, false
}

// Keywords returns a copy of the normalized keywords of a tier.
func (c *Classifier) Keywords(t entities.Tier) []string {
	for _, ct := range c.tiers {
		if ct.tier == t {
			return slices.Clone(ct.keywords)
		}
	}
	return nil
}

// WithExtraKeywords returns a copy of the classifier with keywords added to the given tiers. The
// added keywords are checked after the tier's own keywords. The receiver is not modified.
func (c *Classifier) WithExtraKeywords(extra map[entities.Tier][]string) *Classifier {
	if len(extra) == 0 {
		return c
	}

	tiers := make([]tier, len(c.tiers))
	for i, t := range c.tiers {
		kws := slices.Clone(t.keywords)
		for _, kw := range normalizeAll(extra[t.tier]) {
			if !slices.Contains(kws, kw) {
				kws = append(kws, kw)
			}
		}
		tiers[i] = tier{tier: t.tier, keywords: kws, policy: t.policy}
	}
	return &Classifier{tiers: tiers}
}

// normalize case folds s. Spaces are kept, a padded keyword only matches whole words.
func normalize(s string) string {
	// A fresh caser per call, casers are not safe for concurrent use.
	return cases.Fold().String(s)
}

// normalizeAll normalizes keywords and drops the blank ones, which would match nearly anything.
func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, normalize(s))
	}
	return out
}
