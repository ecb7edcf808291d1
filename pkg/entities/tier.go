package entities

import (
	"fmt"
	"strings"
)

// Tier is a severity tier for flagged content. Tiers are ordered, a higher value is more severe.
type Tier int

const (
	// TierLow is mild insults and rudeness.
	TierLow Tier = iota + 1

	// TierModerate is targeted harassment.
	TierModerate

	// TierSevere is threats of self harm or doxxing.
	TierSevere

	// TierExtreme is threats of violence and illegal content.
	TierExtreme
)

// Tiers lists every tier from most to least severe.
var Tiers = []Tier{TierExtreme, TierSevere, TierModerate, TierLow}

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierModerate:
		return "moderate"
	case TierSevere:
		return "severe"
	case TierExtreme:
		return "extreme"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= TierLow && t <= TierExtreme
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(strings.TrimSpace(s), t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (t *Tier) UnmarshalText(text []byte) error {
	got, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = got
	return nil
}
