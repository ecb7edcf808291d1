package classifier

import (
	"time"

	"github.com/Jacobbrewer1/warden/pkg/entities"
)

// DefaultTiers returns the built in tiers, most severe first.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Tier: entities.TierExtreme,
			Keywords: []string{
				"i will kill you",
				"je vais te tuer",
				"bomb threat",
				"alerte à la bombe",
				"swatting",
				"csam",
			},
			Policy: Policy{
				Action:                  entities.KindBan,
				EscalationPoints:        10,
				AutoDeleteSourceMessage: true,
			},
		},
		{
			Tier: entities.TierSevere,
			Keywords: []string{
				"kill yourself",
				"kys",
				"suicide-toi",
				"i know where you live",
				"je sais où tu habites",
				"doxx",
			},
			Policy: Policy{
				Action:                  entities.KindTimeout,
				Duration:                24 * time.Hour,
				EscalationPoints:        5,
				AutoDeleteSourceMessage: true,
			},
		},
		{
			Tier: entities.TierModerate,
			Keywords: []string{
				"worthless",
				"nobody wants you",
				"pathetic",
				"ferme ta gueule",
				"sale merde",
				"connard",
			},
			Policy: Policy{
				Action:                  entities.KindTimeout,
				Duration:                10 * time.Minute,
				EscalationPoints:        2,
				AutoDeleteSourceMessage: true,
			},
		},
		{
			Tier: entities.TierLow,
			Keywords: []string{
				"idiot",
				"stupid",
				"loser",
				"shut up",
				"imbécile",
				"crétin",
				"abruti",
			},
			Policy: Policy{
				Action:           entities.KindWarn,
				EscalationPoints: 1,
			},
		},
	}
}
