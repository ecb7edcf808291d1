package classifier

import (
	"fmt"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/entities"
)

// Policy is what happens to a user whose message falls in a tier.
type Policy struct {
	// Action is the sanction kind. Only warn, timeout and ban are allowed.
	Action entities.Kind `json:"action" yaml:"action" mapstructure:"action"`

	// Duration of the sanction. Zero means no duration (or permanent, for bans).
	Duration time.Duration `json:"duration" yaml:"duration" mapstructure:"duration"`

	// EscalationPoints are added to the user's total for every automated sanction in this tier.
	EscalationPoints int `json:"escalation_points" yaml:"escalation_points" mapstructure:"escalation_points"`

	// AutoDeleteSourceMessage asks the host to delete the flagged message.
	AutoDeleteSourceMessage bool `json:"auto_delete_source_message" yaml:"auto_delete_source_message" mapstructure:"auto_delete_source_message"`
}

func (p Policy) validate() error {
	switch p.Action {
	case entities.KindWarn, entities.KindBan:
		if p.Duration < 0 {
			return fmt.Errorf("negative duration %s", p.Duration)
		}
	case entities.KindTimeout:
		if p.Duration <= 0 {
			return fmt.Errorf("timeout needs a positive duration, got %s", p.Duration)
		}
	default:
		return fmt.Errorf("unsupported policy action %q", p.Action)
	}

	if p.Action == entities.KindWarn && p.Duration != 0 {
		return fmt.Errorf("warn cannot have a duration")
	}

	if p.EscalationPoints < 0 {
		return fmt.Errorf("negative escalation points %d", p.EscalationPoints)
	}
	return nil
}
