package entities

import (
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
)

// IssuerSystem is the issuer of automated sanctions.
const IssuerSystem = "system"

// SanctionRecord is a single entry in a user's casier.
//
// Records are never deleted or edited. The only change a record ever sees is Active flipping to
// false, once, when the sanction stops being enforced.
type SanctionRecord struct {
	// GuildID is the ID of the guild the sanction was issued in.
	GuildID string `json:"guild_id" bson:"guild_id" db:"guild_id"`

	// RecordID is the number of the record within the guild.
	RecordID int64 `json:"record_id" bson:"record_id" db:"record_id"`

	// SubjectID is the ID of the sanctioned user.
	SubjectID string `json:"subject_id" bson:"subject_id" db:"subject_id"`

	// IssuerID is the ID of the moderator, or IssuerSystem.
	IssuerID string `json:"issuer_id" bson:"issuer_id" db:"issuer_id"`

	// Kind is the kind of sanction.
	Kind Kind `json:"kind" bson:"kind" db:"kind"`

	// Reason is the free text reason.
	Reason string `json:"reason" bson:"reason" db:"reason"`

	// Tier is the severity tier, only present for automated sanctions.
	Tier *Tier `json:"severity_tier,omitempty" bson:"severity_tier,omitempty" db:"severity_tier"`

	// DurationSeconds is the duration of the sanction, if it has one.
	DurationSeconds *int64 `json:"duration_seconds,omitempty" bson:"duration_seconds,omitempty" db:"duration_seconds"`

	// ExpiresAt is CreatedAt plus the duration.
	ExpiresAt *custom.Datetime `json:"expires_at,omitempty" bson:"expires_at,omitempty" db:"expires_at"`

	// CreatedAt is the time the record was appended.
	CreatedAt custom.Datetime `json:"created_at" bson:"created_at" db:"created_at"`

	// Active is whether the sanction is currently enforced.
	Active bool `json:"active" bson:"active" db:"active"`
}

// Duration returns the duration of the sanction, zero when it has none.
func (r *SanctionRecord) Duration() time.Duration {
	if r.DurationSeconds == nil {
		return 0
	}
	return time.Duration(*r.DurationSeconds) * time.Second
}

// Automated reports whether the record was issued by the classifier.
func (r *SanctionRecord) Automated() bool {
	return r.Tier != nil
}

// DueAt reports whether the record is active and its expiry has passed at now.
func (r *SanctionRecord) DueAt(now time.Time) bool {
	return r.Active && r.ExpiresAt != nil && !r.ExpiresAt.Time().After(now)
}
