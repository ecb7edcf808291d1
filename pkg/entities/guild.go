package entities

// Guild is a configuration for a guild.
type Guild struct {
	// ID is the ID of the guild.
	ID string `json:"id" bson:"id" db:"id"`

	// Moderation is the moderation configuration.
	Moderation ModerationConfig `json:"moderation" bson:"moderation"`

	// Ticketing is the absence ticket configuration.
	Ticketing TicketingConfig `json:"ticketing" bson:"ticketing"`
}

// ModerationConfig is the per guild moderation configuration.
type ModerationConfig struct {
	// MuteRoleID is the role given to muted users. Mutes are refused when it is empty.
	MuteRoleID string `json:"mute_role_id" bson:"mute_role_id"`

	// ExtraKeywords are keywords added on top of the built in tiers, keyed by tier name.
	ExtraKeywords map[string][]string `json:"extra_keywords,omitempty" bson:"extra_keywords,omitempty"`

	// EscalationBanPoints is the number of escalation points after which automated sanctions
	// become bans. Zero disables escalation.
	EscalationBanPoints int `json:"escalation_ban_points" bson:"escalation_ban_points"`
}

// TicketingConfig is the per guild absence ticket configuration.
type TicketingConfig struct {
	// Enabled is whether absence tickets are enabled.
	Enabled bool `json:"enabled" bson:"enabled"`

	// RoleID is the ID of the role given to users with an approved absence.
	RoleID string `json:"role_id" bson:"role_id"`

	// LogChannelID is the ID of the channel the host posts ticket updates to.
	LogChannelID string `json:"log_channel_id" bson:"log_channel_id"`
}
