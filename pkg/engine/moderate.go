package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jacobbrewer1/warden/pkg/classifier"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/logging"
)

// ModerateRequest is a message to screen.
type ModerateRequest struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
}

// Decision is the outcome of screening a message.
type Decision struct {
	// Matched is false when the message is clean, the other fields are then unset.
	Matched bool `json:"matched"`

	Tier    entities.Tier     `json:"tier,omitempty"`
	Keyword string            `json:"keyword,omitempty"`
	Policy  classifier.Policy `json:"policy"`

	// Escalated is set when the user's past automated sanctions turned the action into a ban.
	Escalated bool `json:"escalated"`

	// Record is the sanction issued for the message.
	Record *entities.SanctionRecord `json:"record,omitempty"`

	// DeleteSource asks the host to delete the message.
	DeleteSource bool `json:"delete_source"`
}

// Classify returns the tier of text for the guild, without sanctioning anybody.
func (e *Engine) Classify(ctx context.Context, guildID, text string) (entities.Tier, string, bool, error) {
	cls, _, err := e.guildClassifier(ctx, guildID)
	if err != nil {
		return 0, "", false, err
	}
	t, kw, ok := cls.Classify(text)
	return t, kw, ok, nil
}

// Moderate screens a message and sanctions its author when it matches a tier.
//
// A returned decision with a record and an *ActionError means the sanction was recorded but the
// platform action failed.
func (e *Engine) Moderate(ctx context.Context, req ModerateRequest) (*Decision, error) {
	if req.GuildID == "" || req.UserID == "" {
		return nil, invalid("", "guild and user are required")
	}

	cls, guild, err := e.guildClassifier(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}

	tier, keyword, ok := cls.Classify(req.Text)
	if !ok {
		return &Decision{}, nil
	}

	policy, _ := cls.Policy(tier)
	d := &Decision{
		Matched:      true,
		Tier:         tier,
		Keyword:      keyword,
		Policy:       policy,
		DeleteSource: policy.AutoDeleteSourceMessage,
	}

	sreq := SanctionRequest{
		GuildID:   req.GuildID,
		SubjectID: req.UserID,
		IssuerID:  entities.IssuerSystem,
		Kind:      policy.Action,
		Reason:    fmt.Sprintf("automatic moderation: %s content (%q)", tier, keyword),
		Duration:  policy.Duration,
		Tier:      &tier,
	}

	if threshold := guild.Moderation.EscalationBanPoints; threshold > 0 && policy.Action != entities.KindBan {
		points, err := e.escalationPoints(ctx, cls, req.GuildID, req.UserID)
		if err != nil {
			return nil, err
		}
		if points+policy.EscalationPoints >= threshold {
			d.Escalated = true
			sreq.Kind = entities.KindBan
			sreq.Duration = 0
			sreq.Reason = fmt.Sprintf("%s, escalated after %d points", sreq.Reason, points+policy.EscalationPoints)
		}
	}

	moderationDecisions.WithLabelValues(tier.String(), string(sreq.Kind)).Inc()
	e.l.Info("Message flagged",
		slog.String(logging.KeyGuildID, req.GuildID),
		slog.String(logging.KeyUserID, req.UserID),
		slog.String("tier", tier.String()),
		slog.String("keyword", keyword),
		slog.Bool("escalated", d.Escalated),
	)

	rec, err := e.Sanction(ctx, sreq)
	d.Record = rec
	if err != nil {
		return d, err
	}
	return d, nil
}

// escalationPoints sums the points of the user's past automated sanctions, at the current policy
// of their tier. A counter record cancels the most recent earlier sanction of the kind it reverses,
// whether it was automated or not.
func (e *Engine) escalationPoints(ctx context.Context, cls *classifier.Classifier, guildID, userID string) (int, error) {
	history, err := e.History(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	// History is newest first, so counters are seen before the records they cancel.
	reversed := make(map[entities.Kind]int)
	points := 0
	for _, rec := range history {
		if rec.Kind.IsCounter() {
			if k, err := rec.Kind.Reverses(); err == nil {
				reversed[k]++
			}
			continue
		}
		if reversed[rec.Kind] > 0 {
			reversed[rec.Kind]--
			continue
		}
		if !rec.Automated() {
			continue
		}
		if p, ok := cls.Policy(*rec.Tier); ok {
			points += p.EscalationPoints
		}
	}
	return points, nil
}

func (e *Engine) guildClassifier(ctx context.Context, guildID string) (*classifier.Classifier, *entities.Guild, error) {
	guild, err := e.Guild(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}

	extra, err := extraKeywords(guild)
	if err != nil {
		// Keep moderating with the built in keywords.
		e.l.Warn("Ignoring invalid guild keywords",
			slog.String(logging.KeyGuildID, guildID),
			slog.String(logging.KeyError, err.Error()),
		)
		return e.classifier, guild, nil
	}
	return e.classifier.WithExtraKeywords(extra), guild, nil
}
