package dataaccess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jacobbrewer1/warden/pkg/entities"
)

// SaveGuild stores the guild configuration as a JSON document keyed by guild ID.
func (s *sqlStore) SaveGuild(ctx context.Context, guild *entities.Guild) (err error) {
	defer s.track("save_guild", tableGuilds, &err)()

	if guild == nil || guild.ID == "" {
		return errors.New("guild id is required")
	}

	cfg, err := json.Marshal(guild)
	if err != nil {
		return fmt.Errorf("error marshalling guild: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO guilds (id, config) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET config = excluded.config`), guild.ID, string(cfg))
	if err != nil {
		return storageErr("save_guild", err)
	}
	return nil
}

func (s *sqlStore) GetGuildByID(ctx context.Context, id string) (g *entities.Guild, err error) {
	defer s.track("get_guild_by_id", tableGuilds, &err)()

	var cfg string
	err = s.db.GetContext(ctx, &cfg, s.db.Rebind(`SELECT config FROM guilds WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr("get_guild_by_id", err)
	}

	g = new(entities.Guild)
	if err := json.Unmarshal([]byte(cfg), g); err != nil {
		return nil, fmt.Errorf("error unmarshalling guild %s: %w", id, err)
	}
	return g, nil
}
