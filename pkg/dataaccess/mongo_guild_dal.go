package dataaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jacobbrewer1/warden/pkg/entities"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *mongoStore) SaveGuild(ctx context.Context, guild *entities.Guild) (err error) {
	defer s.track("save_guild", tableGuilds, &err)()

	if guild == nil || guild.ID == "" {
		return errors.New("guild id is required")
	}

	// Get the guild collection.
	collection := s.db.Collection(tableGuilds)

	// Save the guild.
	opts := options.Replace().SetUpsert(true)
	_, err = collection.ReplaceOne(ctx, bson.M{"id": guild.ID}, guild, opts)
	if err != nil {
		return storageErr("save_guild", fmt.Errorf("error updating guild: %w", err))
	}
	return nil
}

func (s *mongoStore) GetGuildByID(ctx context.Context, id string) (g *entities.Guild, err error) {
	defer s.track("get_guild_by_id", tableGuilds, &err)()

	// Get the guild.
	g = new(entities.Guild)
	err = s.db.Collection(tableGuilds).FindOne(ctx, bson.M{"id": id}).Decode(g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr("get_guild_by_id", fmt.Errorf("error getting guild: %w", err))
	}
	return g, nil
}
