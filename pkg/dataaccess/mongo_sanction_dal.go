package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/custom"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *mongoStore) Append(ctx context.Context, rec entities.SanctionRecord) (id int64, err error) {
	defer s.track("append", tableSanctions, &err)()

	if !rec.Kind.Valid() {
		return 0, fmt.Errorf("invalid sanction kind %q", rec.Kind)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = custom.NewDatetime(s.now())
	}
	rec.Active = rec.Kind.Enforced()

	// Get the sanctions collection.
	collection := s.db.Collection(tableSanctions)

	err = s.inTx(ctx, "append", func(sc mongo.SessionContext) error {
		next, err := s.nextID(sc, tableSanctions, rec.GuildID)
		if err != nil {
			return storageErr("append", err)
		}
		rec.RecordID = next

		deactivate := entities.Kind("")
		if rec.Kind.Enforced() {
			deactivate = rec.Kind
		} else if rec.Kind.IsCounter() {
			deactivate, _ = rec.Kind.Reverses()
		}
		if deactivate != "" {
			_, err := collection.UpdateMany(sc, bson.M{
				"guild_id":   rec.GuildID,
				"subject_id": rec.SubjectID,
				"kind":       deactivate,
				"active":     true,
			}, bson.M{"$set": bson.M{"active": false}})
			if err != nil {
				return storageErr("append", fmt.Errorf("error deactivating previous %s records: %w", deactivate, err))
			}
		}

		if _, err := collection.InsertOne(sc, rec); err != nil {
			return storageErr("append", fmt.Errorf("error inserting sanction: %w", err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.RecordID, nil
}

func (s *mongoStore) findSanction(ctx context.Context, op string, filter any, opts ...*options.FindOneOptions) (*entities.SanctionRecord, error) {
	rec := new(entities.SanctionRecord)
	err := s.db.Collection(tableSanctions).FindOne(ctx, filter, opts...).Decode(rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr(op, err)
	}
	return rec, nil
}

func (s *mongoStore) findSanctions(ctx context.Context, op string, filter any, opts ...*options.FindOptions) ([]entities.SanctionRecord, error) {
	cur, err := s.db.Collection(tableSanctions).Find(ctx, filter, opts...)
	if err != nil {
		return nil, storageErr(op, err)
	}

	recs := make([]entities.SanctionRecord, 0)
	if err := cur.All(ctx, &recs); err != nil {
		return nil, storageErr(op, fmt.Errorf("error decoding sanctions: %w", err))
	}
	return recs, nil
}

func (s *mongoStore) GetSanction(ctx context.Context, guildID string, recordID int64) (rec *entities.SanctionRecord, err error) {
	defer s.track("get_sanction", tableSanctions, &err)()
	return s.findSanction(ctx, "get_sanction", bson.M{"guild_id": guildID, "record_id": recordID})
}

func (s *mongoStore) ActiveRecordsDueBefore(ctx context.Context, now time.Time) (recs []entities.SanctionRecord, err error) {
	defer s.track("active_records_due_before", tableSanctions, &err)()

	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}, {Key: "guild_id", Value: 1}, {Key: "record_id", Value: 1}})
	return s.findSanctions(ctx, "active_records_due_before", bson.M{
		"active":     true,
		"expires_at": bson.M{"$lte": now.UTC()},
	}, opts)
}

func (s *mongoStore) ActiveRecord(ctx context.Context, guildID, userID string, kind entities.Kind) (rec *entities.SanctionRecord, err error) {
	defer s.track("active_record", tableSanctions, &err)()

	opts := options.FindOne().SetSort(bson.M{"record_id": -1})
	return s.findSanction(ctx, "active_record", bson.M{
		"guild_id":   guildID,
		"subject_id": userID,
		"kind":       kind,
		"active":     true,
	}, opts)
}

func (s *mongoStore) History(ctx context.Context, guildID, userID string) (recs []entities.SanctionRecord, err error) {
	defer s.track("history", tableSanctions, &err)()

	opts := options.Find().SetSort(bson.M{"record_id": -1})
	return s.findSanctions(ctx, "history", bson.M{"guild_id": guildID, "subject_id": userID}, opts)
}

func (s *mongoStore) MarkInactive(ctx context.Context, guildID string, recordID int64) (err error) {
	defer s.track("mark_inactive", tableSanctions, &err)()

	res, err := s.db.Collection(tableSanctions).UpdateOne(ctx,
		bson.M{"guild_id": guildID, "record_id": recordID},
		bson.M{"$set": bson.M{"active": false}},
	)
	if err != nil {
		return storageErr("mark_inactive", err)
	} else if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
