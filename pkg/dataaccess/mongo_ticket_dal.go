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

// mongoTicket is the stored form of a ticket. Open mirrors the state so that the one open ticket
// per subject rule can be a partial unique index.
type mongoTicket struct {
	entities.TicketRecord `bson:",inline"`

	Open bool `bson:"open"`
}

func (s *mongoStore) Create(ctx context.Context, guildID, userID string, startAt, endAt time.Time, reason string) (t *entities.TicketRecord, err error) {
	defer s.track("create", tableTickets, &err)()

	now := custom.NewDatetime(s.now())
	doc := &mongoTicket{
		TicketRecord: entities.TicketRecord{
			GuildID:   guildID,
			SubjectID: userID,
			Reason:    reason,
			StartAt:   custom.NewDatetime(startAt),
			EndAt:     custom.NewDatetime(endAt),
			State:     entities.TicketActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Open: true,
	}

	// Get the tickets collection.
	collection := s.db.Collection(tableTickets)

	err = s.inTx(ctx, "create", func(sc mongo.SessionContext) error {
		n, err := collection.CountDocuments(sc, bson.M{"guild_id": guildID, "subject_id": userID, "open": true})
		if err != nil {
			return storageErr("create", fmt.Errorf("error checking open tickets: %w", err))
		} else if n > 0 {
			return ErrDuplicateActiveTicket
		}

		next, err := s.nextID(sc, tableTickets, guildID)
		if err != nil {
			return storageErr("create", err)
		}
		doc.TicketID = next

		if _, err := collection.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrDuplicateActiveTicket
			}
			return storageErr("create", fmt.Errorf("error inserting ticket: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc.TicketRecord, nil
}

func (s *mongoStore) findTicket(ctx context.Context, op string, filter any) (*entities.TicketRecord, error) {
	doc := new(mongoTicket)
	err := s.db.Collection(tableTickets).FindOne(ctx, filter).Decode(doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storageErr(op, err)
	}
	return &doc.TicketRecord, nil
}

func (s *mongoStore) findTickets(ctx context.Context, op string, filter any, opts ...*options.FindOptions) ([]entities.TicketRecord, error) {
	cur, err := s.db.Collection(tableTickets).Find(ctx, filter, opts...)
	if err != nil {
		return nil, storageErr(op, err)
	}

	var docs []mongoTicket
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr(op, fmt.Errorf("error decoding tickets: %w", err))
	}

	ts := make([]entities.TicketRecord, len(docs))
	for i := range docs {
		ts[i] = docs[i].TicketRecord
	}
	return ts, nil
}

func (s *mongoStore) GetTicket(ctx context.Context, guildID string, ticketID int64) (t *entities.TicketRecord, err error) {
	defer s.track("get_ticket", tableTickets, &err)()
	return s.findTicket(ctx, "get_ticket", bson.M{"guild_id": guildID, "ticket_id": ticketID})
}

func (s *mongoStore) OpenTicket(ctx context.Context, guildID, userID string) (t *entities.TicketRecord, err error) {
	defer s.track("open_ticket", tableTickets, &err)()
	return s.findTicket(ctx, "open_ticket", bson.M{"guild_id": guildID, "subject_id": userID, "open": true})
}

func (s *mongoStore) ListTickets(ctx context.Context, guildID, userID string) (ts []entities.TicketRecord, err error) {
	defer s.track("list_tickets", tableTickets, &err)()

	opts := options.Find().SetSort(bson.M{"ticket_id": -1})
	return s.findTickets(ctx, "list_tickets", bson.M{"guild_id": guildID, "subject_id": userID}, opts)
}

func (s *mongoStore) Transition(ctx context.Context, guildID string, ticketID int64, next entities.TicketState, extra TransitionExtra) (t *entities.TicketRecord, err error) {
	defer s.track("transition", tableTickets, &err)()

	at := extra.At
	if at.IsZero() {
		at = s.now()
	}

	err = s.inTx(ctx, "transition", func(sc mongo.SessionContext) error {
		current, err := s.findTicket(sc, "transition", bson.M{"guild_id": guildID, "ticket_id": ticketID})
		if err != nil {
			return err
		}
		if err := validateTransition(current, next, extra); err != nil {
			return err
		}

		set := bson.M{
			"state":      next,
			"open":       !next.Terminal(),
			"updated_at": custom.NewDatetime(at),
		}
		if next == entities.TicketRejected {
			set["rejection_reason"] = extra.RejectionReason
		}

		res, err := s.db.Collection(tableTickets).UpdateOne(sc,
			bson.M{"guild_id": guildID, "ticket_id": ticketID, "state": current.State},
			bson.M{"$set": set},
		)
		if err != nil {
			return storageErr("transition", fmt.Errorf("error updating ticket: %w", err))
		} else if res.MatchedCount == 0 {
			return &InvalidTransitionError{From: current.State, To: next, Detail: "ticket changed concurrently"}
		}

		current.State = next
		current.UpdatedAt = custom.NewDatetime(at)
		if next == entities.TicketRejected {
			reason := extra.RejectionReason
			current.RejectionReason = &reason
		}
		t = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *mongoStore) SetExternalRef(ctx context.Context, guildID string, ticketID int64, ref string) (t *entities.TicketRecord, err error) {
	defer s.track("set_external_ref", tableTickets, &err)()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	doc := new(mongoTicket)
	err = s.db.Collection(tableTickets).FindOneAndUpdate(ctx,
		bson.M{"guild_id": guildID, "ticket_id": ticketID, "open": true},
		bson.M{"$set": bson.M{"external_ref": ref}},
		opts,
	).Decode(doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Either missing or closed.
		current, err := s.findTicket(ctx, "set_external_ref", bson.M{"guild_id": guildID, "ticket_id": ticketID})
		if err != nil {
			return nil, err
		}
		return nil, &InvalidTransitionError{From: current.State, To: current.State, Detail: "ticket is closed"}
	} else if err != nil {
		return nil, storageErr("set_external_ref", err)
	}
	return &doc.TicketRecord, nil
}

func (s *mongoStore) DueForExpiry(ctx context.Context, now time.Time) (ts []entities.TicketRecord, err error) {
	defer s.track("due_for_expiry", tableTickets, &err)()

	opts := options.Find().SetSort(bson.D{{Key: "end_at", Value: 1}, {Key: "guild_id", Value: 1}, {Key: "ticket_id", Value: 1}})
	return s.findTickets(ctx, "due_for_expiry", bson.M{
		"open":   true,
		"end_at": bson.M{"$lte": now.UTC()},
	}, opts)
}
