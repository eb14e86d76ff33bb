package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-fanout/internal/domain"
)

type reactionDoc struct {
	MessageID string    `bson:"message_id"`
	RoomID    string    `bson:"room_id"`
	UserID    string    `bson:"user_id"`
	Kind      string    `bson:"kind"`
	CreatedAt time.Time `bson:"created_at"`
}

type roomDoc struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
}

type MongoStore struct {
	client    *mongo.Client
	messages  *mongo.Collection
	rooms     *mongo.Collection
	reactions *mongo.Collection
	receipts  *mongo.Collection
}

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewMongoStore creates the unique indexes the idempotent writes depend on.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	db := client.Database(dbName)
	s := &MongoStore{
		client:    client,
		messages:  db.Collection("messages"),
		rooms:     db.Collection("rooms"),
		reactions: db.Collection("reactions"),
		receipts:  db.Collection("read_receipts"),
	}
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.messages: {{
			Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("room_ts_idx"),
		}},
		s.reactions: {{
			Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "kind", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("message_user_kind_uniq"),
		}},
		s.receipts: {
			{
				Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("message_user_uniq"),
			},
			{
				Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "read_at", Value: -1}},
				Options: options.Index().SetName("room_user_read_idx"),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return nil, fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return s, nil
}

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *MongoStore) SaveMessage(ctx context.Context, m *domain.Message) (bool, error) {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": m.MessageID},
		bson.M{"$setOnInsert": m},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("save message %s: %w", m.MessageID, err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoStore) EnsureRoom(ctx context.Context, roomID string) error {
	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$setOnInsert": roomDoc{ID: roomID, CreatedAt: time.Now().UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ensure room %s: %w", roomID, err)
	}
	return nil
}

func (s *MongoStore) History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(clampLimit(limit)))
	cur, err := s.messages.Find(ctx, bson.M{"room_id": roomID, "timestamp": bson.M{"$lt": before}}, opts)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", roomID, err)
	}
	defer cur.Close(ctx)
	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (s *MongoStore) AddReaction(ctx context.Context, r *domain.Reaction) (bool, error) {
	filter := bson.M{"message_id": r.MessageID, "user_id": r.UserID, "kind": string(r.Kind)}
	doc := reactionDoc{MessageID: r.MessageID, RoomID: r.RoomID, UserID: r.UserID, Kind: string(r.Kind), CreatedAt: r.Timestamp}
	res, err := s.reactions.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// lost an upsert race against the same triple
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add reaction %s: %w", r.MessageID, err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoStore) RemoveReaction(ctx context.Context, messageID, userID string, kind domain.ReactionKind) (bool, error) {
	res, err := s.reactions.DeleteOne(ctx, bson.M{"message_id": messageID, "user_id": userID, "kind": string(kind)})
	if err != nil {
		return false, fmt.Errorf("remove reaction %s: %w", messageID, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) ReactionsForMessages(ctx context.Context, messageIDs []string) (map[string]domain.ReactionTally, error) {
	out := make(map[string]domain.ReactionTally)
	if len(messageIDs) == 0 {
		return out, nil
	}
	cur, err := s.reactions.Find(ctx, bson.M{"message_id": bson.M{"$in": messageIDs}})
	if err != nil {
		return nil, fmt.Errorf("reactions for messages: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var d reactionDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		tally, ok := out[d.MessageID]
		if !ok {
			tally = domain.ReactionTally{}
			out[d.MessageID] = tally
		}
		tally.Add(domain.ReactionKind(d.Kind), d.UserID)
	}
	for _, tally := range out {
		tally.Normalize()
	}
	return out, cur.Err()
}

func (s *MongoStore) InsertReadReceipt(ctx context.Context, r *domain.ReadReceipt) (bool, error) {
	_, err := s.receipts.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		// only a (message, user) clash is a duplicate read; an _id clash is an error
		seen, herr := s.HasRead(ctx, r.MessageID, r.UserID)
		if herr != nil {
			return false, herr
		}
		if seen {
			return false, nil
		}
		return false, fmt.Errorf("insert read receipt %s: id already used: %w", r.EventID, err)
	}
	if err != nil {
		return false, fmt.Errorf("insert read receipt %s/%s: %w", r.MessageID, r.UserID, err)
	}
	return true, nil
}

func (s *MongoStore) HasRead(ctx context.Context, messageID, userID string) (bool, error) {
	n, err := s.receipts.CountDocuments(ctx, bson.M{"message_id": messageID, "user_id": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("has read %s/%s: %w", messageID, userID, err)
	}
	return n > 0, nil
}

func (s *MongoStore) ReadersOf(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}})
	cur, err := s.receipts.Find(ctx, bson.M{"message_id": bson.M{"$in": messageIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("readers of messages: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var r domain.ReadReceipt
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out[r.MessageID] = append(out[r.MessageID], r.UserID)
	}
	return out, cur.Err()
}

func (s *MongoStore) CountReaders(ctx context.Context, messageID string) (int64, error) {
	n, err := s.receipts.CountDocuments(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return 0, fmt.Errorf("count readers %s: %w", messageID, err)
	}
	return n, nil
}

func (s *MongoStore) LastRead(ctx context.Context, roomID, userID string) (string, bool, error) {
	var r domain.ReadReceipt
	opts := options.FindOne().SetSort(bson.D{{Key: "read_at", Value: -1}})
	err := s.receipts.FindOne(ctx, bson.M{"room_id": roomID, "user_id": userID}, opts).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last read %s/%s: %w", roomID, userID, err)
	}
	return r.MessageID, true, nil
}
