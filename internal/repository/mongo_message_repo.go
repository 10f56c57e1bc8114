package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/internal/domain"
)

type messageDocument struct {
	ID         string    `bson:"_id"`
	SenderID   string    `bson:"sender_id"`
	ReceiverID string    `bson:"receiver_id"`
	Text       *string   `bson:"text"`
	Image      *string   `bson:"image"`
	IsRecalled bool      `bson:"is_recalled"`
	CreatedAt  time.Time `bson:"created_at"`
}

func (d *messageDocument) toDomain() *domain.Message {
	return &domain.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Text:       d.Text,
		Image:      d.Image,
		IsRecalled: d.IsRecalled,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

// MongoMessageRepository implements MessageRepository on a MongoDB collection.
type MongoMessageRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoMessageRepository(ctx context.Context, cfg config.MongoConfig) (*MongoMessageRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	r := &MongoMessageRepository{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := r.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *MongoMessageRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "receiver_id", Value: 1},
			{Key: "_id", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	return nil
}

func (r *MongoMessageRepository) Save(ctx context.Context, msg *domain.Message) (string, error) {
	msg.ID = NewID()
	doc := messageDocument{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		IsRecalled: msg.IsRecalled,
		CreatedAt:  msg.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (r *MongoMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var doc messageDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoMessageRepository) MarkRecalled(ctx context.Context, id string) (*domain.Message, bool, error) {
	var doc messageDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_recalled": false},
		bson.M{"$set": bson.M{"text": nil, "image": nil, "is_recalled": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain(), true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to recall message: %w", err)
	}

	// missing, or recalled by someone else first
	m, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return m, false, nil
}

func (r *MongoMessageRepository) FindConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": userA, "receiver_id": userB},
		bson.M{"sender_id": userB, "receiver_id": userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}

	msgs := make([]*domain.Message, 0, len(docs))
	for i := range docs {
		msgs = append(msgs, docs[i].toDomain())
	}
	reverse(msgs)
	return msgs, nil
}

func (r *MongoMessageRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
