package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/ent0n29/runcoach/internal/plan"
)

const (
	mongoConnectTimeout   = 10 * time.Second
	defaultMongoDatabase  = "runcoach"
	conversationsColl     = "conversations"
	planVersionsColl      = "plan_versions"
	planHeadsColl         = "plan_heads"
	messageCountersColl   = "message_counters"
	mongoDisconnectWindow = 5 * time.Second
)

type mongoMessage struct {
	ID        string    `bson:"_id"`
	ClientID  string    `bson:"clientId"`
	Seq       int64     `bson:"seq"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"createdAt"`
}

type mongoPlanVersion struct {
	ClientID  string    `bson:"clientId"`
	Version   int       `bson:"version"`
	IsCurrent bool      `bson:"isCurrent"`
	PlanJSON  string    `bson:"planJson"`
	CreatedAt time.Time `bson:"createdAt"`
}

type mongoPlanHead struct {
	ClientID       string    `bson:"_id"`
	CurrentVersion int       `bson:"currentVersion"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

// MongoStore persists messages and plan lineage in MongoDB. Plan commits and
// resets run as multi-document transactions, which require a replica set.
type MongoStore struct {
	client   *mongo.Client
	messages *mongo.Collection
	versions *mongo.Collection
	heads    *mongo.Collection
	counters *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		if cs, err := connstring.ParseAndValidate(uri); err == nil && cs.Database != "" {
			database = cs.Database
		} else {
			database = defaultMongoDatabase
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), mongoDisconnectWindow)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		messages: db.Collection(conversationsColl),
		versions: db.Collection(planVersionsColl),
		heads:    db.Collection(planHeadsColl),
		counters: db.Collection(messageCountersColl),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "clientId", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create conversation index: %w", err)
	}
	_, err := s.versions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "clientId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("clientId_current").
				SetPartialFilterExpression(bson.M{"isCurrent": true}),
		},
	})
	if err != nil {
		return fmt.Errorf("create plan version indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Mode() string { return "mongo" }

func (s *MongoStore) AppendMessage(ctx context.Context, clientID string, role Role, content string) (Message, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": clientID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return Message{}, fmt.Errorf("next message seq: %w", err)
	}

	doc := mongoMessage{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Seq:       counter.Seq,
		Role:      string(role),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return doc.toMessage(), nil
}

func (s *MongoStore) ListMessages(ctx context.Context, clientID string) ([]Message, error) {
	cursor, err := s.messages.Find(ctx,
		bson.M{"clientId": clientID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMessage())
	}
	return out, nil
}

func (s *MongoStore) LatestVersion(ctx context.Context, clientID string) (int, error) {
	var head mongoPlanHead
	err := s.heads.FindOne(ctx, bson.M{"_id": clientID}).Decode(&head)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("read plan head: %w", err)
	}
	return head.CurrentVersion, nil
}

func (s *MongoStore) CommitVersion(ctx context.Context, clientID string, expected int, doc plan.Document) (PlanVersion, error) {
	body, err := encodePlan(doc)
	if err != nil {
		return PlanVersion{}, err
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return PlanVersion{}, fmt.Errorf("start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	result, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var head mongoPlanHead
		err := s.heads.FindOne(sc, bson.M{"_id": clientID}).Decode(&head)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("read plan head: %w", err)
		}
		if head.CurrentVersion != expected {
			return nil, conflictError(clientID, expected, head.CurrentVersion)
		}

		row := mongoPlanVersion{
			ClientID:  clientID,
			Version:   expected + 1,
			IsCurrent: true,
			PlanJSON:  string(body),
			CreatedAt: time.Now().UTC(),
		}
		if _, err := s.versions.UpdateMany(sc,
			bson.M{"clientId": clientID, "isCurrent": true},
			bson.M{"$set": bson.M{"isCurrent": false}},
		); err != nil {
			return nil, fmt.Errorf("demote current plan: %w", err)
		}
		if _, err := s.versions.InsertOne(sc, row); err != nil {
			return nil, fmt.Errorf("insert plan version: %w", err)
		}
		if _, err := s.heads.UpdateOne(sc,
			bson.M{"_id": clientID},
			bson.M{"$set": bson.M{"currentVersion": row.Version, "updatedAt": row.CreatedAt}},
			options.Update().SetUpsert(true),
		); err != nil {
			return nil, fmt.Errorf("advance plan head: %w", err)
		}
		return row, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return PlanVersion{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return PlanVersion{}, err
	}

	row := result.(mongoPlanVersion)
	return PlanVersion{
		ClientID:  row.ClientID,
		Version:   row.Version,
		IsCurrent: true,
		Plan:      doc,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *MongoStore) CurrentVersion(ctx context.Context, clientID string) (PlanVersion, error) {
	return s.findVersion(ctx, bson.M{"clientId": clientID, "isCurrent": true})
}

func (s *MongoStore) GetVersion(ctx context.Context, clientID string, version int) (PlanVersion, error) {
	return s.findVersion(ctx, bson.M{"clientId": clientID, "version": version})
}

func (s *MongoStore) findVersion(ctx context.Context, filter bson.M) (PlanVersion, error) {
	var row mongoPlanVersion
	if err := s.versions.FindOne(ctx, filter).Decode(&row); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return PlanVersion{}, ErrNotFound
		}
		return PlanVersion{}, fmt.Errorf("find plan version: %w", err)
	}
	return row.toPlanVersion()
}

func (s *MongoStore) ListVersions(ctx context.Context, clientID string, limit int) ([]PlanVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	cursor, err := s.versions.Find(ctx,
		bson.M{"clientId": clientID},
		options.Find().SetSort(bson.D{{Key: "version", Value: -1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("query plan versions: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []mongoPlanVersion
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode plan versions: %w", err)
	}
	out := make([]PlanVersion, 0, len(rows))
	for _, row := range rows {
		v, err := row.toPlanVersion()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MongoStore) Purge(ctx context.Context, clientID string) (ResetResult, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return ResetResult{}, fmt.Errorf("start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	result, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var res ResetResult
		msgs, err := s.messages.DeleteMany(sc, bson.M{"clientId": clientID})
		if err != nil {
			return nil, fmt.Errorf("delete messages: %w", err)
		}
		res.MessagesDeleted = msgs.DeletedCount

		plans, err := s.versions.DeleteMany(sc, bson.M{"clientId": clientID})
		if err != nil {
			return nil, fmt.Errorf("delete plan versions: %w", err)
		}
		res.PlansDeleted = plans.DeletedCount

		if _, err := s.heads.DeleteOne(sc, bson.M{"_id": clientID}); err != nil {
			return nil, fmt.Errorf("delete plan head: %w", err)
		}
		if _, err := s.counters.DeleteOne(sc, bson.M{"_id": clientID}); err != nil {
			return nil, fmt.Errorf("delete message counter: %w", err)
		}
		return res, nil
	})
	if err != nil {
		return ResetResult{}, err
	}
	return result.(ResetResult), nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectWindow)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (m mongoMessage) toMessage() Message {
	return Message{
		ID:        m.ID,
		ClientID:  m.ClientID,
		Role:      Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func (r mongoPlanVersion) toPlanVersion() (PlanVersion, error) {
	doc, err := decodePlan([]byte(r.PlanJSON))
	if err != nil {
		return PlanVersion{}, err
	}
	return PlanVersion{
		ClientID:  r.ClientID,
		Version:   r.Version,
		IsCurrent: r.IsCurrent,
		Plan:      doc,
		CreatedAt: r.CreatedAt,
	}, nil
}
