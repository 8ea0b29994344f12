package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
)

// MongoConfig locates the chat history collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore persists turns as documents of a single collection. The
// timestamp index is created on first successful contact with the server, so
// the store can be opened while MongoDB is still starting.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	clock  *clock

	// mu keeps timestamp and _id order identical across concurrent appends.
	mu sync.Mutex

	readyMu sync.Mutex
	ready   atomic.Bool
}

var _ Store = (*MongoStore)(nil)

// turnDocument is the persisted layout: {_id, role, content, timestamp}.
type turnDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	Timestamp time.Time          `bson:"timestamp"`
}

func (d turnDocument) toTurn() chat.Turn {
	return chat.Turn{
		ID:        d.ID.Hex(),
		Role:      chat.Role(d.Role),
		Content:   d.Content,
		Timestamp: d.Timestamp.UTC(),
	}
}

var (
	ascending  = bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}
	descending = bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}
)

// NewMongoStore connects to cfg.URI. An unreachable server is logged, not
// returned; operations report it as *Error until the first contact succeeds.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo store: empty uri")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, errors.New("mongo store: database and collection are required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo store: connect")
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		clock:  newClock(nil),
	}
	if err := s.ensureReady(ctx); err != nil {
		log.Warn().Err(err).Msg("mongo not reachable yet, will retry on first use")
	}
	return s, nil
}

// ensureReady creates the timestamp index and restores the clock from the
// newest stored turn. It runs until it succeeds once.
func (s *MongoStore) ensureReady(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.ready.Load() {
		return nil
	}

	if _, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: ascending}); err != nil {
		return wrapErr("init", err, "create timestamp index")
	}

	var last turnDocument
	err := s.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(descending)).Decode(&last)
	switch {
	case err == nil:
		s.clock.observe(last.Timestamp)
	case !errors.Is(err, mongo.ErrNoDocuments):
		return wrapErr("init", err, "read last timestamp")
	}

	s.ready.Store(true)
	return nil
}

func (s *MongoStore) Append(ctx context.Context, role chat.Role, content string) (chat.Turn, error) {
	if err := validateTurn(role, content); err != nil {
		return chat.Turn{}, err
	}

	if err := s.ensureReady(ctx); err != nil {
		return chat.Turn{}, err
	}

	// BSON datetimes carry millisecond precision.
	s.mu.Lock()
	doc := turnDocument{
		ID:        primitive.NewObjectID(),
		Role:      string(role),
		Content:   content,
		Timestamp: s.clock.next().Truncate(time.Millisecond),
	}
	s.mu.Unlock()

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return chat.Turn{}, wrapErr("append", err, "insert turn")
	}
	return doc.toTurn(), nil
}

func (s *MongoStore) ListAll(ctx context.Context) ([]chat.Turn, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	turns, err := s.find(ctx, options.Find().SetSort(ascending))
	if err != nil {
		return nil, wrapErr("list", err, "find turns")
	}
	return turns, nil
}

func (s *MongoStore) ListRecent(ctx context.Context, n int) ([]chat.Turn, error) {
	if n <= 0 {
		return []chat.Turn{}, nil
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	turns, err := s.find(ctx, options.Find().SetSort(descending).SetLimit(int64(n)))
	if err != nil {
		return nil, wrapErr("list_recent", err, "find turns")
	}
	reverse(turns)
	return turns, nil
}

func (s *MongoStore) find(ctx context.Context, opts *options.FindOptions) ([]chat.Turn, error) {
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []turnDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	turns := make([]chat.Turn, 0, len(docs))
	for _, d := range docs {
		turns = append(turns, d.toTurn())
	}
	return turns, nil
}

func (s *MongoStore) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, wrapErr("clear", err, "delete turns")
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.client.Ping(ctx, readpref.Primary()), "ping mongo")
}

func (s *MongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
