// Package mongo is the MongoDB DocumentStore.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

const connectTimeout = 10 * time.Second

func init() {
	source.Register("mongo", func(ctx context.Context, cfg source.Config) (source.DocumentStore, error) {
		return Open(ctx, cfg.URI, cfg.Database)
	})
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// indexed holds "collection/keyField" pairs whose unique index exists.
	indexed sync.Map
}

var _ source.DocumentStore = (*Store)(nil)

// Open connects and pings. Any failure to reach the server is
// syncerr.ErrSourceUnavailable.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" || database == "" {
		return nil, fmt.Errorf("mongo: uri and database are required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, syncerr.SourceUnavailable(fmt.Errorf("mongo: connect: %w", err))
	}
	s := &Store{client: client, db: client.Database(database)}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return syncerr.SourceUnavailable(fmt.Errorf("mongo: ping: %w", err))
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func noID() bson.D { return bson.D{{Key: source.StoreIDField, Value: 0}} }

func (s *Store) Read(ctx context.Context, collection string) ([]document.Record, error) {
	cur, err := s.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetProjection(noID()))
	if err != nil {
		return nil, classify(fmt.Errorf("mongo: find %s: %w", collection, err))
	}
	defer cur.Close(ctx)

	var out []document.Record
	for cur.Next(ctx) {
		var raw bson.D
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("mongo: decode %s: %w", collection, err)
		}
		rec, err := recordFromBSON(raw)
		if err != nil {
			return nil, fmt.Errorf("mongo: %s document %d: %w", collection, len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, classify(fmt.Errorf("mongo: cursor %s: %w", collection, err))
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, collection, keyField string, key document.Value) (document.Record, bool, error) {
	filter := bson.D{{Key: keyField, Value: toBSON(key)}}
	var raw bson.D
	err := s.db.Collection(collection).FindOne(ctx, filter, options.FindOne().SetProjection(noID())).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(fmt.Errorf("mongo: find one %s: %w", collection, err))
	}
	rec, err := recordFromBSON(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// InsertOne relies on a unique index over keyField, created on first use, so
// concurrent inserts of one key leave a single document.
func (s *Store) InsertOne(ctx context.Context, collection, keyField string, rec document.Record) error {
	if err := s.ensureUnique(ctx, collection, keyField); err != nil {
		return err
	}
	_, err := s.db.Collection(collection).InsertOne(ctx, docToBSON(rec.Without(source.StoreIDField)))
	return insertErr(collection, keyField, rec[keyField], err)
}

func (s *Store) ensureUnique(ctx context.Context, collection, keyField string) error {
	id := collection + "/" + keyField
	if _, ok := s.indexed.Load(id); ok {
		return nil
	}
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: keyField, Value: 1}},
		Options: options.Index().SetUnique(true).SetName(keyField + "_unique"),
	}
	if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
		return classify(fmt.Errorf("mongo: unique index %s.%s: %w", collection, keyField, err))
	}
	s.indexed.Store(id, struct{}{})
	return nil
}

func insertErr(collection, keyField string, key document.Value, err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("mongo: insert %s %s=%s: %w", collection, keyField, document.KeyString(key), syncerr.ErrDuplicateKey)
	default:
		return classify(fmt.Errorf("mongo: insert %s: %w", collection, err))
	}
}

func (s *Store) UpdateOne(ctx context.Context, collection, keyField string, key document.Value, set document.Record) (bool, error) {
	filter := bson.D{{Key: keyField, Value: toBSON(key)}}
	update := bson.D{{Key: "$set", Value: docToBSON(set)}}
	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, classify(fmt.Errorf("mongo: update %s: %w", collection, err))
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) StampAll(ctx context.Context, collection string, fields document.Record) (int64, error) {
	update := bson.D{{Key: "$set", Value: docToBSON(fields)}}
	res, err := s.db.Collection(collection).UpdateMany(ctx, bson.D{}, update)
	if err != nil {
		return 0, classify(fmt.Errorf("mongo: stamp %s: %w", collection, err))
	}
	return res.MatchedCount, nil
}

func classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return syncerr.SourceUnavailable(err)
	}
	return err
}

// ---- BSON conversion ----

func recordFromBSON(d bson.D) (document.Record, error) {
	rec := make(document.Record, len(d))
	for _, e := range d {
		if e.Key == source.StoreIDField {
			continue
		}
		v, err := valueFromBSON(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		rec[e.Key] = v
	}
	return rec, nil
}

func valueFromBSON(v any) (document.Value, error) {
	switch t := v.(type) {
	case bson.D:
		rec, err := recordFromBSON(t)
		if err != nil {
			return nil, err
		}
		return document.Object(rec), nil
	case bson.M:
		obj := make(document.Object, len(t))
		for k, e := range t {
			ev, err := valueFromBSON(e)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	case bson.A:
		arr := make(document.Array, len(t))
		for i, e := range t {
			ev, err := valueFromBSON(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case bson.DateTime:
		return document.TimeOf(t.Time().UTC()), nil
	case bson.Timestamp:
		return document.TimeOf(time.Unix(int64(t.T), 0).UTC()), nil
	case bson.ObjectID:
		return document.String(t.Hex()), nil
	case bson.Decimal128:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return document.String(t.String()), nil
		}
		return document.Float(f), nil
	case bson.Binary:
		return document.String(string(t.Data)), nil
	case bson.Null, bson.Undefined:
		return document.Null{}, nil
	default:
		return document.FromAny(v)
	}
}

func docToBSON(rec document.Record) bson.D {
	d := make(bson.D, 0, len(rec))
	for _, k := range rec.SortedKeys() {
		d = append(d, bson.E{Key: k, Value: toBSON(rec[k])})
	}
	return d
}

func toBSON(v document.Value) any {
	switch t := v.(type) {
	case document.Object:
		return docToBSON(document.Record(t))
	case document.Array:
		a := make(bson.A, len(t))
		for i, e := range t {
			a[i] = toBSON(e)
		}
		return a
	case document.Time:
		return bson.NewDateTimeFromTime(t.Time)
	default:
		return document.ToAny(v)
	}
}
