package store

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores each collection as a MongoDB collection. Entities carry bson tags whose
// names match their json tags, with the id mapped to _id.
type Mongo struct {
	Client *mongo.Client
	db     *mongo.Database
}

type bsonDecoder bson.Raw

func (d bsonDecoder) Decode(v any) error { return bson.Unmarshal(d, v) }

// NewMongo connects to uri and selects database.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Mongo{Client: client, db: client.Database(database)}, nil
}

func (m *Mongo) Migrate(ctx context.Context, s Schema) error {
	var models []mongo.IndexModel
	for _, key := range s.Unique {
		models = append(models, mongo.IndexModel{
			Keys:    indexKeys(key),
			Options: options.Index().SetUnique(true).SetName(s.Name + "_" + strings.Join(key, "_") + "_key"),
		})
	}
	for _, key := range s.Indexes {
		models = append(models, mongo.IndexModel{
			Keys:    indexKeys(key),
			Options: options.Index().SetName(s.Name + "_" + strings.Join(key, "_") + "_idx"),
		})
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := m.db.Collection(s.Name).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("migrate %s: %w", s.Name, err)
	}
	return nil
}

func (m *Mongo) Insert(ctx context.Context, coll, _ string, doc any) error {
	_, err := m.db.Collection(coll).InsertOne(ctx, doc)
	return mapMongoError(coll, err)
}

func (m *Mongo) Replace(ctx context.Context, coll, id string, doc any) error {
	res, err := m.db.Collection(coll).ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc)
	if err != nil {
		return mapMongoError(coll, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) FindOne(ctx context.Context, coll string, q Query) (Decoder, error) {
	q.Limit = 1
	res, err := m.Find(ctx, coll, q)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res[0], nil
}

func (m *Mongo) Find(ctx context.Context, coll string, q Query) ([]Decoder, error) {
	opts := options.Find()
	if q.Sort != nil {
		opts.SetSort(sortKeys(*q.Sort))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := m.db.Collection(coll).Find(ctx, mongoFilter(q.Where), opts)
	if err != nil {
		return nil, err
	}
	return collectRaw(ctx, cur)
}

func (m *Mongo) Count(ctx context.Context, coll string, conds ...Cond) (int64, error) {
	return m.db.Collection(coll).CountDocuments(ctx, mongoFilter(conds))
}

func (m *Mongo) DeleteIDs(ctx context.Context, coll string, ids []string) (int64, error) {
	res, err := m.db.Collection(coll).DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *Mongo) LatestBy(ctx context.Context, coll, group string, s Sort) ([]Decoder, error) {
	cur, err := m.db.Collection(coll).Aggregate(ctx, latestByPipeline(group, s))
	if err != nil {
		return nil, err
	}
	return collectRaw(ctx, cur)
}

// latestByPipeline keeps the first document of every group under the sort order.
func latestByPipeline(group string, s Sort) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$sort", Value: sortKeys(s)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + mongoField(group)},
			{Key: "doc", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}},
	}
}

func (m *Mongo) Ping(ctx context.Context) error { return m.Client.Ping(ctx, nil) }

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	return m.Client.Disconnect(ctx)
}

func collectRaw(ctx context.Context, cur *mongo.Cursor) ([]Decoder, error) {
	defer cur.Close(ctx)
	var out []Decoder
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		out = append(out, bsonDecoder(raw))
	}
	return out, cur.Err()
}

func mongoField(field string) string {
	if field == IDField {
		return "_id"
	}
	return field
}

func indexKeys(key []string) bson.D {
	keys := make(bson.D, 0, len(key))
	for _, f := range key {
		keys = append(keys, bson.E{Key: mongoField(f), Value: 1})
	}
	return keys
}

func sortKeys(s Sort) bson.D {
	dir := 1
	if s.Desc {
		dir = -1
	}
	keys := bson.D{{Key: mongoField(s.Field), Value: dir}}
	if s.Field != IDField {
		keys = append(keys, bson.E{Key: "_id", Value: dir})
	}
	return keys
}

func mongoFilter(conds []Cond) bson.D {
	if len(conds) == 0 {
		return bson.D{}
	}
	parts := make(bson.A, 0, len(conds))
	for _, c := range conds {
		field := mongoField(c.Field)
		value := c.Value
		if t, ok := timeValue(value); ok {
			value = t
		}
		switch c.Op {
		case OpEq:
			parts = append(parts, bson.D{{Key: field, Value: value}})
		case OpGte:
			parts = append(parts, bson.D{{Key: field, Value: bson.D{{Key: "$gte", Value: value}}}})
		case OpLt:
			parts = append(parts, bson.D{{Key: field, Value: bson.D{{Key: "$lt", Value: value}}}})
		case OpExists:
			parts = append(parts, bson.D{{Key: field, Value: bson.D{
				{Key: "$exists", Value: true},
				{Key: "$nin", Value: bson.A{nil, ""}},
			}}})
		}
	}
	return bson.D{{Key: "$and", Value: parts}}
}

func mapMongoError(coll string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %v: %w", coll, err, ErrDuplicate)
	}
	return err
}
