package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by single-document reads and replaces that match nothing.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when a write violates a declared unique key.
	ErrDuplicate = errors.New("duplicate key")
)

// IDField names the document id in queries. Engines map it to their own primary key.
const IDField = "id"

// Schema declares a collection and the keys the engine must enforce or index.
type Schema struct {
	Name string
	// Times lists fields that hold timestamps so engines can compare and sort them as time.
	Times []string
	// Numbers lists numeric fields so engines sort them by value.
	Numbers []string
	// Unique lists compound keys that must be unique across the collection.
	Unique [][]string
	// Indexes lists non-unique lookup keys.
	Indexes [][]string
}

func (s Schema) isTime(field string) bool { return contains(s.Times, field) }

func (s Schema) isNumber(field string) bool { return contains(s.Numbers, field) }

func contains(list []string, v string) bool {
	for _, f := range list {
		if f == v {
			return true
		}
	}
	return false
}

// Op is a comparison operator in a Cond.
type Op int

const (
	OpEq Op = iota
	OpGte
	OpLt
	OpExists
)

// Cond is a single field predicate. All conditions of a Query are ANDed.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Cond  { return Cond{Field: field, Op: OpEq, Value: value} }
func Gte(field string, value any) Cond { return Cond{Field: field, Op: OpGte, Value: value} }
func Lt(field string, value any) Cond  { return Cond{Field: field, Op: OpLt, Value: value} }
func Exists(field string) Cond         { return Cond{Field: field, Op: OpExists} }

// Sort orders results by one field. Ties break on document id in the same direction.
type Sort struct {
	Field string
	Desc  bool
}

// Query selects documents from a collection.
type Query struct {
	Where []Cond
	Sort  *Sort
	Limit int
}

// Where starts a query from a list of conditions.
func Where(conds ...Cond) Query { return Query{Where: conds} }

// OrderBy sets the sort of q.
func (q Query) OrderBy(field string, desc bool) Query {
	q.Sort = &Sort{Field: field, Desc: desc}
	return q
}

// Take limits q to n documents. Zero means no limit.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Decoder decodes one stored document into v.
type Decoder interface {
	Decode(v any) error
}

// Backend is the persistence adapter every engine implements.
type Backend interface {
	// Migrate creates the collection and its keys if they do not exist.
	Migrate(ctx context.Context, s Schema) error
	Insert(ctx context.Context, coll, id string, doc any) error
	Replace(ctx context.Context, coll, id string, doc any) error
	FindOne(ctx context.Context, coll string, q Query) (Decoder, error)
	Find(ctx context.Context, coll string, q Query) ([]Decoder, error)
	Count(ctx context.Context, coll string, conds ...Cond) (int64, error)
	DeleteIDs(ctx context.Context, coll string, ids []string) (int64, error)
	// LatestBy returns, for every distinct value of group, the document that sorts first by s.
	LatestBy(ctx context.Context, coll, group string, s Sort) ([]Decoder, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewID returns a time-ordered document id. Lexical order of ids follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Document is implemented by every entity stored through a Collection.
type Document interface {
	DocumentID() string
}

// Collection is a typed view over one collection of a Backend.
type Collection[T Document] struct {
	backend Backend
	schema  Schema
}

// NewCollection binds schema s of backend b to the document type T.
func NewCollection[T Document](b Backend, s Schema) *Collection[T] {
	return &Collection[T]{backend: b, schema: s}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.schema.Name }

// Migrate ensures the collection exists with its declared keys.
func (c *Collection[T]) Migrate(ctx context.Context) error {
	return c.backend.Migrate(ctx, c.schema)
}

func (c *Collection[T]) Insert(ctx context.Context, doc T) error {
	if doc.DocumentID() == "" {
		return fmt.Errorf("%s: insert without id", c.schema.Name)
	}
	return c.backend.Insert(ctx, c.schema.Name, doc.DocumentID(), doc)
}

func (c *Collection[T]) Replace(ctx context.Context, doc T) error {
	return c.backend.Replace(ctx, c.schema.Name, doc.DocumentID(), doc)
}

// Get returns the document with the given id or ErrNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	return c.FindOne(ctx, Where(Eq(IDField, id)))
}

func (c *Collection[T]) FindOne(ctx context.Context, q Query) (T, error) {
	var out T
	d, err := c.backend.FindOne(ctx, c.schema.Name, q)
	if err != nil {
		return out, err
	}
	if err := d.Decode(&out); err != nil {
		return out, fmt.Errorf("%s: decode: %w", c.schema.Name, err)
	}
	return out, nil
}

func (c *Collection[T]) Find(ctx context.Context, q Query) ([]T, error) {
	ds, err := c.backend.Find(ctx, c.schema.Name, q)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(ds)
}

func (c *Collection[T]) Count(ctx context.Context, conds ...Cond) (int64, error) {
	return c.backend.Count(ctx, c.schema.Name, conds...)
}

func (c *Collection[T]) DeleteIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return c.backend.DeleteIDs(ctx, c.schema.Name, ids)
}

func (c *Collection[T]) LatestBy(ctx context.Context, group string, s Sort) ([]T, error) {
	ds, err := c.backend.LatestBy(ctx, c.schema.Name, group, s)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(ds)
}

func (c *Collection[T]) decodeAll(ds []Decoder) ([]T, error) {
	out := make([]T, 0, len(ds))
	for _, d := range ds {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", c.schema.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Open connects the engine named by kind: "postgres", "mongo" or "memory".
func Open(ctx context.Context, kind string, opts Options) (Backend, error) {
	switch kind {
	case "postgres", "":
		return NewPostgres(ctx, opts.DatabaseURL)
	case "mongo":
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}

// Options carries engine connection settings.
type Options struct {
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}
