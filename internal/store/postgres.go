package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

// Postgres stores each collection as a table of JSONB documents keyed by id.
type Postgres struct {
	Client  *sql.DB
	schemas map[string]Schema
}

// NewPostgres creates a Postgres connection with sane defaults.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{Client: db, schemas: make(map[string]Schema)}, nil
}

func (p *Postgres) Migrate(ctx context.Context, s Schema) error {
	p.schemas[s.Name] = s
	table := tableName(s.Name)
	stmts := []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			doc         JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table)}
	for _, key := range s.Unique {
		stmts = append(stmts, fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`,
			indexName(s.Name, key, "key"), table, indexExprs(key)))
	}
	for _, key := range s.Indexes {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			indexName(s.Name, key, "idx"), table, indexExprs(key)))
	}
	for _, stmt := range stmts {
		if _, err := p.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.Name, err)
		}
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, coll, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", coll, err)
	}
	_, err = p.Client.ExecContext(ctx,
		`INSERT INTO `+tableName(coll)+` (id, doc) VALUES ($1, $2)`, id, string(raw))
	return mapPgError(coll, err)
}

func (p *Postgres) Replace(ctx context.Context, coll, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s document: %w", coll, err)
	}
	res, err := p.Client.ExecContext(ctx,
		`UPDATE `+tableName(coll)+` SET doc = $2 WHERE id = $1`, id, string(raw))
	if err != nil {
		return mapPgError(coll, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FindOne(ctx context.Context, coll string, q Query) (Decoder, error) {
	q.Limit = 1
	res, err := p.Find(ctx, coll, q)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res[0], nil
}

func (p *Postgres) Find(ctx context.Context, coll string, q Query) ([]Decoder, error) {
	query, args := findSQL(coll, p.schemas[coll], q)
	return p.queryDocs(ctx, query, args...)
}

func findSQL(coll string, s Schema, q Query) (string, []any) {
	where, args := whereClause(s, q.Where)
	query := `SELECT doc FROM ` + tableName(coll) + where
	if q.Sort != nil {
		query += " ORDER BY " + orderBy(s, *q.Sort)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (p *Postgres) Count(ctx context.Context, coll string, conds ...Cond) (int64, error) {
	where, args := whereClause(p.schemas[coll], conds)
	var n int64
	err := p.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tableName(coll)+where, args...).Scan(&n)
	return n, err
}

func (p *Postgres) DeleteIDs(ctx context.Context, coll string, ids []string) (int64, error) {
	res, err := p.Client.ExecContext(ctx, `DELETE FROM `+tableName(coll)+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) LatestBy(ctx context.Context, coll, group string, s Sort) ([]Decoder, error) {
	return p.queryDocs(ctx, latestBySQL(coll, p.schemas[coll], group, s))
}

// latestBySQL keeps the first row of every group under the sort order.
func latestBySQL(coll string, s Schema, group string, sort Sort) string {
	g := fieldExpr(group)
	return `SELECT DISTINCT ON (` + g + `) doc FROM ` + tableName(coll) +
		` ORDER BY ` + g + `, ` + orderBy(s, sort)
}

// orderBy sorts missing values before present ones, as mongo and the memory engine do.
// Ties break on id.
func orderBy(s Schema, sort Sort) string {
	if sort.Desc {
		return sortExpr(s, sort.Field) + " DESC NULLS LAST, id DESC"
	}
	return sortExpr(s, sort.Field) + " ASC NULLS FIRST, id ASC"
}

func (p *Postgres) Ping(ctx context.Context) error { return p.Client.PingContext(ctx) }

// Close closes the underlying connection.
func (p *Postgres) Close(context.Context) error {
	if p == nil || p.Client == nil {
		return nil
	}
	return p.Client.Close()
}

func (p *Postgres) queryDocs(ctx context.Context, query string, args ...any) ([]Decoder, error) {
	rows, err := p.Client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Decoder
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, jsonDecoder(raw))
	}
	return out, rows.Err()
}

func tableName(coll string) string { return pgx.Identifier{coll}.Sanitize() }

func indexName(coll string, key []string, suffix string) string {
	return pgx.Identifier{coll + "_" + strings.Join(key, "_") + "_" + suffix}.Sanitize()
}

func indexExprs(key []string) string {
	parts := make([]string, len(key))
	for i, f := range key {
		parts[i] = "(" + fieldExpr(f) + ")"
	}
	return strings.Join(parts, ", ")
}

func fieldExpr(field string) string {
	if field == IDField {
		return "id"
	}
	return "doc->>'" + strings.ReplaceAll(field, "'", "''") + "'"
}

func sortExpr(s Schema, field string) string {
	switch {
	case s.isTime(field):
		return "(" + fieldExpr(field) + ")::timestamptz"
	case s.isNumber(field):
		return "(" + fieldExpr(field) + ")::double precision"
	}
	return fieldExpr(field)
}

func whereClause(s Schema, conds []Cond) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}
	var args []any
	clauses := make([]string, 0, len(conds))
	for _, c := range conds {
		expr := fieldExpr(c.Field)
		if c.Op == OpExists {
			clauses = append(clauses, "COALESCE("+expr+", '') <> ''")
			continue
		}
		value := c.Value
		switch v := value.(type) {
		case time.Time, *time.Time:
			expr = "(" + expr + ")::timestamptz"
			t, _ := timeValue(v)
			value = t
		case bool:
			expr = "(" + expr + ")::boolean"
		case int, int32, int64, float32, float64:
			expr = "(" + expr + ")::double precision"
		default:
			if s.isTime(c.Field) {
				expr = "(" + expr + ")::timestamptz"
			}
		}
		args = append(args, value)
		op := " = "
		switch c.Op {
		case OpGte:
			op = " >= "
		case OpLt:
			op = " < "
		}
		clauses = append(clauses, fmt.Sprintf("%s%s$%d", expr, op, len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func mapPgError(coll string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", coll, pgErr.ConstraintName, ErrDuplicate)
	}
	return err
}
